package store

import (
	"context"
	"testing"
	"time"

	"github.com/aict-platform/aict/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestExams(t *testing.T) *Exams {
	t.Helper()
	return NewExams(newTestStore(t))
}

func TestRepositoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if got != nil {
		t.Fatalf("Get missing = %q, want nil", got)
	}

	if err := s.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("Set upsert: %v", err)
	}
	got, err = s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("Get = %q, want v2", got)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := s.Get(ctx, "k"); got != nil {
		t.Fatalf("Get after Delete = %q, want nil", got)
	}
	// Deleting again is fine.
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	e := newTestExams(t)
	ctx := context.Background()

	if got, err := e.Session(ctx, "nope"); err != nil || got != nil {
		t.Fatalf("Session missing = %v, %v; want nil, nil", got, err)
	}

	submitted := time.Date(2026, 3, 1, 9, 18, 0, 0, time.UTC)
	s := &model.ExamSession{
		ID:      "sess-1",
		Status:  model.StatusSubmitted,
		JobRole: "HR",
		Answers: []model.Answer{
			{PartID: model.Part1, QuestionID: "q1", Value: []byte(`"a"`)},
		},
		Flags:       []string{"q2"},
		SubmittedAt: &submitted,
	}
	if err := e.SaveSession(ctx, s); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := e.Session(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Status != model.StatusSubmitted || len(got.Answers) != 1 || !got.Flagged("q2") {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.SubmittedAt == nil || !got.SubmittedAt.Equal(submitted) {
		t.Fatalf("SubmittedAt = %v, want %v", got.SubmittedAt, submitted)
	}
}

func TestTaskResultsRoundTrip(t *testing.T) {
	e := newTestExams(t)
	ctx := context.Background()

	if got, err := e.TaskResults(ctx, "sess-1"); err != nil || got != nil {
		t.Fatalf("TaskResults missing = %v, %v; want nil, nil", got, err)
	}

	results := []model.TaskResult{
		{TaskID: "t1", Score: 15, MaxScore: 20, Feedback: "solid"},
	}
	if err := e.SaveTaskResults(ctx, "sess-1", results); err != nil {
		t.Fatalf("SaveTaskResults: %v", err)
	}
	got, err := e.TaskResults(ctx, "sess-1")
	if err != nil {
		t.Fatalf("TaskResults: %v", err)
	}
	if len(got) != 1 || got[0].TaskID != "t1" || got[0].Score != 15 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLeaveCounterMonotonic(t *testing.T) {
	e := newTestExams(t)
	ctx := context.Background()

	if err := e.RecordLeaves(ctx, "sess-1", 2); err != nil {
		t.Fatal(err)
	}
	// A stale lower write must not roll the counter back.
	if err := e.RecordLeaves(ctx, "sess-1", 1); err != nil {
		t.Fatal(err)
	}
	got, err := e.Leaves(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Fatalf("Leaves = %d, want 2", got)
	}

	if err := e.RecordLeaves(ctx, "sess-1", 3); err != nil {
		t.Fatal(err)
	}
	if got, _ := e.Leaves(ctx, "sess-1"); got != 3 {
		t.Fatalf("Leaves = %d, want 3", got)
	}
}

func TestIssueCertificateIdempotent(t *testing.T) {
	e := newTestExams(t)
	ctx := context.Background()

	first := model.CertificateData{
		CertificateID: "AICT-2026-000001",
		HolderName:    "Dana Kim",
		TotalScore:    84,
	}
	issued, err := e.IssueCertificate(ctx, "sess-1", first)
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}
	if issued.CertificateID != first.CertificateID {
		t.Fatalf("issued = %+v", issued)
	}

	// A second issue attempt with different data returns the original.
	second := model.CertificateData{CertificateID: "AICT-2026-999999", TotalScore: 99}
	issued, err = e.IssueCertificate(ctx, "sess-1", second)
	if err != nil {
		t.Fatalf("re-issue: %v", err)
	}
	if issued.CertificateID != first.CertificateID || issued.TotalScore != 84 {
		t.Fatalf("re-issue returned %+v, want the original certificate", issued)
	}

	// The discarded candidate must not be retrievable.
	if got, _ := e.CertificateByID(ctx, "AICT-2026-999999"); got != nil {
		t.Fatalf("discarded certificate was stored: %+v", got)
	}
	got, err := e.CertificateForSession(ctx, "sess-1")
	if err != nil || got == nil {
		t.Fatalf("CertificateForSession = %v, %v", got, err)
	}
	if got.HolderName != "Dana Kim" {
		t.Fatalf("stored certificate = %+v", got)
	}
}

func TestHistoryBounded(t *testing.T) {
	e := newTestExams(t)
	ctx := context.Background()

	for i := 0; i < historyLimit+3; i++ {
		err := e.AppendHistory(ctx, model.HistoryEntry{
			SessionID: string(rune('a' + i)),
			Score:     70 + i,
			Passed:    true,
		})
		if err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	history, err := e.History(ctx)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != historyLimit {
		t.Fatalf("history len = %d, want %d", len(history), historyLimit)
	}
	// Newest first.
	if history[0].Score != 70+historyLimit+2 {
		t.Fatalf("newest entry score = %d, want %d", history[0].Score, 70+historyLimit+2)
	}
}

func TestPreferences(t *testing.T) {
	e := newTestExams(t)
	ctx := context.Background()

	if got, err := e.Preference(ctx, "language"); err != nil || got != "" {
		t.Fatalf("missing preference = %q, %v", got, err)
	}
	if err := e.SetPreference(ctx, "language", "ko"); err != nil {
		t.Fatal(err)
	}
	if got, _ := e.Preference(ctx, "language"); got != "ko" {
		t.Fatalf("Preference = %q, want ko", got)
	}
	if err := e.DeletePreference(ctx, "language"); err != nil {
		t.Fatal(err)
	}
	if got, _ := e.Preference(ctx, "language"); got != "" {
		t.Fatalf("Preference after delete = %q, want empty", got)
	}
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)

	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("UserCount = %d, want 0", count)
	}

	id, err := s.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: "$2a$10$fakehash",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == 0 {
		t.Fatal("CreateUser returned id 0")
	}

	u, err := s.GetUserByUsername("admin")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.DisplayName != "Administrator" {
		t.Fatalf("user = %+v", u)
	}

	missing, err := s.GetUserByUsername("nobody")
	if err != nil || missing != nil {
		t.Fatalf("missing user = %v, %v; want nil, nil", missing, err)
	}
}
