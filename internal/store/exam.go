package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aict-platform/aict/internal/model"
)

// Key prefixes. Each concern owns a distinct key space so one write
// can never clobber another concern's state.
const (
	keySession     = "session:"             // session:<sessionID> -> ExamSession
	keyGrading     = "grading:"             // grading:<sessionID> -> []TaskResult
	keyLeaves      = "leaves:"              // leaves:<sessionID>  -> monotonic counter
	keyCert        = "certificate:"         // certificate:<certID> -> CertificateData
	keyCertSession = "certificate:session:" // certificate:session:<sessionID> -> certID
	keyHistory     = "history"              // -> []HistoryEntry, newest first
	keyPref        = "pref:"                // pref:<name> -> raw value
)

// historyLimit bounds the stored attempt history.
const historyLimit = 10

// Exams layers the exam-domain accessors over a Repository.
type Exams struct {
	repo Repository
}

// NewExams wraps a repository.
func NewExams(repo Repository) *Exams {
	return &Exams{repo: repo}
}

// SaveSession persists a session snapshot under its own key.
func (e *Exams) SaveSession(ctx context.Context, s *model.ExamSession) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return e.repo.Set(ctx, keySession+s.ID, raw)
}

// Session loads a session snapshot. Returns (nil, nil) when absent.
func (e *Exams) Session(ctx context.Context, id string) (*model.ExamSession, error) {
	raw, err := e.repo.Get(ctx, keySession+id)
	if err != nil || raw == nil {
		return nil, err
	}
	var s model.ExamSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

// SaveTaskResults stores the grading outcome for a session.
func (e *Exams) SaveTaskResults(ctx context.Context, sessionID string, results []model.TaskResult) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode task results: %w", err)
	}
	return e.repo.Set(ctx, keyGrading+sessionID, raw)
}

// TaskResults loads the grading outcome for a session, nil when absent.
func (e *Exams) TaskResults(ctx context.Context, sessionID string) ([]model.TaskResult, error) {
	raw, err := e.repo.Get(ctx, keyGrading+sessionID)
	if err != nil || raw == nil {
		return nil, err
	}
	var results []model.TaskResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("decode task results for %s: %w", sessionID, err)
	}
	return results, nil
}

// RecordLeaves stores the tab-leave counter for a session. The counter
// only moves forward: a lower value than the stored one is discarded.
func (e *Exams) RecordLeaves(ctx context.Context, sessionID string, count int) error {
	current, err := e.Leaves(ctx, sessionID)
	if err != nil {
		return err
	}
	if count <= current {
		return nil
	}
	return e.repo.Set(ctx, keyLeaves+sessionID, []byte(strconv.Itoa(count)))
}

// Leaves returns the stored tab-leave counter, zero when absent.
func (e *Exams) Leaves(ctx context.Context, sessionID string) (int, error) {
	raw, err := e.repo.Get(ctx, keyLeaves+sessionID)
	if err != nil || raw == nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("decode leave counter for %s: %w", sessionID, err)
	}
	return n, nil
}

// IssueCertificate stores a certificate for a session. Issuing is
// idempotent: if the session already has one, the stored certificate is
// returned unchanged and the candidate data is discarded.
func (e *Exams) IssueCertificate(ctx context.Context, sessionID string, data model.CertificateData) (model.CertificateData, error) {
	if existing, err := e.CertificateForSession(ctx, sessionID); err != nil {
		return model.CertificateData{}, err
	} else if existing != nil {
		return *existing, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return model.CertificateData{}, fmt.Errorf("encode certificate: %w", err)
	}
	if err := e.repo.Set(ctx, keyCert+data.CertificateID, raw); err != nil {
		return model.CertificateData{}, err
	}
	if err := e.repo.Set(ctx, keyCertSession+sessionID, []byte(data.CertificateID)); err != nil {
		return model.CertificateData{}, err
	}
	return data, nil
}

// CertificateByID loads a certificate, (nil, nil) when absent.
func (e *Exams) CertificateByID(ctx context.Context, certificateID string) (*model.CertificateData, error) {
	raw, err := e.repo.Get(ctx, keyCert+certificateID)
	if err != nil || raw == nil {
		return nil, err
	}
	var data model.CertificateData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode certificate %s: %w", certificateID, err)
	}
	return &data, nil
}

// CertificateForSession resolves the certificate issued for a session,
// (nil, nil) when none has been issued.
func (e *Exams) CertificateForSession(ctx context.Context, sessionID string) (*model.CertificateData, error) {
	id, err := e.repo.Get(ctx, keyCertSession+sessionID)
	if err != nil || id == nil {
		return nil, err
	}
	return e.CertificateByID(ctx, string(id))
}

// AppendHistory prepends an attempt to the stored history, keeping at
// most the newest entries.
func (e *Exams) AppendHistory(ctx context.Context, entry model.HistoryEntry) error {
	history, err := e.History(ctx)
	if err != nil {
		return err
	}
	history = append([]model.HistoryEntry{entry}, history...)
	if len(history) > historyLimit {
		history = history[:historyLimit]
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return e.repo.Set(ctx, keyHistory, raw)
}

// History returns the stored attempts, newest first.
func (e *Exams) History(ctx context.Context) ([]model.HistoryEntry, error) {
	raw, err := e.repo.Get(ctx, keyHistory)
	if err != nil || raw == nil {
		return nil, err
	}
	var history []model.HistoryEntry
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return history, nil
}

// SetPreference stores a named preference value.
func (e *Exams) SetPreference(ctx context.Context, name, value string) error {
	return e.repo.Set(ctx, keyPref+name, []byte(value))
}

// Preference returns a named preference, empty string when absent.
func (e *Exams) Preference(ctx context.Context, name string) (string, error) {
	raw, err := e.repo.Get(ctx, keyPref+name)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DeletePreference removes a named preference.
func (e *Exams) DeletePreference(ctx context.Context, name string) error {
	return e.repo.Delete(ctx, keyPref+name)
}
