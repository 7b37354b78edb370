// Package session manages the mutable state of one exam attempt:
// answer upserts, review flags, navigation, submission, and the
// autosave loop that keeps the persisted copy current.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aict-platform/aict/internal/model"
)

// Saver persists a session snapshot. Implementations must tolerate
// being called with the same snapshot more than once.
type Saver interface {
	SaveSession(ctx context.Context, s *model.ExamSession) error
}

// SaveStatus is the outcome of the most recent persistence attempt.
type SaveStatus string

const (
	StatusSaved  SaveStatus = "saved"
	StatusSaving SaveStatus = "saving"
	StatusError  SaveStatus = "error"
)

// ErrAlreadySubmitted is returned by Submit on a session that has
// already been submitted.
var ErrAlreadySubmitted = errors.New("session already submitted")

// Manager wraps one ExamSession. All mutations and saves are
// serialized through one mutex, so persisted snapshots are written in
// the order the mutations happened. A failed save never blocks further
// work on the attempt; the next mutation or autosave tick retries.
type Manager struct {
	mu      sync.Mutex
	session *model.ExamSession
	saver   Saver
	status  SaveStatus
	lastErr error
	dirty   bool

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewManager wraps an existing session. If autosave is positive a
// background loop flushes pending changes at that interval until Close
// is called.
func NewManager(s *model.ExamSession, saver Saver, autosave time.Duration) *Manager {
	m := &Manager{
		session: s,
		saver:   saver,
		status:  StatusSaved,
		done:    make(chan struct{}),
	}
	if autosave > 0 {
		m.ticker = time.NewTicker(autosave)
		m.wg.Add(1)
		go m.autosaveLoop()
	}
	return m
}

func (m *Manager) autosaveLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ticker.C:
			if err := m.Flush(context.Background()); err != nil {
				slog.Warn("autosave failed", "session", m.SessionID(), "error", err)
			}
		case <-m.done:
			return
		}
	}
}

// SessionID returns the attempt identifier.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ID
}

// Snapshot returns a copy of the current session state.
func (m *Manager) Snapshot() model.ExamSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked()
}

func (m *Manager) copyLocked() model.ExamSession {
	cp := *m.session
	cp.Answers = append([]model.Answer(nil), m.session.Answers...)
	cp.Flags = append([]string(nil), m.session.Flags...)
	return cp
}

// RecordAnswer upserts the answer for (part, question) and persists.
// Recording an identical value is a no-op and skips the save.
func (m *Manager) RecordAnswer(ctx context.Context, part model.PartID, questionID string, value []byte) error {
	m.mu.Lock()
	if m.session.SubmittedAt != nil {
		m.mu.Unlock()
		return ErrAlreadySubmitted
	}
	if a := m.session.AnswerFor(part, questionID); a != nil {
		if bytes.Equal(a.Value, value) {
			m.mu.Unlock()
			return nil
		}
		a.Value = append([]byte(nil), value...)
	} else {
		m.session.Answers = append(m.session.Answers, model.Answer{
			PartID:     part,
			QuestionID: questionID,
			Value:      append([]byte(nil), value...),
		})
	}
	m.dirty = true
	m.mu.Unlock()
	return m.Flush(ctx)
}

// ToggleFlag flips the review flag on a question and persists.
func (m *Manager) ToggleFlag(ctx context.Context, questionID string) error {
	m.mu.Lock()
	if m.session.SubmittedAt != nil {
		m.mu.Unlock()
		return ErrAlreadySubmitted
	}
	found := false
	for i, f := range m.session.Flags {
		if f == questionID {
			m.session.Flags = append(m.session.Flags[:i], m.session.Flags[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		m.session.Flags = append(m.session.Flags, questionID)
	}
	m.dirty = true
	m.mu.Unlock()
	return m.Flush(ctx)
}

// GoTo moves the current question index. Out-of-range targets are
// ignored rather than rejected.
func (m *Manager) GoTo(ctx context.Context, index, total int) error {
	m.mu.Lock()
	if index < 0 || index >= total || index == m.session.CurrentIndex {
		m.mu.Unlock()
		return nil
	}
	m.session.CurrentIndex = index
	m.dirty = true
	m.mu.Unlock()
	return m.Flush(ctx)
}

// Submit marks the attempt submitted at the given time. A second call
// returns ErrAlreadySubmitted and leaves the original timestamp alone.
func (m *Manager) Submit(ctx context.Context, at time.Time) error {
	m.mu.Lock()
	if m.session.SubmittedAt != nil {
		m.mu.Unlock()
		return ErrAlreadySubmitted
	}
	t := at
	m.session.SubmittedAt = &t
	m.session.Status = model.StatusSubmitted
	m.dirty = true
	m.mu.Unlock()
	if err := m.Flush(ctx); err != nil {
		return fmt.Errorf("persist submission: %w", err)
	}
	return nil
}

// SetStatus updates the lifecycle status (grading, graded) and
// persists.
func (m *Manager) SetStatus(ctx context.Context, st model.SessionStatus) error {
	m.mu.Lock()
	if m.session.Status == st {
		m.mu.Unlock()
		return nil
	}
	m.session.Status = st
	m.dirty = true
	m.mu.Unlock()
	return m.Flush(ctx)
}

// MarkViolation records a suspected integrity violation. The flag is
// sticky for the life of the attempt.
func (m *Manager) MarkViolation(ctx context.Context) error {
	m.mu.Lock()
	if m.session.IntegrityViolation {
		m.mu.Unlock()
		return nil
	}
	m.session.IntegrityViolation = true
	m.dirty = true
	m.mu.Unlock()
	return m.Flush(ctx)
}

// Flush persists the session if there are unsaved changes. Errors are
// recorded and returned but leave the dirty flag set, so the next call
// retries the same state.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil
	}
	m.status = StatusSaving
	snap := m.copyLocked()
	if err := m.saver.SaveSession(ctx, &snap); err != nil {
		m.status = StatusError
		m.lastErr = err
		return err
	}
	m.status = StatusSaved
	m.lastErr = nil
	m.dirty = false
	return nil
}

// SaveState reports the last persistence outcome. The error is nil
// unless the most recent attempt failed.
func (m *Manager) SaveState() (SaveStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.lastErr
}

// Close stops the autosave loop and flushes any pending changes.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	if m.ticker != nil {
		m.ticker.Stop()
	}
	m.mu.Unlock()
	m.wg.Wait()
	return m.Flush(ctx)
}
