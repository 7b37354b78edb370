// Package handler exposes the exam service as a JSON API over chi.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aict-platform/aict/internal/content"
	"github.com/aict-platform/aict/internal/grading"
	"github.com/aict-platform/aict/internal/model"
	"github.com/aict-platform/aict/internal/proctor"
	"github.com/aict-platform/aict/internal/scoring"
	"github.com/aict-platform/aict/internal/session"
	"github.com/aict-platform/aict/internal/store"
)

// credentialPref is the preference key holding the grading API key.
const credentialPref = "grading_api_key"

// LanguagePref is the preference key holding the chosen UI language.
// The i18n middleware reads it when resolving a request's locale.
const LanguagePref = "language"

// taskGrader is the slice of the grading adapter the handler needs.
type taskGrader interface {
	GradeAll(ctx context.Context, subs []grading.Submission, progress grading.Progress) ([]model.TaskResult, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	exams *store.Exams
	bank  *content.Bank
	cfg   model.ExamConfig
	clock func() time.Time

	// newGrader builds a grading adapter for an API key. Swapped out
	// in tests.
	newGrader func(apiKey string) (taskGrader, error)

	mu       sync.Mutex
	sessions map[string]*active
}

// active is the in-memory state of one running attempt.
type active struct {
	mgr     *session.Manager
	monitor *proctor.Monitor
	tasks   []model.Part3Task
	cfg     scoring.Config

	tickStop chan struct{}
	tickOnce sync.Once

	gradeMu    sync.Mutex
	grading    bool
	gradeDone  int
	gradeTotal int
	gradeErr   error
}

// stopTicker halts the proctor tick loop. Safe to call more than once.
func (a *active) stopTicker() {
	a.tickOnce.Do(func() { close(a.tickStop) })
}

// New creates a new Handler.
func New(exams *store.Exams, bank *content.Bank, cfg model.ExamConfig) *Handler {
	return &Handler{
		exams: exams,
		bank:  bank,
		cfg:   cfg,
		clock: time.Now,
		newGrader: func(apiKey string) (taskGrader, error) {
			return grading.New(cfg.GradingBaseURL, apiKey, cfg.GradingModel)
		},
		sessions: make(map[string]*active),
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/roles", h.handleRoles)
		r.Get("/history", h.handleHistory)
		r.Put("/preferences/{name}", h.handleSetPreference)

		r.Post("/sessions", h.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleSessionState)
			r.Get("/questions", h.handleQuestions)
			r.Put("/answers/{questionID}", h.handleAnswer)
			r.Post("/flags/{questionID}", h.handleFlag)
			r.Put("/position", h.handlePosition)
			r.Post("/events", h.handleProctorEvent)
			r.Post("/submit", h.handleSubmit)
			r.Get("/results", h.handleResults)
			r.Post("/grade", h.handleStartGrading)
			r.Get("/grade", h.handleGradingProgress)
			r.Post("/certificate", h.handleIssueCertificate)
			r.Get("/certificate.pdf", h.handleCertificatePDF)
			r.Get("/certificate.png", h.handleCertificatePNG)
		})
	})
	r.Get("/verify/{certificateID}", h.handleVerify)
}

// Shutdown flushes and tears down every active session.
func (h *Handler) Shutdown(ctx context.Context) {
	h.mu.Lock()
	actives := make([]*active, 0, len(h.sessions))
	for _, a := range h.sessions {
		actives = append(actives, a)
	}
	h.sessions = make(map[string]*active)
	h.mu.Unlock()

	for _, a := range actives {
		a.stopTicker()
		if err := a.mgr.Close(ctx); err != nil {
			slog.Warn("session teardown flush failed", "session", a.mgr.SessionID(), "error", err)
		}
	}
}

func (h *Handler) lookup(sessionID string) *active {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[sessionID]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
