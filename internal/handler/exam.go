package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aict-platform/aict/internal/i18n"
	"github.com/aict-platform/aict/internal/model"
	"github.com/aict-platform/aict/internal/proctor"
	"github.com/aict-platform/aict/internal/scoring"
	"github.com/aict-platform/aict/internal/session"
)

type createSessionRequest struct {
	HolderName string `json:"holder_name"`
	JobRole    string `json:"job_role"`
}

func (h *Handler) handleRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bank.JobRoles)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.HolderName == "" {
		writeError(w, http.StatusBadRequest, "holder name is required")
		return
	}
	if !h.bank.HasJobRole(req.JobRole) {
		writeError(w, http.StatusBadRequest, "unknown job role")
		return
	}

	now := h.clock()
	s := &model.ExamSession{
		ID:         uuid.NewString(),
		HolderName: req.HolderName,
		JobRole:    req.JobRole,
		Status:     model.StatusInProgress,
		StartedAt:  now,
		Duration:   h.cfg.TotalDuration(),
	}

	tasks := h.bank.TasksForJob(req.JobRole)
	questions := append(h.bank.Part(model.Part1), h.bank.Part(model.Part2)...)
	a := &active{
		mgr:      session.NewManager(s, h.exams, h.cfg.AutosaveInterval),
		tasks:    tasks,
		cfg:      scoring.NewConfig(questions, tasks),
		tickStop: make(chan struct{}),
	}
	a.monitor = proctor.New(now, s.Duration, h.cfg.LeaveLimit, proctor.Hooks{
		OnExpire: func() {
			h.forceSubmit(a, false)
		},
		OnTabReturn: func(leaveDuration time.Duration) {
			if err := h.exams.RecordLeaves(context.Background(), s.ID, a.monitor.LeaveCount()); err != nil {
				slog.Warn("persist leave counter", "session", s.ID, "error", err)
			}
		},
		OnLimitExceeded: func() {
			h.forceSubmit(a, true)
		},
	})

	h.mu.Lock()
	h.sessions[s.ID] = a
	h.mu.Unlock()

	if err := a.mgr.Flush(r.Context()); err != nil {
		slog.Warn("initial session save failed", "session", s.ID, "error", err)
	}
	go h.runTicker(a)

	writeJSON(w, http.StatusCreated, h.stateResponse(a))
}

// runTicker drives the proctor clock once a second until the session
// is torn down.
func (h *Handler) runTicker(a *active) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.monitor.Tick(h.clock())
		case <-a.tickStop:
			return
		}
	}
}

// forceSubmit ends an attempt from a proctor hook: time expiry or the
// leave limit. The violation flag is set before submission so the
// persisted snapshot carries it.
func (h *Handler) forceSubmit(a *active, violation bool) {
	ctx := context.Background()
	if violation {
		if err := a.mgr.MarkViolation(ctx); err != nil {
			slog.Warn("mark violation", "session", a.mgr.SessionID(), "error", err)
		}
	}
	err := a.mgr.Submit(ctx, h.clock())
	if err != nil && !errors.Is(err, session.ErrAlreadySubmitted) {
		slog.Error("forced submission failed", "session", a.mgr.SessionID(), "error", err)
	}
	a.stopTicker()
}

type stateResponse struct {
	Session    model.ExamSession  `json:"session"`
	Remaining  int                `json:"remaining_seconds"`
	TimerState proctor.State      `json:"timer_state"`
	LeaveCount int                `json:"leave_count"`
	OverLimit  bool               `json:"over_limit"`
	SaveStatus session.SaveStatus `json:"save_status"`
	SaveError  string             `json:"save_error,omitempty"`
}

func (h *Handler) stateResponse(a *active) stateResponse {
	status, saveErr := a.mgr.SaveState()
	resp := stateResponse{
		Session:    a.mgr.Snapshot(),
		Remaining:  int(a.monitor.Remaining(h.clock()).Seconds()),
		TimerState: a.monitor.State(),
		LeaveCount: a.monitor.LeaveCount(),
		OverLimit:  a.monitor.OverLimit(),
		SaveStatus: status,
	}
	if saveErr != nil {
		resp.SaveError = saveErr.Error()
	}
	return resp
}

func (h *Handler) handleSessionState(w http.ResponseWriter, r *http.Request) {
	a := h.lookup(chi.URLParam(r, "sessionID"))
	if a == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SessionNotFound"))
		return
	}
	writeJSON(w, http.StatusOK, h.stateResponse(a))
}

type questionsResponse struct {
	Part1 []model.Question  `json:"part1"`
	Part2 []model.Question  `json:"part2"`
	Tasks []model.Part3Task `json:"tasks"`
}

// handleQuestions returns the attempt's question set with the answer
// keys stripped.
func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	a := h.lookup(chi.URLParam(r, "sessionID"))
	if a == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SessionNotFound"))
		return
	}
	writeJSON(w, http.StatusOK, questionsResponse{
		Part1: stripKeys(h.bank.Part(model.Part1)),
		Part2: stripKeys(h.bank.Part(model.Part2)),
		Tasks: a.tasks,
	})
}

func stripKeys(questions []model.Question) []model.Question {
	out := make([]model.Question, len(questions))
	for i, q := range questions {
		q.CorrectOption = ""
		q.CorrectOrder = nil
		q.CorrectIssues = nil
		out[i] = q
	}
	return out
}

type answerRequest struct {
	Part  model.PartID    `json:"part"`
	Value json.RawMessage `json:"value"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	a := h.lookup(chi.URLParam(r, "sessionID"))
	if a == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SessionNotFound"))
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := a.mgr.RecordAnswer(r.Context(), req.Part, chi.URLParam(r, "questionID"), req.Value)
	switch {
	case errors.Is(err, session.ErrAlreadySubmitted):
		writeError(w, http.StatusConflict, i18n.T(r.Context(), "AlreadySubmitted"))
		return
	case err != nil:
		// The answer is held in memory; the save will be retried.
		slog.Warn("answer save failed", "session", a.mgr.SessionID(), "error", err)
	}
	writeJSON(w, http.StatusOK, h.stateResponse(a))
}

func (h *Handler) handleFlag(w http.ResponseWriter, r *http.Request) {
	a := h.lookup(chi.URLParam(r, "sessionID"))
	if a == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SessionNotFound"))
		return
	}
	err := a.mgr.ToggleFlag(r.Context(), chi.URLParam(r, "questionID"))
	switch {
	case errors.Is(err, session.ErrAlreadySubmitted):
		writeError(w, http.StatusConflict, i18n.T(r.Context(), "AlreadySubmitted"))
		return
	case err != nil:
		slog.Warn("flag save failed", "session", a.mgr.SessionID(), "error", err)
	}
	writeJSON(w, http.StatusOK, h.stateResponse(a))
}

type positionRequest struct {
	Index int `json:"index"`
}

func (h *Handler) handlePosition(w http.ResponseWriter, r *http.Request) {
	a := h.lookup(chi.URLParam(r, "sessionID"))
	if a == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SessionNotFound"))
		return
	}
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	total := len(h.bank.Questions) + len(a.tasks)
	if err := a.mgr.GoTo(r.Context(), req.Index, total); err != nil {
		slog.Warn("position save failed", "session", a.mgr.SessionID(), "error", err)
	}
	writeJSON(w, http.StatusOK, h.stateResponse(a))
}

type proctorEventRequest struct {
	Type string `json:"type"` // "leave" or "return"
}

type proctorEventResponse struct {
	stateResponse
	Message string `json:"message,omitempty"`
}

func (h *Handler) handleProctorEvent(w http.ResponseWriter, r *http.Request) {
	a := h.lookup(chi.URLParam(r, "sessionID"))
	if a == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SessionNotFound"))
		return
	}
	var req proctorEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Type {
	case "leave":
		a.monitor.Leave(h.clock())
	case "return":
		a.monitor.Return(h.clock())
	default:
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	resp := proctorEventResponse{stateResponse: h.stateResponse(a)}
	switch {
	case resp.OverLimit:
		resp.Message = i18n.T(r.Context(), "IntegrityViolation")
	case resp.LeaveCount > 0:
		remaining := h.cfg.LeaveLimit - resp.LeaveCount
		if remaining > 0 {
			resp.Message = i18n.Tp(r.Context(), "TabLeaveWarning", remaining)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSubmit finalizes the attempt. Submitting an already submitted
// session is a no-op that returns the current state.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	a := h.lookup(chi.URLParam(r, "sessionID"))
	if a == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SessionNotFound"))
		return
	}
	err := a.mgr.Submit(r.Context(), h.clock())
	if err != nil && !errors.Is(err, session.ErrAlreadySubmitted) {
		slog.Warn("submit save failed", "session", a.mgr.SessionID(), "error", err)
	}
	// The timer no longer matters once the attempt is submitted.
	a.stopTicker()
	writeJSON(w, http.StatusOK, h.stateResponse(a))
}

func (h *Handler) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.exams.SetPreference(r.Context(), name, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
