package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aict-platform/aict/internal/certificate"
	"github.com/aict-platform/aict/internal/grading"
	"github.com/aict-platform/aict/internal/i18n"
	"github.com/aict-platform/aict/internal/model"
	"github.com/aict-platform/aict/internal/scoring"
)

type resultsResponse struct {
	Total        int                    `json:"total"`
	Passed       bool                   `json:"passed"`
	Provisional  bool                   `json:"provisional"`
	PartTotals   map[string]float64     `json:"part_totals"`
	Competencies model.CompetencyScores `json:"competencies"`
	Radar        []scoring.RadarPoint   `json:"radar"`
	TaskResults  []model.TaskResult     `json:"task_results,omitempty"`
	Message      string                 `json:"message"`
}

// computeResults aggregates the three parts into the final score view.
// The result stays provisional until every gradable Part 3 response
// has a grading result: a partially graded attempt must not harden
// into a final score a certificate could lock in.
func (h *Handler) computeResults(ctx context.Context, a *active) (resultsResponse, error) {
	snap := a.mgr.Snapshot()
	results, err := h.exams.TaskResults(ctx, snap.ID)
	if err != nil {
		return resultsResponse{}, fmt.Errorf("load task results: %w", err)
	}

	p1 := a.cfg.Part1Scores(h.bank.Part(model.Part1), snap.Answers)
	p2 := a.cfg.Part2Scores(h.bank.Part(model.Part2), snap.Answers)
	p3 := a.cfg.Part3Scores(a.tasks, results)

	total := a.cfg.Total(p1, p2, p3)
	normalized := a.cfg.Normalize(a.cfg.TotalScores(p1, p2, p3))
	passed := a.cfg.Passed(total)

	graded := make(map[string]bool, len(results))
	for _, res := range results {
		graded[res.TaskID] = true
	}
	provisional := len(results) == 0
	for _, sub := range grading.BuildSubmissions(a.tasks, snap.Answers) {
		if !graded[sub.Task.ID] {
			provisional = true
			break
		}
	}

	resp := resultsResponse{
		Total:       int(total),
		Passed:      passed,
		Provisional: provisional,
		PartTotals: map[string]float64{
			"part1": a.cfg.PartTotal(p1, a.cfg.Part1Cap),
			"part2": a.cfg.PartTotal(p2, a.cfg.Part2Cap),
			"part3": a.cfg.PartTotal(p3, a.cfg.Part3Cap),
		},
		Competencies: normalized,
		Radar:        scoring.RadarData(normalized),
		TaskResults:  results,
	}
	switch {
	case provisional:
		resp.Message = i18n.T(ctx, "GradingProvisional")
	case passed:
		resp.Message = i18n.Td(ctx, "ResultPassed", map[string]any{"Score": resp.Total})
	default:
		resp.Message = i18n.Td(ctx, "ResultFailed", map[string]any{"Score": resp.Total})
	}
	return resp, nil
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	a := h.lookup(chi.URLParam(r, "sessionID"))
	if a == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SessionNotFound"))
		return
	}
	resp, err := h.computeResults(r.Context(), a)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type gradeRequest struct {
	APIKey string `json:"api_key,omitempty"`
}

// handleStartGrading kicks off remote grading in the background. The
// credential comes from the request or, failing that, the stored
// preference. Re-grading an already graded session is a no-op.
func (h *Handler) handleStartGrading(w http.ResponseWriter, r *http.Request) {
	a := h.lookup(chi.URLParam(r, "sessionID"))
	if a == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SessionNotFound"))
		return
	}
	snap := a.mgr.Snapshot()
	if snap.SubmittedAt == nil {
		writeError(w, http.StatusConflict, "attempt not submitted yet")
		return
	}

	cached, err := h.exams.TaskResults(r.Context(), snap.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req gradeRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		stored, err := h.exams.Preference(r.Context(), credentialPref)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		apiKey = stored
	} else {
		if err := h.exams.SetPreference(r.Context(), credentialPref, apiKey); err != nil {
			slog.Warn("persist grading credential", "error", err)
		}
	}

	grader, err := h.newGrader(apiKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A previous run may have graded part of the batch; only the
	// remainder goes back out.
	graded := make(map[string]bool, len(cached))
	for _, res := range cached {
		graded[res.TaskID] = true
	}
	var subs []grading.Submission
	for _, sub := range grading.BuildSubmissions(a.tasks, snap.Answers) {
		if !graded[sub.Task.ID] {
			subs = append(subs, sub)
		}
	}
	if len(subs) == 0 {
		if len(cached) > 0 {
			writeJSON(w, http.StatusOK, map[string]string{"status": "graded"})
			return
		}
		writeError(w, http.StatusUnprocessableEntity, grading.ErrNothingToGrade.Error())
		return
	}

	a.gradeMu.Lock()
	if a.grading {
		a.gradeMu.Unlock()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "grading"})
		return
	}
	a.grading = true
	a.gradeDone, a.gradeTotal, a.gradeErr = 0, len(subs), nil
	a.gradeMu.Unlock()

	if err := a.mgr.SetStatus(r.Context(), model.StatusGrading); err != nil {
		slog.Warn("set grading status", "session", snap.ID, "error", err)
	}

	go h.runGrading(a, grader, subs, cached)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "grading"})
}

// runGrading performs the batch in the background so timers and
// autosave keep running while the remote calls are in flight.
func (h *Handler) runGrading(a *active, grader taskGrader, subs []grading.Submission, prior []model.TaskResult) {
	ctx := context.Background()
	results, err := grader.GradeAll(ctx, subs, func(done, total int) {
		a.gradeMu.Lock()
		a.gradeDone, a.gradeTotal = done, total
		a.gradeMu.Unlock()
	})

	// Partial successes are worth keeping: they score, and only the
	// failed remainder needs another run.
	results = append(prior, results...)
	if len(results) > 0 {
		if serr := h.exams.SaveTaskResults(ctx, a.mgr.SessionID(), results); serr != nil {
			slog.Error("persist task results", "session", a.mgr.SessionID(), "error", serr)
			if err == nil {
				err = serr
			}
		}
	}

	status := model.StatusGraded
	if err != nil {
		slog.Warn("grading finished with errors", "session", a.mgr.SessionID(), "error", err)
		status = model.StatusSubmitted // allow another grading run
	}
	if serr := a.mgr.SetStatus(ctx, status); serr != nil {
		slog.Warn("set status after grading", "session", a.mgr.SessionID(), "error", serr)
	}
	if status == model.StatusGraded {
		// Nothing mutates a fully graded attempt; stop its autosave
		// loop and flush the final state.
		if cerr := a.mgr.Close(ctx); cerr != nil {
			slog.Warn("close session manager", "session", a.mgr.SessionID(), "error", cerr)
		}
	}

	a.gradeMu.Lock()
	a.grading = false
	a.gradeErr = err
	a.gradeMu.Unlock()
}

type gradingProgressResponse struct {
	Status string `json:"status"`
	Done   int    `json:"done"`
	Total  int    `json:"total"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) handleGradingProgress(w http.ResponseWriter, r *http.Request) {
	a := h.lookup(chi.URLParam(r, "sessionID"))
	if a == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SessionNotFound"))
		return
	}
	a.gradeMu.Lock()
	resp := gradingProgressResponse{
		Done:  a.gradeDone,
		Total: a.gradeTotal,
	}
	switch {
	case a.grading:
		resp.Status = "grading"
	case a.gradeErr != nil:
		resp.Status = "error"
		resp.Error = a.gradeErr.Error()
	case a.gradeTotal > 0:
		resp.Status = "graded"
	default:
		resp.Status = "idle"
	}
	a.gradeMu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

// handleIssueCertificate issues (or re-reads) the certificate for a
// passed attempt. Issue is idempotent: revisiting returns the stored
// certificate unchanged.
func (h *Handler) handleIssueCertificate(w http.ResponseWriter, r *http.Request) {
	a := h.lookup(chi.URLParam(r, "sessionID"))
	if a == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SessionNotFound"))
		return
	}
	snap := a.mgr.Snapshot()
	if snap.SubmittedAt == nil {
		writeError(w, http.StatusConflict, "attempt not submitted yet")
		return
	}

	results, err := h.computeResults(r.Context(), a)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results.Provisional {
		writeError(w, http.StatusConflict, i18n.T(r.Context(), "GradingProvisional"))
		return
	}
	if !results.Passed {
		writeError(w, http.StatusConflict, i18n.Td(r.Context(), "ResultFailed", map[string]any{"Score": results.Total}))
		return
	}

	examDate := *snap.SubmittedAt
	id, err := certificate.NewID(examDate.Year())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	candidate := certificate.Build(id, snap.HolderName, snap.JobRole, results.Total, results.Competencies, examDate)

	issued, err := h.exams.IssueCertificate(r.Context(), snap.ID, candidate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if issued.CertificateID == id {
		// First issue for this session: record the attempt.
		entry := model.HistoryEntry{
			Date:      issued.ExamDate,
			SessionID: snap.ID,
			JobRole:   snap.JobRole,
			Score:     results.Total,
			Passed:    true,
		}
		if err := h.exams.AppendHistory(r.Context(), entry); err != nil {
			slog.Warn("append exam history", "session", snap.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, issued)
}

func (h *Handler) certificateFor(w http.ResponseWriter, r *http.Request) *model.CertificateData {
	sessionID := chi.URLParam(r, "sessionID")
	data, err := h.exams.CertificateForSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	if data == nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "CertificateNotFound"))
		return nil
	}
	return data
}

func (h *Handler) verifyURL(certificateID string) string {
	if h.cfg.VerifyBaseURL == "" {
		return ""
	}
	return strings.TrimRight(h.cfg.VerifyBaseURL, "/") + "/verify/" + certificateID
}

func (h *Handler) handleCertificatePDF(w http.ResponseWriter, r *http.Request) {
	data := h.certificateFor(w, r)
	if data == nil {
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", certificate.Filename(data.CertificateID, "pdf")))
	if err := certificate.WritePDF(w, *data, h.verifyURL(data.CertificateID)); err != nil {
		slog.Error("render certificate", "certificate", data.CertificateID, "error", err)
	}
}

func (h *Handler) handleCertificatePNG(w http.ResponseWriter, r *http.Request) {
	data := h.certificateFor(w, r)
	if data == nil {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", certificate.Filename(data.CertificateID, "png")))
	if err := certificate.WritePNG(w, *data, h.verifyURL(data.CertificateID)); err != nil {
		slog.Error("render certificate", "certificate", data.CertificateID, "error", err)
	}
}

type verifyResponse struct {
	Valid       bool                   `json:"valid"`
	Message     string                 `json:"message"`
	Certificate *model.CertificateData `json:"certificate,omitempty"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	certificateID := chi.URLParam(r, "certificateID")
	data, err := h.exams.CertificateByID(r.Context(), certificateID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if data == nil {
		writeJSON(w, http.StatusNotFound, verifyResponse{
			Valid:   false,
			Message: i18n.T(r.Context(), "CertificateNotFound"),
		})
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Valid:       true,
		Message:     i18n.T(r.Context(), "CertificateValid"),
		Certificate: data,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.exams.History(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []model.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}
