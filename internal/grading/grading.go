// Package grading scores Part 3 practical tasks through an
// OpenAI-compatible completion API. Tasks are graded one by one; a
// failure on one task never discards the results already earned by the
// others.
package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aict-platform/aict/internal/model"
)

// ErrMissingCredential is returned by New when no API key is supplied.
var ErrMissingCredential = errors.New("grading credential not configured")

// ErrNothingToGrade is returned by GradeAll when the batch contains no
// gradable task at all.
var ErrNothingToGrade = errors.New("no gradable tasks in batch")

// completer is the slice of the OpenAI client the grader uses.
// *openai.Client satisfies it; tests substitute a fake.
type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Grader evaluates free-form task responses against their rubrics.
type Grader struct {
	api   completer
	model string
	now   func() time.Time
}

// New creates a grader for an OpenAI-compatible endpoint. It fails
// fast on a missing key rather than letting the first request 401.
func New(baseURL, apiKey, modelName string) (*Grader, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingCredential
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Grader{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
		now:   time.Now,
	}, nil
}

// Submission pairs a task with the examinee's response text.
type Submission struct {
	Task     model.Part3Task
	Response string
}

// Progress reports per-task completion to the caller.
type Progress func(done, total int)

// BuildSubmissions pairs each task with its recorded answer. Tasks
// with no answer, or with an answer that is not a JSON string, are
// dropped: an unanswerable task earns zero credit, it does not abort
// the batch.
func BuildSubmissions(tasks []model.Part3Task, answers []model.Answer) []Submission {
	byID := make(map[string]json.RawMessage, len(answers))
	for _, a := range answers {
		if a.PartID == model.Part3 {
			byID[a.QuestionID] = a.Value
		}
	}
	var subs []Submission
	for _, task := range tasks {
		raw, ok := byID[task.ID]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err != nil || strings.TrimSpace(text) == "" {
			slog.Warn("skipping malformed task response", "task", task.ID)
			continue
		}
		subs = append(subs, Submission{Task: task, Response: text})
	}
	return subs
}

// GradeAll grades every submission in order. Results for tasks that
// graded successfully are always returned; per-task failures are
// joined into the returned error so the caller can retry just the
// failed remainder.
func (g *Grader) GradeAll(ctx context.Context, subs []Submission, progress Progress) ([]model.TaskResult, error) {
	if len(subs) == 0 {
		return nil, ErrNothingToGrade
	}

	batchID := uuid.NewString()
	slog.Info("grading batch started", "batch", batchID, "tasks", len(subs))

	var results []model.TaskResult
	var errs []error
	for i, sub := range subs {
		res, err := g.gradeTask(ctx, sub)
		if err != nil {
			slog.Warn("task grading failed", "batch", batchID, "task", sub.Task.ID, "error", err)
			errs = append(errs, fmt.Errorf("task %s: %w", sub.Task.ID, err))
		} else {
			results = append(results, *res)
		}
		if progress != nil {
			progress(i+1, len(subs))
		}
	}

	slog.Info("grading batch finished", "batch", batchID,
		"graded", len(results), "failed", len(errs))
	return results, errors.Join(errs...)
}

// taskResponse is the JSON shape the grading prompt demands.
type taskResponse struct {
	Score        float64                `json:"score"`
	Criteria     []model.CriterionScore `json:"criteria"`
	Feedback     string                 `json:"feedback"`
	Strengths    []string               `json:"strengths"`
	Improvements []string               `json:"improvements"`
}

func (g *Grader) gradeTask(ctx context.Context, sub Submission) (*model.TaskResult, error) {
	resp, err := g.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildTaskSystemPrompt(sub.Task)},
			{Role: openai.ChatMessageRoleUser, Content: sub.Response},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("grading API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("grading API returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("grading response", "task", sub.Task.ID, "raw", raw)

	var parsed taskResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse grading response: %w (raw: %s)", err, raw)
	}

	score := clamp(parsed.Score, 0, sub.Task.MaxScore)
	for i := range parsed.Criteria {
		c := &parsed.Criteria[i]
		if c.MaxScore > 0 {
			c.Score = clamp(c.Score, 0, c.MaxScore)
		}
	}

	return &model.TaskResult{
		TaskID:       sub.Task.ID,
		Score:        score,
		MaxScore:     sub.Task.MaxScore,
		Criteria:     parsed.Criteria,
		Feedback:     parsed.Feedback,
		Strengths:    parsed.Strengths,
		Improvements: parsed.Improvements,
		GradedAt:     g.now().UTC(),
	}, nil
}

func buildTaskSystemPrompt(task model.Part3Task) string {
	var sb strings.Builder
	sb.WriteString("You are grading a practical AI-competency task. The examinee's response follows as the user message.\n\n")
	sb.WriteString("TASK: " + task.Title + "\n")
	sb.WriteString(task.Description + "\n\n")
	sb.WriteString(fmt.Sprintf("MAX SCORE: %.0f\n\n", task.MaxScore))

	if len(task.Criteria) > 0 {
		sb.WriteString("GRADING CRITERIA:\n")
		for _, c := range task.Criteria {
			sb.WriteString("- " + c + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Score each criterion independently, then sum them for the total score.\n")
	sb.WriteString("- Be strict but fair; reward concrete, applicable reasoning over generic statements.\n")
	sb.WriteString("- Feedback must be actionable and reference the examinee's actual response.\n")
	sb.WriteString("\nRespond ONLY with a JSON object with these fields:\n")
	sb.WriteString(`{"score": <number 0 to max_score>, "criteria": [{"name": "<criterion>", "score": <number>, "max_score": <number>, "comment": "<brief>"}], "feedback": "<overall feedback>", "strengths": ["<strength>"], "improvements": ["<improvement>"]}`)
	sb.WriteString("\n")

	return sb.String()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
