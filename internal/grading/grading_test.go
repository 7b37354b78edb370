package grading

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aict-platform/aict/internal/model"
)

type fakeCompleter struct {
	responses map[string]string // keyed by substring of the system prompt
	errFor    map[string]error
	calls     int
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	system := req.Messages[0].Content
	for key, err := range f.errFor {
		if strings.Contains(system, key) {
			return openai.ChatCompletionResponse{}, err
		}
	}
	for key, body := range f.responses {
		if strings.Contains(system, key) {
			return openai.ChatCompletionResponse{
				Choices: []openai.ChatCompletionChoice{
					{Message: openai.ChatCompletionMessage{Content: body}},
				},
			}, nil
		}
	}
	return openai.ChatCompletionResponse{}, errors.New("no canned response")
}

func newTestGrader(api completer) *Grader {
	return &Grader{
		api:   api,
		model: "test-model",
		now:   func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) },
	}
}

func testTask(id, title string) model.Part3Task {
	return model.Part3Task{
		ID:          id,
		JobRole:     "HR",
		Title:       title,
		Description: "Draft a prompt for the scenario.",
		MaxScore:    20,
		Indicators:  []model.Indicator{model.IndicatorPrompt, model.IndicatorJudgment},
		Criteria:    []string{"Clarity of the prompt", "Coverage of constraints"},
	}
}

func TestNewRequiresCredential(t *testing.T) {
	if _, err := New("", "", "gpt-4o-mini"); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("New with empty key error = %v, want ErrMissingCredential", err)
	}
	if _, err := New("", "   ", "gpt-4o-mini"); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("New with blank key error = %v, want ErrMissingCredential", err)
	}
	if _, err := New("", "sk-test", "gpt-4o-mini"); err != nil {
		t.Fatalf("New with key failed: %v", err)
	}
}

func TestBuildSubmissions(t *testing.T) {
	tasks := []model.Part3Task{testTask("t1", "Task one"), testTask("t2", "Task two"), testTask("t3", "Task three")}
	answers := []model.Answer{
		{PartID: model.Part3, QuestionID: "t1", Value: json.RawMessage(`"my response"`)},
		{PartID: model.Part3, QuestionID: "t2", Value: json.RawMessage(`{broken`)},   // malformed
		{PartID: model.Part1, QuestionID: "t3", Value: json.RawMessage(`"wrong part"`)}, // wrong part
	}

	subs := BuildSubmissions(tasks, answers)
	if len(subs) != 1 {
		t.Fatalf("submissions = %d, want 1", len(subs))
	}
	if subs[0].Task.ID != "t1" || subs[0].Response != "my response" {
		t.Fatalf("unexpected submission: %+v", subs[0])
	}
}

func TestBuildSubmissionsBlankResponseSkipped(t *testing.T) {
	tasks := []model.Part3Task{testTask("t1", "Task one")}
	answers := []model.Answer{
		{PartID: model.Part3, QuestionID: "t1", Value: json.RawMessage(`"   "`)},
	}
	if subs := BuildSubmissions(tasks, answers); len(subs) != 0 {
		t.Fatalf("submissions = %d, want 0 for blank response", len(subs))
	}
}

func TestGradeAllEmptyBatch(t *testing.T) {
	g := newTestGrader(&fakeCompleter{})
	if _, err := g.GradeAll(context.Background(), nil, nil); !errors.Is(err, ErrNothingToGrade) {
		t.Fatalf("GradeAll(nil) error = %v, want ErrNothingToGrade", err)
	}
}

func TestGradeAllSuccess(t *testing.T) {
	api := &fakeCompleter{responses: map[string]string{
		"Task one": `{"score": 15, "criteria": [{"name": "Clarity of the prompt", "score": 8, "max_score": 10}], "feedback": "solid", "strengths": ["clear"], "improvements": ["add constraints"]}`,
		"Task two": `{"score": 18, "feedback": "strong"}`,
	}}
	g := newTestGrader(api)

	subs := []Submission{
		{Task: testTask("t1", "Task one"), Response: "response one"},
		{Task: testTask("t2", "Task two"), Response: "response two"},
	}

	var progress [][2]int
	results, err := g.GradeAll(context.Background(), subs, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].TaskID != "t1" || results[0].Score != 15 || results[0].MaxScore != 20 {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[0].GradedAt.IsZero() {
		t.Fatal("GradedAt not set")
	}
	if len(progress) != 2 || progress[0] != [2]int{1, 2} || progress[1] != [2]int{2, 2} {
		t.Fatalf("unexpected progress sequence: %v", progress)
	}
}

func TestGradeAllPartialFailure(t *testing.T) {
	api := &fakeCompleter{
		responses: map[string]string{
			"Task one": `{"score": 12, "feedback": "ok"}`,
		},
		errFor: map[string]error{
			"Task two": errors.New("rate limited"),
		},
	}
	g := newTestGrader(api)

	subs := []Submission{
		{Task: testTask("t1", "Task one"), Response: "response one"},
		{Task: testTask("t2", "Task two"), Response: "response two"},
	}

	results, err := g.GradeAll(context.Background(), subs, nil)
	if err == nil {
		t.Fatal("expected aggregate error for failed task")
	}
	if !strings.Contains(err.Error(), "t2") {
		t.Fatalf("aggregate error %q does not name the failed task", err)
	}
	if len(results) != 1 || results[0].TaskID != "t1" {
		t.Fatalf("partial results = %+v, want the t1 result", results)
	}
}

func TestGradeAllMalformedModelOutput(t *testing.T) {
	api := &fakeCompleter{responses: map[string]string{
		"Task one": `not json at all`,
	}}
	g := newTestGrader(api)

	subs := []Submission{{Task: testTask("t1", "Task one"), Response: "response"}}
	results, err := g.GradeAll(context.Background(), subs, nil)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if len(results) != 0 {
		t.Fatalf("results = %d, want 0", len(results))
	}
}

func TestGradeTaskClampsScores(t *testing.T) {
	api := &fakeCompleter{responses: map[string]string{
		"Task one": `{"score": 35, "criteria": [{"name": "c", "score": -3, "max_score": 10}], "feedback": "x"}`,
	}}
	g := newTestGrader(api)

	results, err := g.GradeAll(context.Background(), []Submission{
		{Task: testTask("t1", "Task one"), Response: "response"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Score != 20 {
		t.Fatalf("score = %v, want clamped to 20", results[0].Score)
	}
	if results[0].Criteria[0].Score != 0 {
		t.Fatalf("criterion score = %v, want clamped to 0", results[0].Criteria[0].Score)
	}
}

func TestBuildTaskSystemPrompt(t *testing.T) {
	task := testTask("t1", "Prompt design drill")
	prompt := buildTaskSystemPrompt(task)

	for _, want := range []string{task.Title, task.Description, "MAX SCORE: 20", "Clarity of the prompt"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.Contains(prompt, `"score"`) {
		t.Error("prompt should describe the JSON response shape")
	}
}
