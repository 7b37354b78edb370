package content

import (
	"testing"

	"github.com/aict-platform/aict/internal/model"
)

func TestLoad(t *testing.T) {
	b, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := len(b.Part(model.Part1)); got != part1Count {
		t.Errorf("part 1 questions = %d, want %d", got, part1Count)
	}
	if got := len(b.Part(model.Part2)); got != part2Count {
		t.Errorf("part 2 questions = %d, want %d", got, part2Count)
	}
	if len(b.JobRoles) == 0 {
		t.Fatal("no job roles")
	}
}

func TestPart1IndicatorCoverage(t *testing.T) {
	b, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	counts := make(map[model.Indicator]int)
	for _, q := range b.Part(model.Part1) {
		if q.Type != model.TypeSingleChoice {
			t.Errorf("question %s: type %q in part 1", q.ID, q.Type)
		}
		if q.CorrectOption == "" {
			t.Errorf("question %s: no correct option", q.ID)
		}
		counts[q.Indicator]++
	}
	for _, ind := range model.Indicators() {
		if counts[ind] != 2 {
			t.Errorf("indicator %s covered by %d part-1 questions, want 2", ind, counts[ind])
		}
	}
}

func TestPart2AnswerKeys(t *testing.T) {
	b, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	for _, q := range b.Part(model.Part2) {
		switch q.Type {
		case model.TypeDragDrop, model.TypeOrdering:
			if len(q.CorrectOrder) == 0 || len(q.Items) == 0 {
				t.Errorf("question %s: ordering variant without items/key", q.ID)
			}
		case model.TypeHighlight:
			if len(q.CorrectIssues) == 0 || len(q.Issues) == 0 {
				t.Errorf("question %s: highlight without issues/key", q.ID)
			}
		case model.TypeRewrite:
			if q.MinWords <= 0 {
				t.Errorf("question %s: rewrite without min words", q.ID)
			}
		default:
			t.Errorf("question %s: unexpected type %q in part 2", q.ID, q.Type)
		}
	}
}

func TestTasksForJob(t *testing.T) {
	b, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	for _, role := range b.JobRoles {
		tasks := b.TasksForJob(role.Code)
		if len(tasks) != tasksPerJob {
			t.Errorf("role %s: %d tasks, want %d", role.Code, len(tasks), tasksPerJob)
		}
		var total float64
		for _, task := range tasks {
			total += task.MaxScore
		}
		if total != 60 {
			t.Errorf("role %s: task scores sum to %v, want 60", role.Code, total)
		}
	}

	if got := b.TasksForJob("NOPE"); got != nil {
		t.Errorf("TasksForJob(NOPE) = %v, want nil", got)
	}
	if b.HasJobRole("NOPE") {
		t.Error("HasJobRole(NOPE) = true")
	}
}

func TestQuestionLookup(t *testing.T) {
	b, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if q := b.Question("p1-q01"); q == nil || q.Part != model.Part1 {
		t.Fatalf("Question(p1-q01) = %+v", q)
	}
	if q := b.Question("missing"); q != nil {
		t.Fatalf("Question(missing) = %+v, want nil", q)
	}
}
