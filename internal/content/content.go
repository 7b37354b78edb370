// Package content holds the embedded question bank: Part 1 single
// choice, Part 2 interactive questions, and the Part 3 task sets per
// job role.
package content

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/aict-platform/aict/internal/model"
)

//go:embed bank.json
var bankJSON []byte

// Expected bank shape. The caps assume exactly this many questions.
const (
	part1Count  = 12
	part2Count  = 4
	tasksPerJob = 3
)

// Bank is the full loaded question bank.
type Bank struct {
	JobRoles  []model.JobRole   `json:"job_roles"`
	Questions []model.Question  `json:"questions"`
	Tasks     []model.Part3Task `json:"tasks"`
}

// Load parses and validates the embedded bank.
func Load() (*Bank, error) {
	var b Bank
	if err := json.Unmarshal(bankJSON, &b); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("validate question bank: %w", err)
	}
	return &b, nil
}

func (b *Bank) validate() error {
	if n := len(b.Part(model.Part1)); n != part1Count {
		return fmt.Errorf("part 1 has %d questions, want %d", n, part1Count)
	}
	if n := len(b.Part(model.Part2)); n != part2Count {
		return fmt.Errorf("part 2 has %d questions, want %d", n, part2Count)
	}
	valid := make(map[model.Indicator]bool)
	for _, ind := range model.Indicators() {
		valid[ind] = true
	}
	seen := make(map[string]bool)
	for _, q := range b.Questions {
		if seen[q.ID] {
			return fmt.Errorf("duplicate question id %s", q.ID)
		}
		seen[q.ID] = true
		if !valid[q.Indicator] {
			return fmt.Errorf("question %s: unknown indicator %q", q.ID, q.Indicator)
		}
	}
	byRole := make(map[string]int)
	for _, task := range b.Tasks {
		if seen[task.ID] {
			return fmt.Errorf("duplicate task id %s", task.ID)
		}
		seen[task.ID] = true
		if task.MaxScore <= 0 {
			return fmt.Errorf("task %s: max score %v", task.ID, task.MaxScore)
		}
		if len(task.Indicators) == 0 {
			return fmt.Errorf("task %s: no indicators", task.ID)
		}
		for _, ind := range task.Indicators {
			if !valid[ind] {
				return fmt.Errorf("task %s: unknown indicator %q", task.ID, ind)
			}
		}
		byRole[task.JobRole]++
	}
	for _, role := range b.JobRoles {
		if byRole[role.Code] != tasksPerJob {
			return fmt.Errorf("job role %s has %d tasks, want %d", role.Code, byRole[role.Code], tasksPerJob)
		}
	}
	return nil
}

// Part returns the questions of one part in bank order.
func (b *Bank) Part(part model.PartID) []model.Question {
	var out []model.Question
	for _, q := range b.Questions {
		if q.Part == part {
			out = append(out, q)
		}
	}
	return out
}

// TasksForJob returns the Part 3 task set for a job role code.
func (b *Bank) TasksForJob(code string) []model.Part3Task {
	var out []model.Part3Task
	for _, t := range b.Tasks {
		if t.JobRole == code {
			out = append(out, t)
		}
	}
	return out
}

// Question finds a question by ID, nil when absent.
func (b *Bank) Question(id string) *model.Question {
	for i := range b.Questions {
		if b.Questions[i].ID == id {
			return &b.Questions[i]
		}
	}
	return nil
}

// HasJobRole reports whether a role code exists in the bank.
func (b *Bank) HasJobRole(code string) bool {
	for _, r := range b.JobRoles {
		if r.Code == code {
			return true
		}
	}
	return false
}
