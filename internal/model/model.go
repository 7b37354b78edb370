package model

import (
	"encoding/json"
	"time"
)

// PartID identifies one of the three exam parts.
type PartID int

const (
	Part1 PartID = 1
	Part2 PartID = 2
	Part3 PartID = 3
)

// QuestionType distinguishes the question variants across parts.
type QuestionType string

const (
	// TypeSingleChoice is a Part 1 multiple-choice question with one correct option.
	TypeSingleChoice QuestionType = "single_choice"
	// TypeDragDrop is a Part 2 drag-and-drop ordering question.
	TypeDragDrop QuestionType = "drag_drop"
	// TypeOrdering is a Part 2 ordering question.
	TypeOrdering QuestionType = "ordering"
	// TypeHighlight is a Part 2 issue-selection question.
	TypeHighlight QuestionType = "highlight"
	// TypeRewrite is a Part 2 rewrite question with a minimum length.
	TypeRewrite QuestionType = "rewrite"
	// TypeTask is a Part 3 open task graded remotely.
	TypeTask QuestionType = "task"
)

// Indicator is one of the six fixed competency dimensions.
type Indicator string

const (
	IndicatorConcept  Indicator = "concept-understanding"
	IndicatorPrompt   Indicator = "prompt-design"
	IndicatorData     Indicator = "data-protection"
	IndicatorVerify   Indicator = "output-verification"
	IndicatorJudgment Indicator = "judgment"
	IndicatorWorkflow Indicator = "workflow-integration"
)

// Indicators returns the six competency indicators in display order.
func Indicators() []Indicator {
	return []Indicator{
		IndicatorConcept,
		IndicatorPrompt,
		IndicatorData,
		IndicatorVerify,
		IndicatorJudgment,
		IndicatorWorkflow,
	}
}

// CompetencyScores maps each indicator to a numeric score.
type CompetencyScores map[Indicator]float64

// Clone returns a copy so callers can mutate without aliasing.
func (cs CompetencyScores) Clone() CompetencyScores {
	out := make(CompetencyScores, len(cs))
	for k, v := range cs {
		out[k] = v
	}
	return out
}

// Option is one selectable choice in a single-choice question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is an exam question from Part 1 or Part 2. Which answer-key
// fields apply depends on Type: CorrectOption for single choice,
// CorrectOrder for the ordering variants, CorrectIssues for highlight,
// MinWords for rewrite.
type Question struct {
	ID            string       `json:"id"`
	Part          PartID       `json:"part"`
	Type          QuestionType `json:"type"`
	Prompt        string       `json:"prompt"`
	Indicator     Indicator    `json:"indicator"`
	Options       []Option     `json:"options,omitempty"`
	CorrectOption string       `json:"correct_option,omitempty"`
	Items         []string     `json:"items,omitempty"`
	CorrectOrder  []string     `json:"correct_order,omitempty"`
	Issues        []string     `json:"issues,omitempty"`
	CorrectIssues []string     `json:"correct_issues,omitempty"`
	MinWords      int          `json:"min_words,omitempty"`
}

// Part3Task is an open task graded by the remote grading service.
// Its earned score is split evenly across its indicators.
type Part3Task struct {
	ID          string      `json:"id"`
	JobRole     string      `json:"job_role"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	MaxScore    float64     `json:"max_score"`
	Indicators  []Indicator `json:"indicators"`
	Criteria    []string    `json:"criteria"`
}

// JobRole is a selectable job profile that determines the Part 3 task set.
type JobRole struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

// Answer is one stored response, unique per (part, question). Value is
// the raw payload whose shape depends on the question type: a JSON
// string for single choice and free text, a JSON array of IDs for
// ordering and highlight. Malformed payloads score zero rather than
// erroring.
type Answer struct {
	PartID     PartID          `json:"part_id"`
	QuestionID string          `json:"question_id"`
	Value      json.RawMessage `json:"value"`
}

// CriterionScore is one rubric line in a graded Part 3 task.
type CriterionScore struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	MaxScore float64 `json:"max_score"`
	Comment  string  `json:"comment,omitempty"`
}

// TaskResult is the remote grading outcome for one Part 3 task.
type TaskResult struct {
	TaskID       string           `json:"task_id"`
	Score        float64          `json:"score"`
	MaxScore     float64          `json:"max_score"`
	Criteria     []CriterionScore `json:"criteria,omitempty"`
	Feedback     string           `json:"feedback"`
	Strengths    []string         `json:"strengths,omitempty"`
	Improvements []string         `json:"improvements,omitempty"`
	GradedAt     time.Time        `json:"graded_at"`
}

// SessionStatus represents the lifecycle of an exam attempt.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusSubmitted  SessionStatus = "submitted"
	StatusGrading    SessionStatus = "grading"
	StatusGraded     SessionStatus = "graded"
)

// ExamSession holds one exam attempt: answers, flags, position, and
// timing. It is owned by the active exam flow and persisted on every
// mutation. The tab-leave counter lives under its own storage key so
// independent concerns never overwrite each other's state.
type ExamSession struct {
	ID                 string        `json:"id"`
	HolderName         string        `json:"holder_name"`
	JobRole            string        `json:"job_role"`
	Status             SessionStatus `json:"status"`
	Answers            []Answer      `json:"answers"`
	Flags              []string      `json:"flags"`
	CurrentIndex       int           `json:"current_index"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
	SubmittedAt        *time.Time    `json:"submitted_at,omitempty"`
	IntegrityViolation bool          `json:"integrity_violation,omitempty"`
}

// AnswerFor returns the stored answer for (part, question), or nil.
func (s ExamSession) AnswerFor(part PartID, questionID string) *Answer {
	for i := range s.Answers {
		if s.Answers[i].PartID == part && s.Answers[i].QuestionID == questionID {
			return &s.Answers[i]
		}
	}
	return nil
}

// Flagged reports whether a question is flagged for review.
func (s ExamSession) Flagged(questionID string) bool {
	for _, f := range s.Flags {
		if f == questionID {
			return true
		}
	}
	return false
}

// CertificateData is the immutable payload of an issued certificate.
// Competencies hold the normalized 0-100 indicator scores.
type CertificateData struct {
	CertificateID string           `json:"certificate_id"`
	HolderName    string           `json:"holder_name"`
	TotalScore    int              `json:"total_score"`
	JobRole       string           `json:"job_role"`
	ExamDate      string           `json:"exam_date"`
	ExpiryDate    string           `json:"expiry_date"`
	Competencies  CompetencyScores `json:"competencies"`
}

// HistoryEntry is one line of the bounded exam-history log.
type HistoryEntry struct {
	Date      string `json:"date"`
	SessionID string `json:"session_id"`
	JobRole   string `json:"job_role"`
	Score     int    `json:"score"`
	Passed    bool   `json:"passed"`
}

// User is a stored account record. The user table stands in for a
// backend user database and is consulted for display names and admin
// seeding only.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// ExamConfig holds runtime exam parameters set via CLI flags.
type ExamConfig struct {
	LeaveLimit       int           // tab leaves before forced submission
	AutosaveInterval time.Duration // periodic session save cadence
	PartDurations    map[PartID]time.Duration
	Language         string // UI language for localized messages
	VerifyBaseURL    string // URL prefix printed on certificates
	GradingBaseURL   string // OpenAI-compatible endpoint for Part 3 grading
	GradingModel     string // model name sent to the grading endpoint
}

// TotalDuration is the combined time allowance across all parts.
func (c ExamConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, d := range c.PartDurations {
		total += d
	}
	return total
}
