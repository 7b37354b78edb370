package scoring

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/aict-platform/aict/internal/model"
)

// Config carries the scoring weights, per-part caps, and per-indicator
// maxima. It is built once per exam attempt and passed in explicitly so
// alternate weight schemes can be injected in tests.
type Config struct {
	Part1Weight float64 // points per correct Part 1 question
	Part2Weight float64 // points per correct Part 2 question
	Part1Cap    float64
	Part2Cap    float64
	Part3Cap    float64

	// PassThreshold is the minimum total (out of 100) for a pass.
	PassThreshold float64

	// Part3Neutral is the provisional raw score substituted per
	// indicator while remote grading has not completed.
	Part3Neutral float64

	// IndicatorMax holds the maximum achievable raw score per
	// indicator, used only for display normalization.
	IndicatorMax model.CompetencyScores
}

// NewConfig builds the default configuration for a concrete question
// set: weight 2 per Part 1 question (cap 24), weight 4 per Part 2
// question (cap 16), Part 3 cap 60, pass at 70. Indicator maxima are
// derived from the questions and tasks supplied.
func NewConfig(questions []model.Question, tasks []model.Part3Task) Config {
	c := Config{
		Part1Weight:   2,
		Part2Weight:   4,
		Part1Cap:      24,
		Part2Cap:      16,
		Part3Cap:      60,
		PassThreshold: 70,
		Part3Neutral:  8,
		IndicatorMax:  make(model.CompetencyScores),
	}
	for _, ind := range model.Indicators() {
		c.IndicatorMax[ind] = 0
	}
	for _, q := range questions {
		switch q.Part {
		case model.Part1:
			c.IndicatorMax[q.Indicator] += c.Part1Weight
		case model.Part2:
			c.IndicatorMax[q.Indicator] += c.Part2Weight
		}
	}
	for _, t := range tasks {
		if len(t.Indicators) == 0 {
			continue
		}
		share := t.MaxScore / float64(len(t.Indicators))
		for _, ind := range t.Indicators {
			c.IndicatorMax[ind] += share
		}
	}
	return c
}

// Part1Scores sums the fixed per-question weight for every Part 1
// question whose selected option matches the designated correct option,
// attributed to the question's indicator.
func (c Config) Part1Scores(questions []model.Question, answers []model.Answer) model.CompetencyScores {
	scores := zeroScores()
	for _, q := range questions {
		if q.Part != model.Part1 || q.Type != model.TypeSingleChoice {
			continue
		}
		selected, ok := parseString(answerValue(answers, model.Part1, q.ID))
		if !ok {
			continue
		}
		if selected == q.CorrectOption && selected != "" {
			scores[q.Indicator] += c.Part1Weight
		}
	}
	return scores
}

// Part2Scores applies the per-type all-or-nothing rules: ordering
// variants require order-sensitive equality with the canonical
// sequence, highlight requires exact set equality of selected issue
// IDs, rewrite requires the submitted word count to reach the
// question's minimum.
func (c Config) Part2Scores(questions []model.Question, answers []model.Answer) model.CompetencyScores {
	scores := zeroScores()
	for _, q := range questions {
		if q.Part != model.Part2 {
			continue
		}
		raw := answerValue(answers, model.Part2, q.ID)
		if correctPart2(q, raw) {
			scores[q.Indicator] += c.Part2Weight
		}
	}
	return scores
}

func correctPart2(q model.Question, raw json.RawMessage) bool {
	switch q.Type {
	case model.TypeDragDrop, model.TypeOrdering:
		seq, ok := parseStringSlice(raw)
		if !ok {
			return false
		}
		return equalSequence(seq, q.CorrectOrder)
	case model.TypeHighlight:
		sel, ok := parseStringSlice(raw)
		if !ok {
			return false
		}
		return equalSet(sel, q.CorrectIssues)
	case model.TypeRewrite:
		text, ok := parseString(raw)
		if !ok {
			return false
		}
		return len(strings.Fields(text)) >= q.MinWords
	default:
		return false
	}
}

// Part3Scores distributes each graded task's score evenly across the
// task's indicators, clamping to the task maximum. When no results are
// available a neutral provisional score is substituted per indicator.
func (c Config) Part3Scores(tasks []model.Part3Task, results []model.TaskResult) model.CompetencyScores {
	scores := zeroScores()
	if len(results) == 0 {
		for ind := range scores {
			scores[ind] = c.Part3Neutral
		}
		return scores
	}
	byID := make(map[string]model.Part3Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, r := range results {
		t, ok := byID[r.TaskID]
		if !ok || len(t.Indicators) == 0 {
			continue
		}
		earned := math.Min(math.Max(r.Score, 0), t.MaxScore)
		share := earned / float64(len(t.Indicators))
		for _, ind := range t.Indicators {
			scores[ind] += share
		}
	}
	return scores
}

// TotalScores sums the three per-part competency mappings.
func (c Config) TotalScores(p1, p2, p3 model.CompetencyScores) model.CompetencyScores {
	total := zeroScores()
	for _, part := range []model.CompetencyScores{p1, p2, p3} {
		for ind, v := range part {
			total[ind] += v
		}
	}
	return total
}

// PartTotal sums a part's sub-scores and clamps to the given cap.
func (c Config) PartTotal(scores model.CompetencyScores, limit float64) float64 {
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return math.Min(sum, limit)
}

// Total is the weighted exam total: the sum of the three capped part
// totals on the 100-point scale.
func (c Config) Total(p1, p2, p3 model.CompetencyScores) float64 {
	return c.PartTotal(p1, c.Part1Cap) +
		c.PartTotal(p2, c.Part2Cap) +
		c.PartTotal(p3, c.Part3Cap)
}

// Passed reports whether a total score meets the pass threshold.
func (c Config) Passed(total float64) bool {
	return total >= c.PassThreshold
}

// Normalize scales each indicator's raw total onto [0,100] against its
// own maximum. This feeds the radar display only and never the pass
// decision.
func (c Config) Normalize(total model.CompetencyScores) model.CompetencyScores {
	out := zeroScores()
	for ind, raw := range total {
		max := c.IndicatorMax[ind]
		if max <= 0 {
			continue
		}
		pct := raw / max * 100
		out[ind] = math.Round(math.Min(math.Max(pct, 0), 100))
	}
	return out
}

// RadarPoint is one axis of the competency radar display.
type RadarPoint struct {
	Indicator model.Indicator `json:"indicator"`
	Score     float64         `json:"score"`
}

// RadarData lays out normalized scores in fixed indicator order.
func RadarData(normalized model.CompetencyScores) []RadarPoint {
	points := make([]RadarPoint, 0, len(model.Indicators()))
	for _, ind := range model.Indicators() {
		points = append(points, RadarPoint{Indicator: ind, Score: normalized[ind]})
	}
	return points
}

func zeroScores() model.CompetencyScores {
	scores := make(model.CompetencyScores, 6)
	for _, ind := range model.Indicators() {
		scores[ind] = 0
	}
	return scores
}

func answerValue(answers []model.Answer, part model.PartID, questionID string) json.RawMessage {
	for _, a := range answers {
		if a.PartID == part && a.QuestionID == questionID {
			return a.Value
		}
	}
	return nil
}

// parseString decodes a JSON string payload. Anything else, including
// invalid JSON, counts as an absent answer.
func parseString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func parseStringSlice(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func equalSequence(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalSet(a, b []string) bool {
	if len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	if len(set) != len(b) {
		return false
	}
	for _, v := range b {
		if !set[v] {
			return false
		}
	}
	return true
}
