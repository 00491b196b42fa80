package grading

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// PassPercent is the inclusive pass mark for a task.
const PassPercent = 80

// Strategy decides whether one answer is correct for one question.
type Strategy interface {
	Correct(q Question, a Answer) bool
}

// Engine routes by question type to the matching Strategy. It performs no
// I/O and never fails: unknown types and malformed answers score as
// incorrect.
type Engine struct {
	strategies map[QuestionType]Strategy
}

// NewEngine installs the built-in strategies.
func NewEngine() *Engine {
	return &Engine{
		strategies: map[QuestionType]Strategy{
			MultipleChoice: optionSetStrategy{},
			Matching:       optionSetStrategy{},
			TrueFalse:      trueFalseStrategy{},
			ShortAnswer:    textStrategy{},
			Essay:          textStrategy{},
			FillInBlank:    textStrategy{},
		},
	}
}

var defaultEngine = NewEngine()

// Score grades answers against questions with the default engine.
func Score(questions []Question, answers Answers) Result {
	return defaultEngine.Score(questions, answers)
}

func (e *Engine) Score(questions []Question, answers Answers) Result {
	res := Result{
		PerQuestion: make([]QuestionResult, len(questions)),
		Total:       len(questions),
	}
	for i, q := range questions {
		a, answered := answers[i]
		answered = answered && len(a) > 0
		qr := QuestionResult{
			Index:      i,
			QuestionID: q.ID,
			Type:       q.Type,
			Answered:   answered,
			Points:     q.Points,
		}
		if s, ok := e.strategies[q.Type]; ok && answered {
			qr.Correct = s.Correct(q, a)
		}
		if qr.Correct {
			qr.Earned = q.Points
			res.Correct++
		}
		res.EarnedPoints += qr.Earned
		res.MaxPoints += q.Points
		res.PerQuestion[i] = qr
	}
	res.Percent = Percent(res.Correct, res.Total)
	res.Passed = res.Total > 0 && res.Percent >= PassPercent
	return res
}

// Percent is round(100*correct/total), 0 for an empty task.
func Percent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(correct) / float64(total)))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// DecodeAnswers turns a wire answer map into Answers. Entries with a
// non-numeric key or an unreadable value are dropped so they score as
// unanswered.
func DecodeAnswers(raw map[string]json.RawMessage) Answers {
	out := make(Answers, len(raw))
	for k, v := range raw {
		idx, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || idx < 0 {
			continue
		}
		var a Answer
		if err := json.Unmarshal(v, &a); err != nil {
			continue
		}
		out[idx] = a
	}
	return out
}

// --- Strategies ---

// optionSetStrategy: the submitted set must equal the set of correct
// option texts exactly. Partial overlap earns nothing.
type optionSetStrategy struct{}

func (optionSetStrategy) Correct(q Question, a Answer) bool {
	correct := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		if o.IsCorrect {
			correct = append(correct, o.Text)
		}
	}
	if len(correct) == 0 {
		return false
	}
	return setEqual(toSet(correct), toSet(a))
}

type trueFalseStrategy struct{}

func (trueFalseStrategy) Correct(q Question, a Answer) bool {
	if len(a) != 1 {
		return false
	}
	for _, o := range q.Options {
		if o.IsCorrect {
			return foldEqual(o.Text, a[0])
		}
	}
	return false
}

// textStrategy compares normalized free text with the reference answer.
type textStrategy struct{}

func (textStrategy) Correct(q Question, a Answer) bool {
	if len(a) != 1 {
		return false
	}
	ref := normalize(q.Answer)
	return ref != "" && ref == normalize(a[0])
}

// helpers

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[strings.TrimSpace(s)] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
