package grading

import (
	"fmt"
	"strings"
)

// TrueFalseOptions returns the two fixed options of a true/false question
// with the correct one flagged.
func TrueFalseOptions(correct bool) []Option {
	return []Option{{Text: "True", IsCorrect: correct}, {Text: "False", IsCorrect: !correct}}
}

// Validate checks the answer-key invariants of a question. It returns the
// offending field name and a message, or "" when the question is gradable.
func Validate(q Question) (field, msg string) {
	if !q.Type.Valid() {
		return "questionType", fmt.Sprintf("unknown type %q", q.Type)
	}
	if q.Points < 0 {
		return "points", "must be >= 0"
	}
	if !q.Type.ChoiceLike() {
		if strings.TrimSpace(q.Answer) == "" {
			return "answer", "reference answer required"
		}
		return "", ""
	}
	correct := 0
	seen := make(map[string]struct{}, len(q.Options))
	for _, o := range q.Options {
		t := strings.TrimSpace(o.Text)
		if t == "" {
			return "options", "option text required"
		}
		if _, dup := seen[t]; dup {
			return "options", fmt.Sprintf("duplicate option %q", t)
		}
		seen[t] = struct{}{}
		if o.IsCorrect {
			correct++
		}
	}
	if correct == 0 {
		return "options", "at least one correct option required"
	}
	if q.Type == TrueFalse {
		if len(q.Options) != 2 || correct != 1 {
			return "options", "true/false needs exactly the options True and False with one correct"
		}
		for _, o := range q.Options {
			t := strings.TrimSpace(o.Text)
			if t != "True" && t != "False" {
				return "options", "true/false options must be True and False"
			}
		}
	}
	return "", ""
}
