package grading

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	ShortAnswer    QuestionType = "short_answer"
	Essay          QuestionType = "essay"
	Matching       QuestionType = "matching"
	FillInBlank    QuestionType = "fill_in_blank"
)

func (t QuestionType) Valid() bool {
	switch t {
	case MultipleChoice, TrueFalse, ShortAnswer, Essay, Matching, FillInBlank:
		return true
	}
	return false
}

// ChoiceLike reports whether the type is answered by picking options.
func (t QuestionType) ChoiceLike() bool {
	return t == MultipleChoice || t == TrueFalse || t == Matching
}

// Option is one selectable answer of a choice-like question.
type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// Question is the answer-key view of a question needed for scoring.
type Question struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"questionType"`
	Points  float64      `json:"points"`
	Options []Option     `json:"options,omitempty"`
	Answer  string       `json:"answer,omitempty"`
}

// Answer holds the submitted value(s) for one question: the selected
// option texts, or a single free-text entry.
type Answer []string

// UnmarshalJSON accepts a string, an array of strings, or null.
func (a *Answer) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*a = nil
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Answer{s}
		return nil
	case b[0] == '[':
		var arr []string
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*a = Answer(arr)
		return nil
	}
	return fmt.Errorf("answer must be a string or an array of strings")
}

// Answers maps a question's index within its task to the learner's answer.
type Answers map[int]Answer

// QuestionResult is the outcome for one question.
type QuestionResult struct {
	Index      int          `json:"index"`
	QuestionID string       `json:"questionId,omitempty"`
	Type       QuestionType `json:"questionType"`
	Answered   bool         `json:"answered"`
	Correct    bool         `json:"correct"`
	Points     float64      `json:"points"`
	Earned     float64      `json:"earned"`
}

// Result is the outcome of scoring a whole task.
type Result struct {
	PerQuestion  []QuestionResult `json:"perQuestion"`
	Correct      int              `json:"correct"`
	Total        int              `json:"total"`
	Percent      int              `json:"percent"`
	Passed       bool             `json:"passed"`
	EarnedPoints float64          `json:"earnedPoints"`
	MaxPoints    float64          `json:"maxPoints"`
}
