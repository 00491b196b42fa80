package curriculum

import (
	"time"

	"github.com/mind-engage/learncore/internal/grading"
)

type Course struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Published   bool      `json:"published"`
	Free        bool      `json:"free"`
	PriceCents  int64     `json:"priceCents"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Sprint struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"courseId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Goal        string    `json:"goal"`
	StartAt     time.Time `json:"startDate"`
	EndAt       time.Time `json:"endDate"`
	Active      bool      `json:"active"`
	Order       int       `json:"order"`
}

type Session struct {
	ID          string `json:"id"`
	SprintID    string `json:"sprintId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	DurationMin int    `json:"duration"`
	ContentRef  string `json:"contentRef"`
	Active      bool   `json:"active"`
	Order       int    `json:"order"`
}

type Task struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Order       int        `json:"order"`
	Questions   []Question `json:"questions,omitempty"`
}

type Question struct {
	ID          string               `json:"id"`
	TaskID      string               `json:"taskId"`
	Text        string               `json:"text"`
	Type        grading.QuestionType `json:"questionType"`
	Points      float64              `json:"points"`
	Options     []grading.Option     `json:"options,omitempty"`
	Answer      string               `json:"answer,omitempty"`
	Explanation string               `json:"explanation,omitempty"`
	Order       int                  `json:"order"`
}

// Key returns the answer-key view used by the scoring engine.
func (q Question) Key() grading.Question {
	return grading.Question{ID: q.ID, Type: q.Type, Points: q.Points, Options: q.Options, Answer: q.Answer}
}

// Keys returns the answer keys of a task's questions in order.
func (t Task) Keys() []grading.Question {
	out := make([]grading.Question, len(t.Questions))
	for i, q := range t.Questions {
		out[i] = q.Key()
	}
	return out
}

// LearnerView strips correctness flags and reference answers.
func (t Task) LearnerView() Task {
	out := t
	out.Questions = make([]Question, len(t.Questions))
	for i, q := range t.Questions {
		q.Answer = ""
		q.Explanation = ""
		if len(q.Options) > 0 {
			opts := make([]grading.Option, len(q.Options))
			for j, o := range q.Options {
				opts[j] = grading.Option{Text: o.Text}
			}
			q.Options = opts
		}
		out.Questions[i] = q
	}
	return out
}

// Level names a sibling set in the hierarchy by its child type.
type Level string

const (
	LevelSprint   Level = "sprint"
	LevelSession  Level = "session"
	LevelTask     Level = "task"
	LevelQuestion Level = "question"
)

// Inputs for create/update. Pointer fields on updates are optional.

type CourseInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Published   bool   `json:"published"`
	Free        *bool  `json:"free,omitempty"`
	PriceCents  int64  `json:"priceCents"`
}

type SprintInput struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Goal        string    `json:"goal"`
	StartAt     time.Time `json:"startDate"`
	EndAt       time.Time `json:"endDate"`
	Active      *bool     `json:"active,omitempty"`
}

type SessionInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	DurationMin int    `json:"duration"`
	ContentRef  string `json:"contentRef"`
	Active      *bool  `json:"active,omitempty"`
}

type TaskInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Questions   []QuestionInput `json:"questions,omitempty"`
}

type QuestionInput struct {
	Text        string               `json:"text"`
	Type        grading.QuestionType `json:"questionType"`
	Points      *float64             `json:"points,omitempty"`
	Options     []grading.Option     `json:"options,omitempty"`
	Answer      string               `json:"answer,omitempty"`
	Explanation string               `json:"explanation,omitempty"`
}
