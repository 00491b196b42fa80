package curriculum

import (
	"strings"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/grading"
)

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return apperr.Validation(field, "required")
	}
	return nil
}

func (in *CourseInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	if err := required("title", in.Title); err != nil {
		return err
	}
	if in.PriceCents < 0 {
		return apperr.Validation("priceCents", "must be >= 0")
	}
	if in.Free == nil {
		free := in.PriceCents == 0
		in.Free = &free
	}
	return nil
}

// normalize validates a sprint and swaps a reversed date range.
func (in *SprintInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	if err := required("name", in.Name); err != nil {
		return err
	}
	if !in.StartAt.IsZero() && !in.EndAt.IsZero() && in.StartAt.After(in.EndAt) {
		in.StartAt, in.EndAt = in.EndAt, in.StartAt
	}
	return nil
}

func (in *SessionInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	if err := required("name", in.Name); err != nil {
		return err
	}
	if in.DurationMin < 0 {
		return apperr.Validation("duration", "must be >= 0")
	}
	return nil
}

func (in *TaskInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	if err := required("title", in.Title); err != nil {
		return err
	}
	for i := range in.Questions {
		if err := in.Questions[i].normalize(); err != nil {
			return err
		}
	}
	return nil
}

// normalize applies defaults and checks the answer-key invariants. A
// true/false question may be given as just answer "true"/"false"; the two
// fixed options are then generated.
func (in *QuestionInput) normalize() error {
	in.Text = strings.TrimSpace(in.Text)
	if err := required("text", in.Text); err != nil {
		return err
	}
	if in.Points == nil {
		one := 1.0
		in.Points = &one
	}
	if in.Type == grading.TrueFalse && len(in.Options) == 0 {
		switch strings.ToLower(strings.TrimSpace(in.Answer)) {
		case "true":
			in.Options = grading.TrueFalseOptions(true)
		case "false":
			in.Options = grading.TrueFalseOptions(false)
		}
	}
	if in.Type.ChoiceLike() {
		in.Answer = ""
		for i := range in.Options {
			in.Options[i].Text = strings.TrimSpace(in.Options[i].Text)
		}
	} else {
		in.Options = nil
		in.Answer = strings.TrimSpace(in.Answer)
	}
	field, msg := grading.Validate(grading.Question{Type: in.Type, Points: *in.Points, Options: in.Options, Answer: in.Answer})
	if field != "" {
		return apperr.Validation(field, msg)
	}
	return nil
}
