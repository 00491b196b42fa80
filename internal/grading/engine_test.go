package grading

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mc(correct ...string) Question {
	opts := []Option{{Text: "A"}, {Text: "B"}, {Text: "C"}, {Text: "D"}}
	for i := range opts {
		for _, c := range correct {
			if opts[i].Text == c {
				opts[i].IsCorrect = true
			}
		}
	}
	return Question{Type: MultipleChoice, Points: 1, Options: opts}
}

func TestMultipleChoiceIsAllOrNothing(t *testing.T) {
	q := mc("A", "C")
	cases := []struct {
		name string
		ans  Answer
		want bool
	}{
		{"exact set", Answer{"A", "C"}, true},
		{"order independent", Answer{"C", "A"}, true},
		{"subset", Answer{"A"}, false},
		{"superset", Answer{"A", "B", "C"}, false},
		{"empty", Answer{}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res := Score([]Question{q}, Answers{0: c.ans})
			assert.Equal(t, c.want, res.PerQuestion[0].Correct)
		})
	}
}

func TestMatchingUsesCorrectOptionSet(t *testing.T) {
	q := Question{Type: Matching, Points: 1, Options: []Option{
		{Text: "Paris-France", IsCorrect: true},
		{Text: "Rome-Italy", IsCorrect: true},
		{Text: "Rome-Spain"},
	}}
	assert.True(t, Score([]Question{q}, Answers{0: {"Rome-Italy", "Paris-France"}}).PerQuestion[0].Correct)
	assert.False(t, Score([]Question{q}, Answers{0: {"Rome-Spain", "Paris-France"}}).PerQuestion[0].Correct)
}

func TestTrueFalse(t *testing.T) {
	q := Question{Type: TrueFalse, Points: 1, Options: TrueFalseOptions(true)}

	assert.True(t, Score([]Question{q}, Answers{0: {"True"}}).PerQuestion[0].Correct)
	assert.True(t, Score([]Question{q}, Answers{0: {" true "}}).PerQuestion[0].Correct)
	assert.False(t, Score([]Question{q}, Answers{0: {"False"}}).PerQuestion[0].Correct)
	assert.False(t, Score([]Question{q}, Answers{0: nil}).PerQuestion[0].Correct)
	assert.False(t, Score([]Question{q}, Answers{0: {"True", "False"}}).PerQuestion[0].Correct)
}

func TestFreeTextNormalization(t *testing.T) {
	for _, typ := range []QuestionType{ShortAnswer, Essay, FillInBlank} {
		q := Question{Type: typ, Points: 1, Answer: "Paris"}
		assert.True(t, Score([]Question{q}, Answers{0: {"  paris "}}).PerQuestion[0].Correct, typ)
		assert.False(t, Score([]Question{q}, Answers{0: {"Pariss"}}).PerQuestion[0].Correct, typ)
	}

	q := Question{Type: ShortAnswer, Points: 1, Answer: "New  York"}
	assert.True(t, Score([]Question{q}, Answers{0: {"new york"}}).PerQuestion[0].Correct)
}

func TestPassBoundaryIsInclusive(t *testing.T) {
	qs := make([]Question, 5)
	ans := Answers{}
	for i := range qs {
		qs[i] = Question{Type: ShortAnswer, Points: 1, Answer: "x"}
		ans[i] = Answer{"x"}
	}
	ans[4] = Answer{"wrong"}

	res := Score(qs, ans)
	assert.Equal(t, 4, res.Correct)
	assert.Equal(t, 80, res.Percent)
	assert.True(t, res.Passed)

	ans[3] = Answer{"wrong"}
	res = Score(qs, ans)
	assert.Equal(t, 60, res.Percent)
	assert.False(t, res.Passed)
}

func TestUnansweredCountsInDenominator(t *testing.T) {
	qs := []Question{
		{Type: ShortAnswer, Points: 1, Answer: "a"},
		{Type: ShortAnswer, Points: 1, Answer: "b"},
		{Type: ShortAnswer, Points: 1, Answer: "c"},
	}
	res := Score(qs, Answers{0: {"a"}})
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 33, res.Percent)
	assert.False(t, res.PerQuestion[1].Answered)
}

func TestScoreShapeAndRange(t *testing.T) {
	qs := []Question{mc("A"), {Type: TrueFalse, Options: TrueFalseOptions(false)}, {Type: "unknown"}}
	answers := Answers{0: {"A"}, 1: {"False"}, 2: {"?"}, 7: {"ignored"}}

	res := Score(qs, answers)
	require.Len(t, res.PerQuestion, len(qs))
	assert.GreaterOrEqual(t, res.Percent, 0)
	assert.LessOrEqual(t, res.Percent, 100)
	assert.Equal(t, 67, res.Percent)
	assert.False(t, res.PerQuestion[2].Correct)
}

func TestEmptyTaskNeverPasses(t *testing.T) {
	res := Score(nil, Answers{0: {"x"}})
	assert.Zero(t, res.Percent)
	assert.False(t, res.Passed)
	assert.Empty(t, res.PerQuestion)
}

func TestScoreIsDeterministic(t *testing.T) {
	qs := []Question{mc("B", "D"), {Type: Essay, Answer: "photosynthesis", Points: 3}}
	ans := Answers{0: {"D", "B"}, 1: {"Photosynthesis"}}
	first := Score(qs, ans)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Score(qs, ans))
	}
	assert.Equal(t, 4.0, first.EarnedPoints)
	assert.Equal(t, 4.0, first.MaxPoints)
}

func TestDecodeAnswers(t *testing.T) {
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(`{"0":"Paris","1":["A","C"],"2":null,"x":"bad","3":42}`), &raw))

	ans := DecodeAnswers(raw)
	assert.Equal(t, Answer{"Paris"}, ans[0])
	assert.Equal(t, Answer{"A", "C"}, ans[1])
	assert.Nil(t, ans[2])
	_, has := ans[3]
	assert.False(t, has)
	assert.Len(t, ans, 3)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		q     Question
		field string
	}{
		{"ok mc", mc("A"), ""},
		{"mc without correct", mc(), "options"},
		{"tf ok", Question{Type: TrueFalse, Options: TrueFalseOptions(true)}, ""},
		{"tf wrong labels", Question{Type: TrueFalse, Options: []Option{{Text: "Yes", IsCorrect: true}, {Text: "No"}}}, "options"},
		{"short answer missing ref", Question{Type: ShortAnswer}, "answer"},
		{"negative points", Question{Type: Essay, Answer: "x", Points: -1}, "points"},
		{"unknown type", Question{Type: "poll"}, "questionType"},
		{"duplicate options", Question{Type: MultipleChoice, Options: []Option{{Text: "A", IsCorrect: true}, {Text: "A"}}}, "options"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			field, _ := Validate(c.q)
			assert.Equal(t, c.field, field)
		})
	}
}
