package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/curriculum"
	"github.com/mind-engage/learncore/internal/db"
	"github.com/mind-engage/learncore/internal/grading"
	syncx "github.com/mind-engage/learncore/internal/sync"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type env struct {
	content *curriculum.Store
	rec     *Recorder
	events  *syncx.EventRepo
	clock   *clock
	task    curriculum.Task
	course  curriculum.Course
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	h, err := db.Open(ctx, db.DriverSQLite, fmt.Sprintf("file:submission_%p?mode=memory&cache=shared", t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	content := curriculum.NewStore(h, db.DriverSQLite, nil)
	c, err := content.CreateCourse(ctx, curriculum.CourseInput{Title: "Geography"})
	require.NoError(t, err)
	sp, err := content.CreateSprint(ctx, c.ID, curriculum.SprintInput{Name: "Europe"})
	require.NoError(t, err)
	se, err := content.CreateSession(ctx, sp.ID, curriculum.SessionInput{Name: "Capitals"})
	require.NoError(t, err)
	tk, err := content.CreateTask(ctx, se.ID, curriculum.TaskInput{Title: "Quiz", Questions: []curriculum.QuestionInput{
		{Text: "Capital of France?", Type: grading.ShortAnswer, Answer: "Paris"},
		{Text: "Pick the EU members", Type: grading.MultipleChoice, Options: []grading.Option{
			{Text: "Spain", IsCorrect: true}, {Text: "Norway"}, {Text: "Italy", IsCorrect: true},
		}},
	}})
	require.NoError(t, err)

	events := syncx.NewEventRepo(h, "", nil)
	clk := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	rec := NewRecorder(h, content, events, nil, WithClock(clk.now))
	return &env{content: content, rec: rec, events: events, clock: clk, task: tk, course: c}
}

func perfect() grading.Answers {
	return grading.Answers{0: {"paris"}, 1: {"Italy", "Spain"}}
}

func (e *env) submit(t *testing.T, learner string, ans grading.Answers, token string) (Submission, bool) {
	t.Helper()
	s, replayed, err := e.rec.Record(context.Background(), Input{
		TaskID: e.task.ID, SessionID: e.task.SessionID, LearnerID: learner, Answers: ans, RequestToken: token,
	})
	require.NoError(t, err)
	return s, replayed
}

func TestRecordScoresAndStores(t *testing.T) {
	e := setup(t)
	s, replayed := e.submit(t, "u1", perfect(), "")
	assert.False(t, replayed)
	assert.Equal(t, 100, s.Score)
	assert.True(t, s.Passed)
	assert.Equal(t, 1, s.Attempt)
	assert.Equal(t, e.course.ID, s.CourseID)
	assert.Equal(t, SchemaVersion, s.SchemaVersion)
	require.Len(t, s.Results, 2)

	got, err := e.rec.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Score, got.Score)
	assert.Equal(t, perfect(), got.Answers)
	assert.Len(t, got.KeySnapshot, 2)

	evs, err := e.events.List(context.Background(), 0, syncx.TypeSubmissionRecorded, 10)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestSameTokenIsReplayed(t *testing.T) {
	e := setup(t)
	first, _ := e.submit(t, "u1", perfect(), "tok-1")
	e.clock.advance(time.Hour)
	again, replayed := e.submit(t, "u1", grading.Answers{0: {"Rome"}}, "tok-1")

	assert.True(t, replayed)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 100, again.Score)

	hist, err := e.rec.History(context.Background(), e.task.ID, "u1")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestConcurrentSameTokenStoresOnce(t *testing.T) {
	e := setup(t)
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := e.rec.Record(context.Background(), Input{TaskID: e.task.ID, LearnerID: "u1", Answers: perfect(), RequestToken: "tok"})
			if assert.NoError(t, err) {
				ids[i] = s.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	hist, err := e.rec.History(context.Background(), e.task.ID, "u1")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestIdenticalAnswersWithinWindowAreReplayed(t *testing.T) {
	e := setup(t)
	first, _ := e.submit(t, "u1", perfect(), "")

	e.clock.advance(3 * time.Second)
	again, replayed := e.submit(t, "u1", grading.Answers{1: {" Spain", "Italy"}, 0: {"paris"}}, "")
	assert.True(t, replayed)
	assert.Equal(t, first.ID, again.ID)

	e.clock.advance(10 * time.Second)
	later, replayed := e.submit(t, "u1", perfect(), "")
	assert.False(t, replayed)
	assert.Equal(t, 2, later.Attempt)
}

func TestLatestIsAuthoritative(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.submit(t, "u1", perfect(), "")
	e.clock.advance(time.Second)
	failed, _ := e.submit(t, "u1", grading.Answers{0: {"Lyon"}}, "")
	assert.False(t, failed.Passed)
	assert.Equal(t, 2, failed.Attempt)

	latest, err := e.rec.Latest(ctx, e.task.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, failed.ID, latest.ID)

	passed, err := e.rec.PassedTasks(ctx, "u1", e.course.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{e.task.ID: false}, passed)

	hist, err := e.rec.History(ctx, e.task.ID, "u1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, 2, hist[0].Attempt)

	_, err = e.rec.Latest(ctx, e.task.ID, "nobody")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRecordRejectsBadInput(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, _, err := e.rec.Record(ctx, Input{TaskID: "missing", LearnerID: "u1"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, _, err = e.rec.Record(ctx, Input{TaskID: e.task.ID, SessionID: "other", LearnerID: "u1"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, _, err = e.rec.Record(ctx, Input{TaskID: e.task.ID, LearnerID: "u1", TimeSpentSec: -1})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, _, err = e.rec.Record(ctx, Input{TaskID: e.task.ID})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	hist, err := e.rec.History(ctx, e.task.ID, "u1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestRescoreUsesSnapshot(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	s, _ := e.submit(t, "u1", perfect(), "")

	_, err := e.content.UpdateQuestion(ctx, e.task.Questions[0].ID, curriculum.QuestionInput{
		Text: "Capital of Germany?", Type: grading.ShortAnswer, Answer: "Berlin",
	})
	require.NoError(t, err)

	rep, err := e.rec.Rescore(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, rep.Match)
	assert.Equal(t, 100, rep.Result.Percent)
}

func TestHooksFireOnlyForNewSubmissions(t *testing.T) {
	e := setup(t)
	var got []Submission
	e.rec.OnRecorded(func(_ context.Context, s Submission) { got = append(got, s) })

	e.submit(t, "u1", perfect(), "a")
	e.submit(t, "u1", perfect(), "a")
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].LearnerID)
}

func TestHashAnswersIsOrderInsensitive(t *testing.T) {
	a := grading.Answers{0: {"x"}, 1: {"A", "B"}}
	b := grading.Answers{1: {"B", " A"}, 0: {"x"}}
	assert.Equal(t, hashAnswers(a), hashAnswers(b))
	assert.NotEqual(t, hashAnswers(a), hashAnswers(grading.Answers{0: {"x"}}))
}
