package progress

import (
	"context"
	"database/sql"
	"encoding/json"
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
	"github.com/mind-engage/learncore/internal/submission"
	syncx "github.com/mind-engage/learncore/internal/sync"
)

type env struct {
	h       *sql.DB
	content *curriculum.Store
	rec     *submission.Recorder
	agg     *Aggregator
	events  *syncx.EventRepo

	course curriculum.Course
	sprint curriculum.Sprint
	graded curriculum.Session
	lesson curriculum.Session
	t1, t2 curriculum.Task
}

func quiz(answer string) []curriculum.QuestionInput {
	return []curriculum.QuestionInput{{Text: "Q", Type: grading.ShortAnswer, Answer: answer}}
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	h, err := db.Open(ctx, db.DriverSQLite, fmt.Sprintf("file:progress_%p?mode=memory&cache=shared", t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	e := &env{h: h, content: curriculum.NewStore(h, db.DriverSQLite, nil)}
	e.events = syncx.NewEventRepo(h, "", nil)
	e.rec = submission.NewRecorder(h, e.content, e.events, nil, submission.WithDedupWindow(0))
	e.agg = NewAggregator(h, db.DriverSQLite, e.content, e.rec, e.events, nil, WithParallelism(2))

	e.course, err = e.content.CreateCourse(ctx, curriculum.CourseInput{Title: "Algebra", Published: true})
	require.NoError(t, err)
	e.sprint, err = e.content.CreateSprint(ctx, e.course.ID, curriculum.SprintInput{Name: "Basics"})
	require.NoError(t, err)
	e.graded, err = e.content.CreateSession(ctx, e.sprint.ID, curriculum.SessionInput{Name: "Practice"})
	require.NoError(t, err)
	e.lesson, err = e.content.CreateSession(ctx, e.sprint.ID, curriculum.SessionInput{Name: "Reading"})
	require.NoError(t, err)
	e.t1, err = e.content.CreateTask(ctx, e.graded.ID, curriculum.TaskInput{Title: "T1", Questions: quiz("4")})
	require.NoError(t, err)
	e.t2, err = e.content.CreateTask(ctx, e.graded.ID, curriculum.TaskInput{Title: "T2", Questions: quiz("9")})
	require.NoError(t, err)
	return e
}

func (e *env) answer(t *testing.T, learner string, task curriculum.Task, value string) {
	t.Helper()
	_, _, err := e.rec.Record(context.Background(), submission.Input{
		TaskID: task.ID, LearnerID: learner, Answers: grading.Answers{0: {value}},
	})
	require.NoError(t, err)
}

func (e *env) recompute(t *testing.T, learner string) Enrollment {
	t.Helper()
	en, err := e.agg.Recompute(context.Background(), learner, e.course.ID)
	require.NoError(t, err)
	return en
}

func TestProgressRollup(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	en, err := e.agg.Enroll(ctx, "u1", e.course.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, en.Progress)
	assert.Equal(t, NotStarted, en.Status)

	e.answer(t, "u1", e.t1, "4")
	en = e.recompute(t, "u1")
	assert.Equal(t, 33, en.Progress)
	assert.Equal(t, InProgress, en.Status)
	assert.Equal(t, []string{e.t1.ID}, en.CompletedTasks)

	en, err = e.agg.MarkLessonComplete(ctx, "u1", e.lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, 66, en.Progress)
	assert.Equal(t, []string{e.lesson.ID}, en.CompletedLessons)

	e.answer(t, "u1", e.t2, "wrong")
	assert.Equal(t, 66, e.recompute(t, "u1").Progress, "failed task does not count")

	e.answer(t, "u1", e.t2, "9")
	en = e.recompute(t, "u1")
	assert.Equal(t, 100, en.Progress)
	assert.Equal(t, Completed, en.Status)
}

func TestProgressNeverDecreases(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.answer(t, "u1", e.t1, "4")
	e.answer(t, "u1", e.t2, "9")
	_, err := e.agg.MarkLessonComplete(ctx, "u1", e.lesson.ID)
	require.NoError(t, err)
	require.Equal(t, 100, e.recompute(t, "u1").Progress)

	e.answer(t, "u1", e.t1, "5")
	_, err = e.content.CreateTask(ctx, e.graded.ID, curriculum.TaskInput{Title: "T3", Questions: quiz("1")})
	require.NoError(t, err)

	en := e.recompute(t, "u1")
	assert.Equal(t, 100, en.Progress)
	assert.Equal(t, Completed, en.Status)
	assert.NotContains(t, en.CompletedTasks, e.t1.ID, "completed set reflects the current state")
}

func TestZeroUnitCourseStaysNotStarted(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	empty, err := e.content.CreateCourse(ctx, curriculum.CourseInput{Title: "Empty"})
	require.NoError(t, err)

	en, err := e.agg.Enroll(ctx, "u1", empty.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, en.Progress)
	assert.Equal(t, NotStarted, en.Status)

	_, err = e.agg.IssueCertificate(ctx, "u1", empty.ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestInactiveContentIsNotCounted(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	off := false
	_, err := e.content.UpdateSession(ctx, e.lesson.ID, curriculum.SessionInput{Name: "Reading", Active: &off})
	require.NoError(t, err)

	e.answer(t, "u1", e.t1, "4")
	assert.Equal(t, 50, e.recompute(t, "u1").Progress)
}

func TestReportBreakdown(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.answer(t, "u1", e.t1, "4")
	e.recompute(t, "u1")

	rep, err := e.agg.Report(ctx, "u1", e.course.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Completed)
	assert.Equal(t, 3, rep.Total)
	require.Len(t, rep.Sprints, 1)
	sp := rep.Sprints[0]
	assert.Equal(t, 33, sp.Percent)
	require.Len(t, sp.Sessions, 2)
	assert.Equal(t, SessionProgress{SessionID: e.graded.ID, Name: "Practice", Completed: 1, Total: 2, Percent: 50}, sp.Sessions[0])
	assert.True(t, sp.Sessions[1].Lesson)

	_, err = e.agg.Report(ctx, "stranger", e.course.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestMarkLessonCompleteRejectsGradedSession(t *testing.T) {
	e := setup(t)
	_, err := e.agg.MarkLessonComplete(context.Background(), "u1", e.graded.ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	_, err = e.agg.MarkLessonComplete(context.Background(), "u1", "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func complete(t *testing.T, e *env, learner string) {
	t.Helper()
	e.answer(t, learner, e.t1, "4")
	e.answer(t, learner, e.t2, "9")
	_, err := e.agg.MarkLessonComplete(context.Background(), learner, e.lesson.ID)
	require.NoError(t, err)
}

func TestCertificateRequiresCompletion(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, err := e.agg.IssueCertificate(ctx, "u1", e.course.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	e.answer(t, "u1", e.t1, "4")
	e.recompute(t, "u1")
	_, err = e.agg.IssueCertificate(ctx, "u1", e.course.ID)
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "not_eligible", ae.Code)

	_, err = e.agg.GetCertificate(ctx, "u1", e.course.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestCertificateIssuedExactlyOnce(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	complete(t, e, "u1")

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := e.agg.IssueCertificate(ctx, "u1", e.course.ID)
			if assert.NoError(t, err) {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	evs, err := e.events.List(ctx, 0, syncx.TypeCertificateIssued, 100)
	require.NoError(t, err)
	assert.Len(t, evs, 1)

	got, err := e.agg.GetCertificate(ctx, "u1", e.course.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[0], got.ID)

	err = e.agg.Withdraw(ctx, "u1", e.course.ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestConcurrentRecomputeCompletesOnce(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, err := e.agg.MarkLessonComplete(ctx, "u1", e.lesson.ID)
	require.NoError(t, err)
	e.answer(t, "u1", e.t1, "4")
	e.answer(t, "u1", e.t2, "9")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			en, err := e.agg.Recompute(ctx, "u1", e.course.ID)
			if assert.NoError(t, err) {
				assert.Equal(t, 100, en.Progress)
				assert.Equal(t, Completed, en.Status)
			}
		}()
	}
	wg.Wait()

	evs, err := e.events.List(ctx, 0, syncx.TypeProgressUpdated, 100)
	require.NoError(t, err)
	reached := 0
	for _, ev := range evs {
		var d struct {
			To int `json:"to"`
		}
		require.NoError(t, json.Unmarshal(ev.Data, &d))
		if d.To == 100 {
			reached++
		}
	}
	assert.Equal(t, 1, reached)
}

// gatedOutcomes holds the first PassedTasks call until gate is closed.
type gatedOutcomes struct {
	inner   Outcomes
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedOutcomes) PassedTasks(ctx context.Context, learnerID, courseID string) (map[string]bool, error) {
	first := false
	g.once.Do(func() { first = true })
	passed, err := g.inner.PassedTasks(ctx, learnerID, courseID)
	if first {
		close(g.entered)
		<-g.gate
	}
	return passed, err
}

func TestRecomputeAfterSubmissionSeesIt(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, err := e.agg.MarkLessonComplete(ctx, "u1", e.lesson.ID)
	require.NoError(t, err)
	e.answer(t, "u1", e.t1, "4")

	outcomes := &gatedOutcomes{inner: e.rec, entered: make(chan struct{}), gate: make(chan struct{})}
	agg := NewAggregator(e.h, db.DriverSQLite, e.content, outcomes, e.events, nil)

	slow := make(chan Enrollment, 1)
	go func() {
		en, err := agg.Recompute(ctx, "u1", e.course.ID)
		assert.NoError(t, err)
		slow <- en
	}()
	<-outcomes.entered

	// The last task passes while the first run holds stale outcomes.
	e.answer(t, "u1", e.t2, "9")
	fresh := make(chan Enrollment, 1)
	go func() {
		en, err := agg.Recompute(ctx, "u1", e.course.ID)
		assert.NoError(t, err)
		fresh <- en
	}()
	close(outcomes.gate)

	assert.Equal(t, 66, (<-slow).Progress)
	en := <-fresh
	assert.Equal(t, 100, en.Progress)
	assert.Equal(t, Completed, en.Status)

	stored, err := agg.GetEnrollment(ctx, "u1", e.course.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.Progress)
}

func TestEnrollAndWithdraw(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.agg.Enroll(ctx, "u1", "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	e.answer(t, "u1", e.t1, "4")
	en, err := e.agg.Enroll(ctx, "u1", e.course.ID)
	require.NoError(t, err)
	assert.Equal(t, 33, en.Progress, "earlier work counts on enrollment")

	again, err := e.agg.Enroll(ctx, "u1", e.course.ID)
	require.NoError(t, err)
	assert.Equal(t, en.EnrolledAt, again.EnrolledAt)

	list, err := e.agg.ListEnrollments(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, e.agg.Withdraw(ctx, "u1", e.course.ID))
	_, err = e.agg.GetEnrollment(ctx, "u1", e.course.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	err = e.agg.Withdraw(ctx, "u1", e.course.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRecomputeCourseAfterDelete(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := e.agg.Enroll(ctx, u, e.course.ID)
		require.NoError(t, err)
		e.answer(t, u, e.t1, "4")
	}
	e.answer(t, "u1", e.t2, "9")

	require.NoError(t, e.content.DeleteSession(ctx, e.lesson.ID))
	require.NoError(t, e.agg.RecomputeCourse(ctx, e.course.ID))

	en, err := e.agg.GetEnrollment(ctx, "u1", e.course.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, en.Progress)
	en, err = e.agg.GetEnrollment(ctx, "u2", e.course.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, en.Progress)
}

func TestContentHookSchedulesRecompute(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, err := e.agg.Enroll(ctx, "u1", e.course.ID)
	require.NoError(t, err)
	e.answer(t, "u1", e.t1, "4")
	e.content.OnContentChange(e.agg.ContentChanged)

	require.NoError(t, e.content.DeleteTask(ctx, e.t2.ID))
	require.NoError(t, e.content.DeleteSession(ctx, e.lesson.ID))

	assert.Eventually(t, func() bool {
		en, err := e.agg.GetEnrollment(ctx, "u1", e.course.ID)
		return err == nil && en.Progress == 100
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFloorPercent(t *testing.T) {
	cases := []struct{ done, total, want int }{
		{0, 0, 0}, {0, 3, 0}, {1, 3, 33}, {2, 3, 66}, {3, 3, 100}, {5, 3, 100},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, floorPercent(c.done, c.total), "%d/%d", c.done, c.total)
	}
	assert.Equal(t, NotStarted, StatusFor(0))
	assert.Equal(t, InProgress, StatusFor(1))
	assert.Equal(t, Completed, StatusFor(100))
}
