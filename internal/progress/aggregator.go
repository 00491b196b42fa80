package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/curriculum"
	"github.com/mind-engage/learncore/internal/db"
	"github.com/mind-engage/learncore/internal/lock"
	"github.com/mind-engage/learncore/internal/logger"
	syncx "github.com/mind-engage/learncore/internal/sync"
)

// Content is the read side of the hierarchy the aggregator walks.
type Content interface {
	Tree(ctx context.Context, courseID string) (curriculum.CourseTree, error)
	SessionInfo(ctx context.Context, sessionID string) (curriculum.SessionInfo, error)
}

// Outcomes reports, per attempted task, whether the authoritative
// submission passed.
type Outcomes interface {
	PassedTasks(ctx context.Context, learnerID, courseID string) (map[string]bool, error)
}

type Aggregator struct {
	db          *sql.DB
	driver      db.Driver
	content     Content
	outcomes    Outcomes
	events      *syncx.EventRepo
	locker      lock.Locker
	log         *logger.Logger
	now         func() time.Time
	parallelism int
	lockTTL     time.Duration
}

type Option func(*Aggregator)

// WithLocker replaces the in-process lock, e.g. with a Redis lock shared by
// several instances.
func WithLocker(l lock.Locker) Option { return func(a *Aggregator) { a.locker = l } }

func WithParallelism(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.parallelism = n
		}
	}
}

func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

func NewAggregator(h *sql.DB, driver db.Driver, content Content, outcomes Outcomes, events *syncx.EventRepo, log *logger.Logger, opts ...Option) *Aggregator {
	if log == nil {
		log = logger.Nop()
	}
	a := &Aggregator{
		db:          h,
		driver:      driver,
		content:     content,
		outcomes:    outcomes,
		events:      events,
		locker:      lock.NewLocal(),
		log:         log.With("component", "progress"),
		now:         time.Now,
		parallelism: 8,
		lockTTL:     30 * time.Second,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func key(learnerID, courseID string) string { return learnerID + ":" + courseID }

// Recompute rebuilds the learner's completion state for a course from the
// current tree and authoritative submissions. Stored progress never goes
// down. A learner without an enrollment is enrolled.
// Same-learner runs are serialized by the lock and each one reads outcomes
// only after acquiring it.
func (a *Aggregator) Recompute(ctx context.Context, learnerID, courseID string) (Enrollment, error) {
	en, err := a.lockedRecompute(ctx, learnerID, courseID)
	if err != nil {
		a.log.Warn("progress recompute failed", "learner_id", learnerID, "course_id", courseID, "err", err)
		return Enrollment{}, err
	}
	return en, nil
}

func (a *Aggregator) lockedRecompute(ctx context.Context, learnerID, courseID string) (Enrollment, error) {
	release, err := a.locker.Acquire(ctx, "progress:"+key(learnerID, courseID), a.lockTTL)
	if err != nil {
		return Enrollment{}, err
	}
	defer release()
	return a.recompute(ctx, learnerID, courseID)
}

func (a *Aggregator) recompute(ctx context.Context, learnerID, courseID string) (Enrollment, error) {
	tree, err := a.content.Tree(ctx, courseID)
	if err != nil {
		return Enrollment{}, err
	}
	passed, err := a.outcomes.PassedTasks(ctx, learnerID, courseID)
	if err != nil {
		return Enrollment{}, err
	}
	lessons, err := a.lessonsDone(ctx, learnerID, courseID)
	if err != nil {
		return Enrollment{}, err
	}
	t := count(tree, passed, lessons)

	now := a.now().UnixMilli()
	tasksJSON, _ := json.Marshal(t.completedTasks)
	lessonsJSON, _ := json.Marshal(t.completedLessons)
	var before, after int
	err = db.WithTx(ctx, a.db, func(tx *sql.Tx) error {
		if _, err := a.ensureEnrollment(ctx, tx, learnerID, courseID, now); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT progress FROM enrollments WHERE learner_id=$1 AND course_id=$2`+db.LockClause(a.driver),
			learnerID, courseID).Scan(&before); err != nil {
			return db.Classify(err)
		}
		after = max(before, t.percent())
		_, err := tx.ExecContext(ctx, `UPDATE enrollments
			SET progress = CASE WHEN progress > $1 THEN progress ELSE $1 END,
			    status=$2, completed_tasks_json=$3, completed_lessons_json=$4, updated_at=$5
			WHERE learner_id=$6 AND course_id=$7`,
			after, string(StatusFor(after)), string(tasksJSON), string(lessonsJSON), now, learnerID, courseID)
		if err != nil {
			return db.Classify(err)
		}
		if after != before && a.events != nil {
			return a.events.Append(ctx, tx, progressEvent(learnerID, courseID, before, after))
		}
		return nil
	})
	if err != nil {
		return Enrollment{}, err
	}
	if after != before {
		a.log.Info("progress updated", "learner_id", learnerID, "course_id", courseID, "from", before, "to", after)
		if a.events != nil {
			a.events.Emit(ctx, progressEvent(learnerID, courseID, before, after))
		}
	}
	return a.GetEnrollment(ctx, learnerID, courseID)
}

func progressEvent(learnerID, courseID string, from, to int) syncx.Event {
	return syncx.NewEvent(syncx.TypeProgressUpdated, key(learnerID, courseID), map[string]any{
		"learnerId": learnerID, "courseId": courseID, "from": from, "to": to, "status": StatusFor(to),
	})
}

// ensureEnrollment inserts the enrollment row if missing and reports
// whether it did.
func (a *Aggregator) ensureEnrollment(ctx context.Context, q db.Querier, learnerID, courseID string, now int64) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM courses WHERE id=$1`, courseID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperr.NotFound("course", courseID)
	}
	if err != nil {
		return false, db.Classify(err)
	}
	res, err := q.ExecContext(ctx, `INSERT INTO enrollments (learner_id, course_id, progress, status, enrolled_at, updated_at)
		VALUES ($1,$2,0,$3,$4,$4) ON CONFLICT (learner_id, course_id) DO NOTHING`,
		learnerID, courseID, string(NotStarted), now)
	if err != nil {
		return false, db.Classify(err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (a *Aggregator) lessonsDone(ctx context.Context, learnerID, courseID string) (map[string]bool, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT lc.session_id FROM lesson_completions lc
		JOIN sessions se ON se.id=lc.session_id JOIN sprints sp ON sp.id=se.sprint_id
		WHERE lc.learner_id=$1 AND sp.course_id=$2`, learnerID, courseID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, db.Classify(err)
		}
		out[id] = true
	}
	return out, db.Classify(rows.Err())
}

// Report returns the enrollment with a per-sprint and per-session
// breakdown of the current tree.
func (a *Aggregator) Report(ctx context.Context, learnerID, courseID string) (Report, error) {
	e, err := a.GetEnrollment(ctx, learnerID, courseID)
	if err != nil {
		return Report{}, err
	}
	tree, err := a.content.Tree(ctx, courseID)
	if err != nil {
		return Report{}, err
	}
	passed, err := a.outcomes.PassedTasks(ctx, learnerID, courseID)
	if err != nil {
		return Report{}, err
	}
	lessons, err := a.lessonsDone(ctx, learnerID, courseID)
	if err != nil {
		return Report{}, err
	}
	t := count(tree, passed, lessons)
	return Report{Enrollment: e, Completed: t.completed, Total: t.total, Sprints: t.sprints}, nil
}

// MarkLessonComplete records that the learner finished an ungraded
// session. Repeats are no-ops apart from the recompute.
func (a *Aggregator) MarkLessonComplete(ctx context.Context, learnerID, sessionID string) (Enrollment, error) {
	info, err := a.content.SessionInfo(ctx, sessionID)
	if err != nil {
		return Enrollment{}, err
	}
	if info.Tasks > 0 {
		return Enrollment{}, apperr.Conflict("graded_session", "session has graded tasks; submit them instead")
	}
	res, err := a.db.ExecContext(ctx, `INSERT INTO lesson_completions (learner_id, session_id, completed_at)
		VALUES ($1,$2,$3) ON CONFLICT (learner_id, session_id) DO NOTHING`, learnerID, sessionID, a.now().UnixMilli())
	if err != nil {
		return Enrollment{}, db.Classify(err)
	}
	if n, _ := res.RowsAffected(); n == 1 && a.events != nil {
		ev := syncx.NewEvent(syncx.TypeLessonCompleted, key(learnerID, sessionID), map[string]string{
			"learnerId": learnerID, "sessionId": sessionID, "courseId": info.CourseID,
		})
		if err := a.events.Append(ctx, nil, ev); err != nil {
			a.log.Warn("lesson event append failed", "err", err)
		}
	}
	return a.Recompute(ctx, learnerID, info.CourseID)
}

// IssueCertificate issues the course certificate once. Concurrent and
// repeated calls all get the same certificate; only the first appends the
// CertificateIssued event.
func (a *Aggregator) IssueCertificate(ctx context.Context, learnerID, courseID string) (Certificate, error) {
	e, err := a.GetEnrollment(ctx, learnerID, courseID)
	if err != nil {
		return Certificate{}, err
	}
	if e.CertificateIssued {
		return certificateOf(e), nil
	}
	if e.Status != Completed {
		return Certificate{}, apperr.Conflict("not_eligible", fmt.Sprintf("course is %d%% complete", e.Progress))
	}

	cert := Certificate{ID: uuid.NewString(), LearnerID: learnerID, CourseID: courseID, IssuedAt: a.now().UTC().Truncate(time.Millisecond)}
	won := false
	err = db.WithTx(ctx, a.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE enrollments SET certificate_issued=$1, certificate_id=$2, issued_at=$3, updated_at=$3
			WHERE learner_id=$4 AND course_id=$5 AND status=$6 AND NOT certificate_issued`,
			true, cert.ID, cert.IssuedAt.UnixMilli(), learnerID, courseID, string(Completed))
		if err != nil {
			return db.Classify(err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil
		}
		won = true
		if a.events == nil {
			return nil
		}
		return a.events.Append(ctx, tx, certificateEvent(cert))
	})
	if err != nil {
		return Certificate{}, err
	}
	if won {
		a.log.Info("certificate issued", "learner_id", learnerID, "course_id", courseID, "certificate_id", cert.ID)
		if a.events != nil {
			a.events.Emit(ctx, certificateEvent(cert))
		}
		return cert, nil
	}
	return a.GetCertificate(ctx, learnerID, courseID)
}

func certificateEvent(c Certificate) syncx.Event {
	return syncx.NewEvent(syncx.TypeCertificateIssued, key(c.LearnerID, c.CourseID), c)
}

func certificateOf(e Enrollment) Certificate {
	return Certificate{ID: e.CertificateID, LearnerID: e.LearnerID, CourseID: e.CourseID, IssuedAt: e.IssuedAt}
}

func (a *Aggregator) GetCertificate(ctx context.Context, learnerID, courseID string) (Certificate, error) {
	e, err := a.GetEnrollment(ctx, learnerID, courseID)
	if err != nil {
		return Certificate{}, err
	}
	if !e.CertificateIssued {
		return Certificate{}, apperr.NotFound("certificate", courseID)
	}
	return certificateOf(e), nil
}

// Enroll creates the enrollment if needed and brings its progress up to
// date with any earlier activity.
func (a *Aggregator) Enroll(ctx context.Context, learnerID, courseID string) (Enrollment, error) {
	created, err := a.ensureEnrollment(ctx, a.db, learnerID, courseID, a.now().UnixMilli())
	if err != nil {
		return Enrollment{}, err
	}
	if created {
		a.log.Info("enrolled", "learner_id", learnerID, "course_id", courseID)
		if a.events != nil {
			ev := syncx.NewEvent(syncx.TypeEnrolled, key(learnerID, courseID), map[string]string{"learnerId": learnerID, "courseId": courseID})
			if err := a.events.Append(ctx, nil, ev); err != nil {
				a.log.Warn("enroll event append failed", "err", err)
			}
		}
	}
	return a.Recompute(ctx, learnerID, courseID)
}

// Withdraw removes an enrollment. A certified enrollment is kept.
func (a *Aggregator) Withdraw(ctx context.Context, learnerID, courseID string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM enrollments WHERE learner_id=$1 AND course_id=$2 AND NOT certificate_issued`, learnerID, courseID)
	if err != nil {
		return db.Classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := a.GetEnrollment(ctx, learnerID, courseID); err != nil {
			return err
		}
		return apperr.Conflict("certificate_issued", "a certified enrollment cannot be withdrawn")
	}
	if a.events != nil {
		ev := syncx.NewEvent(syncx.TypeWithdrawn, key(learnerID, courseID), map[string]string{"learnerId": learnerID, "courseId": courseID})
		if err := a.events.Append(ctx, nil, ev); err != nil {
			a.log.Warn("withdraw event append failed", "err", err)
		}
	}
	a.log.Info("withdrawn", "learner_id", learnerID, "course_id", courseID)
	return nil
}

const enrollmentCols = `learner_id,course_id,progress,status,completed_tasks_json,completed_lessons_json,certificate_issued,certificate_id,issued_at,enrolled_at,updated_at`

func scanEnrollment(sc interface{ Scan(...any) error }) (Enrollment, error) {
	var e Enrollment
	var status, tasks, lessons string
	var issued, enrolled, updated int64
	if err := sc.Scan(&e.LearnerID, &e.CourseID, &e.Progress, &status, &tasks, &lessons,
		&e.CertificateIssued, &e.CertificateID, &issued, &enrolled, &updated); err != nil {
		return Enrollment{}, err
	}
	e.Status = Status(status)
	if err := json.Unmarshal([]byte(tasks), &e.CompletedTasks); err != nil {
		return Enrollment{}, err
	}
	if err := json.Unmarshal([]byte(lessons), &e.CompletedLessons); err != nil {
		return Enrollment{}, err
	}
	if issued > 0 {
		e.IssuedAt = time.UnixMilli(issued).UTC()
	}
	e.EnrolledAt = time.UnixMilli(enrolled).UTC()
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	return e, nil
}

func (a *Aggregator) GetEnrollment(ctx context.Context, learnerID, courseID string) (Enrollment, error) {
	e, err := scanEnrollment(a.db.QueryRowContext(ctx, `SELECT `+enrollmentCols+` FROM enrollments WHERE learner_id=$1 AND course_id=$2`, learnerID, courseID))
	if errors.Is(err, sql.ErrNoRows) {
		return Enrollment{}, apperr.NotFound("enrollment", courseID)
	}
	if err != nil {
		return Enrollment{}, db.Classify(err)
	}
	return e, nil
}

// ListEnrollments returns the learner's enrollments, most recently active
// first.
func (a *Aggregator) ListEnrollments(ctx context.Context, learnerID string) ([]Enrollment, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT `+enrollmentCols+` FROM enrollments WHERE learner_id=$1 ORDER BY updated_at DESC, course_id`, learnerID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := []Enrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, e)
	}
	return out, db.Classify(rows.Err())
}

// RecomputeCourse recomputes every enrollment of a course, at most
// parallelism at a time. Individual failures are logged and counted; they
// are retried on the next trigger.
func (a *Aggregator) RecomputeCourse(ctx context.Context, courseID string) error {
	rows, err := a.db.QueryContext(ctx, `SELECT learner_id FROM enrollments WHERE course_id=$1`, courseID)
	if err != nil {
		return db.Classify(err)
	}
	var learners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return db.Classify(err)
		}
		learners = append(learners, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return db.Classify(err)
	}

	var mu sync.Mutex
	failed := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)
	for _, learnerID := range learners {
		learnerID := learnerID
		g.Go(func() error {
			if _, err := a.Recompute(gctx, learnerID, courseID); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if failed > 0 {
		return apperr.E(apperr.KindTransient, "recompute: %d of %d enrollments failed", failed, len(learners))
	}
	a.log.Debug("course recomputed", "course_id", courseID, "enrollments", len(learners))
	return nil
}

// ContentChanged schedules a course-wide recompute detached from the
// caller's request.
func (a *Aggregator) ContentChanged(ctx context.Context, courseID string) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	go func() {
		defer cancel()
		if err := a.RecomputeCourse(bg, courseID); err != nil {
			a.log.Warn("course recompute after content change failed", "course_id", courseID, "err", err)
		}
	}()
}
