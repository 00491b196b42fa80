package submission

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/curriculum"
	"github.com/mind-engage/learncore/internal/db"
	"github.com/mind-engage/learncore/internal/grading"
	"github.com/mind-engage/learncore/internal/logger"
	syncx "github.com/mind-engage/learncore/internal/sync"
)

// TaskSource resolves a task with its answer keys and owning course.
type TaskSource interface {
	TaskContext(ctx context.Context, taskID string) (curriculum.TaskContext, error)
}

// Hook runs after a new submission commits. It must not fail the caller.
type Hook func(ctx context.Context, s Submission)

type Recorder struct {
	db          *sql.DB
	tasks       TaskSource
	engine      *grading.Engine
	events      *syncx.EventRepo
	log         *logger.Logger
	now         func() time.Time
	dedupWindow time.Duration
	hooks       []Hook
}

type Option func(*Recorder)

// WithDedupWindow sets how long an identical, token-less resubmission is
// treated as a replay of the previous one. Zero disables it.
func WithDedupWindow(d time.Duration) Option { return func(r *Recorder) { r.dedupWindow = d } }

func WithClock(now func() time.Time) Option { return func(r *Recorder) { r.now = now } }

func WithEngine(e *grading.Engine) Option { return func(r *Recorder) { r.engine = e } }

func NewRecorder(h *sql.DB, tasks TaskSource, events *syncx.EventRepo, log *logger.Logger, opts ...Option) *Recorder {
	if log == nil {
		log = logger.Nop()
	}
	r := &Recorder{
		db:          h,
		tasks:       tasks,
		engine:      grading.NewEngine(),
		events:      events,
		log:         log.With("component", "submission"),
		now:         time.Now,
		dedupWindow: 10 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnRecorded registers a hook fired for every newly stored submission.
// Replays do not fire hooks.
func (r *Recorder) OnRecorded(h Hook) { r.hooks = append(r.hooks, h) }

const maxInsertRetries = 3

// Record scores and stores one attempt. replayed is true when the request
// repeats an earlier one (same token, or identical answers within the
// dedup window) and the stored submission is returned unchanged.
func (r *Recorder) Record(ctx context.Context, in Input) (Submission, bool, error) {
	in.TaskID = strings.TrimSpace(in.TaskID)
	in.LearnerID = strings.TrimSpace(in.LearnerID)
	in.RequestToken = strings.TrimSpace(in.RequestToken)
	switch {
	case in.TaskID == "":
		return Submission{}, false, apperr.Validation("taskId", "required")
	case in.LearnerID == "":
		return Submission{}, false, apperr.Validation("learnerId", "required")
	case in.TimeSpentSec < 0:
		return Submission{}, false, apperr.Validation("timeSpentSeconds", "must be >= 0")
	case len(in.RequestToken) > 128:
		return Submission{}, false, apperr.Validation("requestToken", "too long")
	}

	tc, err := r.tasks.TaskContext(ctx, in.TaskID)
	if err != nil {
		return Submission{}, false, err
	}
	if in.SessionID != "" && in.SessionID != tc.Task.SessionID {
		return Submission{}, false, apperr.Validation("sessionId", "task does not belong to this session")
	}

	keys := tc.Task.Keys()
	res := r.engine.Score(keys, in.Answers)
	cand := row{
		Submission: Submission{
			TaskID:        tc.Task.ID,
			SessionID:     tc.Task.SessionID,
			CourseID:      tc.CourseID,
			LearnerID:     in.LearnerID,
			RequestToken:  in.RequestToken,
			Answers:       in.Answers,
			Results:       res.PerQuestion,
			Score:         res.Percent,
			Passed:        res.Passed,
			TimeSpentSec:  in.TimeSpentSec,
			KeySnapshot:   keys,
			SchemaVersion: SchemaVersion,
		},
		hash: hashAnswers(in.Answers),
	}
	if cand.Answers == nil {
		cand.Answers = grading.Answers{}
	}

	for try := 1; ; try++ {
		sub, replayed, err := r.store(ctx, cand)
		if err == nil {
			if !replayed {
				r.committed(ctx, sub)
			}
			return sub, replayed, nil
		}
		var ae *apperr.Error
		if !errors.As(err, &ae) || ae.Code != "duplicate" || try >= maxInsertRetries {
			return Submission{}, false, err
		}
		// Lost an insert race; the next pass sees the winner.
		r.log.Debug("submission insert raced, retrying", "task_id", cand.TaskID, "learner_id", cand.LearnerID, "try", try)
	}
}

func (r *Recorder) store(ctx context.Context, cand row) (sub Submission, replayed bool, err error) {
	now := r.now().UTC().Truncate(time.Millisecond)
	err = db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if cand.RequestToken != "" {
			prev, err := byToken(ctx, tx, cand.TaskID, cand.LearnerID, cand.RequestToken)
			switch {
			case err == nil:
				sub, replayed = prev.Submission, true
				return nil
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		} else if r.dedupWindow > 0 {
			prev, err := latest(ctx, tx, cand.TaskID, cand.LearnerID)
			switch {
			case err == nil:
				if prev.RequestToken == "" && prev.hash == cand.hash && now.Sub(prev.SubmittedAt) < r.dedupWindow {
					sub, replayed = prev.Submission, true
					return nil
				}
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}

		attempt, err := nextAttempt(ctx, tx, cand.TaskID, cand.LearnerID)
		if err != nil {
			return err
		}
		rec := cand
		rec.ID = uuid.NewString()
		rec.Attempt = attempt
		rec.SubmittedAt = now
		if err := insert(ctx, tx, rec); err != nil {
			return err
		}
		if r.events != nil {
			if err := r.events.Append(ctx, tx, recordedEvent(rec.Submission)); err != nil {
				return err
			}
		}
		sub = rec.Submission
		return nil
	})
	return sub, replayed, err
}

func recordedEvent(s Submission) syncx.Event {
	return syncx.NewEvent(syncx.TypeSubmissionRecorded, s.LearnerID+":"+s.TaskID, map[string]any{
		"submissionId": s.ID,
		"taskId":       s.TaskID,
		"sessionId":    s.SessionID,
		"courseId":     s.CourseID,
		"learnerId":    s.LearnerID,
		"attempt":      s.Attempt,
		"score":        s.Score,
		"passed":       s.Passed,
	})
}

func (r *Recorder) committed(ctx context.Context, s Submission) {
	r.log.Info("submission recorded",
		"submission_id", s.ID, "task_id", s.TaskID, "learner_id", s.LearnerID,
		"attempt", s.Attempt, "score", s.Score, "passed", s.Passed)
	if r.events != nil {
		r.events.Emit(ctx, recordedEvent(s))
	}
	for _, h := range r.hooks {
		h(ctx, s)
	}
}

// Latest returns the authoritative submission for a task and learner.
func (r *Recorder) Latest(ctx context.Context, taskID, learnerID string) (Submission, error) {
	rec, err := latest(ctx, r.db, taskID, learnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, apperr.NotFound("submission", taskID)
	}
	if err != nil {
		return Submission{}, err
	}
	return rec.Submission, nil
}

// History lists every attempt, newest first.
func (r *Recorder) History(ctx context.Context, taskID, learnerID string) ([]Submission, error) {
	return list(ctx, r.db, `task_id=$1 AND learner_id=$2 ORDER BY attempt DESC`, taskID, learnerID)
}

func (r *Recorder) Get(ctx context.Context, id string) (Submission, error) {
	rec, err := queryOne(ctx, r.db, `id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, apperr.NotFound("submission", id)
	}
	if err != nil {
		return Submission{}, err
	}
	return rec.Submission, nil
}

// Rescore runs the engine again over the key snapshot stored with the
// submission. Live content is never consulted.
func (r *Recorder) Rescore(ctx context.Context, id string) (RescoreReport, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return RescoreReport{}, err
	}
	res := r.engine.Score(s.KeySnapshot, s.Answers)
	return RescoreReport{
		SubmissionID: s.ID,
		StoredScore:  s.Score,
		StoredPassed: s.Passed,
		Result:       res,
		Match:        res.Percent == s.Score && res.Passed == s.Passed,
	}, nil
}

// PassedTasks reports, for every task of a course the learner attempted,
// whether the authoritative attempt passed.
func (r *Recorder) PassedTasks(ctx context.Context, learnerID, courseID string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT s.task_id, s.passed FROM submissions s
		JOIN (SELECT task_id, MAX(attempt) AS attempt FROM submissions
		      WHERE learner_id=$1 AND course_id=$2 GROUP BY task_id) m
		  ON m.task_id=s.task_id AND m.attempt=s.attempt
		WHERE s.learner_id=$1 AND s.course_id=$2`, learnerID, courseID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var taskID string
		var passed bool
		if err := rows.Scan(&taskID, &passed); err != nil {
			return nil, db.Classify(err)
		}
		out[taskID] = passed
	}
	return out, db.Classify(rows.Err())
}
