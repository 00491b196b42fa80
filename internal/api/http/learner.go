package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/curriculum"
	"github.com/mind-engage/learncore/internal/grading"
	"github.com/mind-engage/learncore/internal/progress"
	"github.com/mind-engage/learncore/internal/rbac"
	"github.com/mind-engage/learncore/internal/submission"
	syncx "github.com/mind-engage/learncore/internal/sync"
)

type submitResponse struct {
	ID          string                   `json:"id"`
	Score       int                      `json:"score"`
	Passed      bool                     `json:"passed"`
	SubmittedAt time.Time                `json:"submittedAt"`
	Attempt     int                      `json:"attempt"`
	Replayed    bool                     `json:"replayed"`
	Results     []grading.QuestionResult `json:"results"`
}

// SubmitHandler records an attempt for the calling learner. The request
// token may come from the body or the Idempotency-Key header; the body wins.
// Answers that cannot be read are dropped and grade as incorrect.
func SubmitHandler(cs *curriculum.Store, rec *submission.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TaskID       string                     `json:"taskId"`
			SessionID    string                     `json:"sessionId"`
			Answers      map[string]json.RawMessage `json:"answers"`
			TimeSpentSec int64                      `json:"timeSpentSeconds"`
			RequestToken string                     `json:"requestToken"`
		}
		if err := decode(r, &req); err != nil {
			fail(w, err)
			return
		}
		if id := strings.TrimSpace(req.TaskID); id != "" {
			if err := visibleNode(r.Context(), r, cs, curriculum.LevelTask, id); err != nil {
				fail(w, err)
				return
			}
		}
		token := strings.TrimSpace(req.RequestToken)
		if token == "" {
			token = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		}
		sub, replayed, err := rec.Record(r.Context(), submission.Input{
			TaskID:       req.TaskID,
			SessionID:    req.SessionID,
			LearnerID:    learner(r),
			Answers:      grading.DecodeAnswers(req.Answers),
			TimeSpentSec: req.TimeSpentSec,
			RequestToken: token,
		})
		if err != nil {
			fail(w, err)
			return
		}
		status := http.StatusCreated
		if replayed {
			status = http.StatusOK
		}
		writeJSON(w, status, submitResponse{
			ID:          sub.ID,
			Score:       sub.Score,
			Passed:      sub.Passed,
			SubmittedAt: sub.SubmittedAt,
			Attempt:     sub.Attempt,
			Replayed:    replayed,
			Results:     sub.Results,
		})
	}
}

// SubmissionHistoryHandler lists the caller's attempts at a task, latest first.
// Holders of submission:view-all may name another learner with ?learnerId=.
func SubmissionHistoryHandler(cs *curriculum.Store, rec *submission.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := param(r, "taskID")
		if err := visibleNode(r.Context(), r, cs, curriculum.LevelTask, taskID); err != nil {
			fail(w, err)
			return
		}
		who := learner(r)
		if other := strings.TrimSpace(r.URL.Query().Get("learnerId")); other != "" {
			if !rbac.Can(r, "submission:view-all") {
				fail(w, &apperr.Error{Kind: apperr.KindForbidden, Code: "forbidden", Message: "cannot view another learner's submissions"})
				return
			}
			who = other
		}
		list, err := rec.History(r.Context(), taskID, who)
		if err != nil {
			fail(w, err)
			return
		}
		if list == nil {
			list = []submission.Submission{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	}
}

// RescoreHandler re-runs the engine over a stored submission's key snapshot.
func RescoreHandler(rec *submission.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := rec.Rescore(r.Context(), param(r, "submissionID"))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// ---- progress ----

func CompleteLessonHandler(agg *progress.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := agg.MarkLessonComplete(r.Context(), learner(r), param(r, "sessionID"))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func EnrollHandler(agg *progress.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := agg.Enroll(r.Context(), learner(r), param(r, "courseID"))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func WithdrawHandler(agg *progress.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := agg.Withdraw(r.Context(), learner(r), param(r, "courseID")); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func ListEnrollmentsHandler(agg *progress.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := agg.ListEnrollments(r.Context(), learner(r))
		if err != nil {
			fail(w, err)
			return
		}
		if list == nil {
			list = []progress.Enrollment{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	}
}

func ProgressReportHandler(agg *progress.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := agg.Report(r.Context(), learner(r), param(r, "courseID"))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func IssueCertificateHandler(agg *progress.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := agg.IssueCertificate(r.Context(), learner(r), param(r, "courseID"))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func GetCertificateHandler(agg *progress.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := agg.GetCertificate(r.Context(), learner(r), param(r, "courseID"))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// ---- events ----

// EventsHandler pages through the event log: ?after=<seq>&type=&limit=.
func EventsHandler(events *syncx.EventRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := events.List(r.Context(), queryInt64(r, "after", 0), r.URL.Query().Get("type"), int(queryInt64(r, "limit", 100)))
		if err != nil {
			fail(w, err)
			return
		}
		next := queryInt64(r, "after", 0)
		if n := len(list); n > 0 {
			next = list[n-1].Seq
		}
		if list == nil {
			list = []syncx.Event{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list, "next": next})
	}
}
