package http

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/learncore/internal/auth/middleware"
	"github.com/mind-engage/learncore/internal/curriculum"
	"github.com/mind-engage/learncore/internal/logger"
	"github.com/mind-engage/learncore/internal/progress"
	"github.com/mind-engage/learncore/internal/rbac"
	"github.com/mind-engage/learncore/internal/submission"
	syncx "github.com/mind-engage/learncore/internal/sync"
)

type Deps struct {
	DB         *sql.DB
	Verifier   *auth.Verifier
	Content    *curriculum.Store
	Recorder   *submission.Recorder
	Aggregator *progress.Aggregator
	Events     *syncx.EventRepo
	Log        *logger.Logger
}

// Routes mounts the public and authenticated API. Global middleware
// (request id, recoverer, CORS, timeout) is left to the caller.
func Routes(d Deps) chi.Router {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	r := chi.NewRouter()
	r.Use(auth.JWTMiddleware(d.Verifier))
	r.Use(RequestLogger(d.Log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", readyHandler(d.DB))
	r.Get("/catalog", CatalogHandler(d.Content))

	r.Group(func(pr chi.Router) {
		pr.Use(rbac.RequireActive())

		read := pr.With(rbac.Require("content:read"))
		write := pr.With(rbac.Require("content:write"))

		read.Get("/courses", ListCoursesHandler(d.Content))
		write.Post("/courses", CreateCourseHandler(d.Content))
		read.Get("/courses/{courseID}", GetCourseHandler(d.Content))
		write.Put("/courses/{courseID}", UpdateCourseHandler(d.Content))
		write.Delete("/courses/{courseID}", DeleteCourseHandler(d.Content))
		read.Get("/courses/{courseID}/tree", CourseTreeHandler(d.Content))

		read.Get("/courses/{courseID}/sprints", ListSprintsHandler(d.Content))
		write.Post("/courses/{courseID}/sprints", CreateSprintHandler(d.Content))
		write.Put("/sprints/{sprintID}", UpdateSprintHandler(d.Content))
		write.Delete("/sprints/{sprintID}", DeleteSprintHandler(d.Content))

		read.Get("/sprints/{sprintID}/sessions", ListSessionsHandler(d.Content))
		write.Post("/sprints/{sprintID}/sessions", CreateSessionHandler(d.Content))
		write.Put("/sessions/{sessionID}", UpdateSessionHandler(d.Content))
		write.Delete("/sessions/{sessionID}", DeleteSessionHandler(d.Content))

		read.Get("/sessions/{sessionID}/tasks", ListTasksHandler(d.Content))
		write.Post("/sessions/{sessionID}/tasks", CreateTaskHandler(d.Content))
		read.Get("/tasks/{taskID}", GetTaskHandler(d.Content))
		write.Put("/tasks/{taskID}", UpdateTaskHandler(d.Content))
		write.Delete("/tasks/{taskID}", DeleteTaskHandler(d.Content))

		read.Get("/tasks/{taskID}/questions", ListQuestionsHandler(d.Content))
		write.Post("/tasks/{taskID}/questions", CreateQuestionHandler(d.Content))
		write.Put("/questions/{questionID}", UpdateQuestionHandler(d.Content))
		write.Delete("/questions/{questionID}", DeleteQuestionHandler(d.Content))

		write.Post("/reorder", ReorderHandler(d.Content))

		pr.With(rbac.Require("submission:create")).
			Post("/submissions", SubmitHandler(d.Content, d.Recorder))
		pr.With(rbac.RequireAny("submission:view-own", "submission:view-all")).
			Get("/tasks/{taskID}/submissions", SubmissionHistoryHandler(d.Content, d.Recorder))
		pr.With(rbac.Require("submission:rescore", "content:keys")).
			Post("/submissions/{submissionID}/rescore", RescoreHandler(d.Recorder))

		own := pr.With(rbac.Require("enrollment:manage-own"))
		own.Post("/courses/{courseID}/enroll", EnrollHandler(d.Aggregator))
		own.Delete("/courses/{courseID}/enroll", WithdrawHandler(d.Aggregator))
		own.Post("/sessions/{sessionID}/complete", CompleteLessonHandler(d.Aggregator))

		view := pr.With(rbac.Require("progress:view-own"))
		view.Get("/enrollments", ListEnrollmentsHandler(d.Aggregator))
		view.Get("/courses/{courseID}/progress", ProgressReportHandler(d.Aggregator))
		view.Get("/courses/{courseID}/certificate", GetCertificateHandler(d.Aggregator))
		pr.With(rbac.Require("certificate:claim")).
			Post("/courses/{courseID}/certificate", IssueCertificateHandler(d.Aggregator))

		pr.With(rbac.Require("events:read")).
			Get("/events", EventsHandler(d.Events))
	})
	return r
}

func readyHandler(h *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.PingContext(ctx); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
