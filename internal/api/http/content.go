package http

import (
	"context"
	"net/http"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/curriculum"
)

// visible hides unpublished courses, and everything below them, from
// callers without content:keys. Hidden content reads as not found.
func visible(ctx context.Context, r *http.Request, cs *curriculum.Store, courseID, kind, id string) error {
	if seesKeys(r) {
		return nil
	}
	c, err := cs.GetCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if !c.Published {
		return apperr.NotFound(kind, id)
	}
	return nil
}

// visibleNode resolves the course of a node before checking visibility.
func visibleNode(ctx context.Context, r *http.Request, cs *curriculum.Store, l curriculum.Level, id string) error {
	if seesKeys(r) {
		return nil
	}
	courseID, err := cs.CourseOf(ctx, l, id)
	if err != nil {
		return err
	}
	return visible(ctx, r, cs, courseID, string(l), id)
}

func taskView(r *http.Request, t curriculum.Task) curriculum.Task {
	if seesKeys(r) {
		return t
	}
	return t.LearnerView()
}

// learnerTree drops inactive content and strips answer keys.
func learnerTree(t curriculum.CourseTree) curriculum.CourseTree {
	out := curriculum.CourseTree{Course: t.Course, Sprints: []curriculum.SprintNode{}}
	for _, sp := range t.Sprints {
		if !sp.Active {
			continue
		}
		n := curriculum.SprintNode{Sprint: sp.Sprint, Sessions: []curriculum.SessionNode{}}
		for _, se := range sp.Sessions {
			if !se.Active {
				continue
			}
			sn := curriculum.SessionNode{Session: se.Session, Tasks: make([]curriculum.Task, len(se.Tasks))}
			for i, t := range se.Tasks {
				sn.Tasks[i] = t.LearnerView()
			}
			n.Sessions = append(n.Sessions, sn)
		}
		out.Sprints = append(out.Sprints, n)
	}
	return out
}

// ---- courses ----

func CatalogHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := cs.ListCourses(r.Context(), true)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	}
}

func ListCoursesHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := cs.ListCourses(r.Context(), !seesKeys(r))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	}
}

func CreateCourseHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in curriculum.CourseInput
		if err := decode(r, &in); err != nil {
			fail(w, err)
			return
		}
		c, err := cs.CreateCourse(r.Context(), in)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func GetCourseHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := param(r, "courseID")
		c, err := cs.GetCourse(r.Context(), id)
		if err == nil && !c.Published && !seesKeys(r) {
			err = apperr.NotFound("course", id)
		}
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func UpdateCourseHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in curriculum.CourseInput
		if err := decode(r, &in); err != nil {
			fail(w, err)
			return
		}
		c, err := cs.UpdateCourse(r.Context(), param(r, "courseID"), in)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func DeleteCourseHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cs.DeleteCourse(r.Context(), param(r, "courseID")); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func CourseTreeHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := param(r, "courseID")
		tree, err := cs.Tree(r.Context(), id)
		if err != nil {
			fail(w, err)
			return
		}
		if !seesKeys(r) {
			if !tree.Course.Published {
				fail(w, apperr.NotFound("course", id))
				return
			}
			tree = learnerTree(tree)
		}
		writeJSON(w, http.StatusOK, tree)
	}
}

// ---- sprints ----

func ListSprintsHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		courseID := param(r, "courseID")
		if err := visible(r.Context(), r, cs, courseID, "course", courseID); err != nil {
			fail(w, err)
			return
		}
		list, err := cs.ListSprints(r.Context(), courseID)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	}
}

func CreateSprintHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in curriculum.SprintInput
		if err := decode(r, &in); err != nil {
			fail(w, err)
			return
		}
		sp, err := cs.CreateSprint(r.Context(), param(r, "courseID"), in)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sp)
	}
}

func UpdateSprintHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in curriculum.SprintInput
		if err := decode(r, &in); err != nil {
			fail(w, err)
			return
		}
		sp, err := cs.UpdateSprint(r.Context(), param(r, "sprintID"), in)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sp)
	}
}

func DeleteSprintHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cs.DeleteSprint(r.Context(), param(r, "sprintID")); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---- sessions ----

func ListSessionsHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sprintID := param(r, "sprintID")
		if err := visibleNode(r.Context(), r, cs, curriculum.LevelSprint, sprintID); err != nil {
			fail(w, err)
			return
		}
		list, err := cs.ListSessions(r.Context(), sprintID)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	}
}

func CreateSessionHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in curriculum.SessionInput
		if err := decode(r, &in); err != nil {
			fail(w, err)
			return
		}
		se, err := cs.CreateSession(r.Context(), param(r, "sprintID"), in)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, se)
	}
}

func UpdateSessionHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in curriculum.SessionInput
		if err := decode(r, &in); err != nil {
			fail(w, err)
			return
		}
		se, err := cs.UpdateSession(r.Context(), param(r, "sessionID"), in)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, se)
	}
}

func DeleteSessionHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cs.DeleteSession(r.Context(), param(r, "sessionID")); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---- tasks ----

func ListTasksHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := param(r, "sessionID")
		if err := visibleNode(r.Context(), r, cs, curriculum.LevelSession, sessionID); err != nil {
			fail(w, err)
			return
		}
		list, err := cs.ListTasks(r.Context(), sessionID)
		if err != nil {
			fail(w, err)
			return
		}
		for i := range list {
			list[i] = taskView(r, list[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	}
}

func CreateTaskHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in curriculum.TaskInput
		if err := decode(r, &in); err != nil {
			fail(w, err)
			return
		}
		t, err := cs.CreateTask(r.Context(), param(r, "sessionID"), in)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func GetTaskHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := param(r, "taskID")
		if err := visibleNode(r.Context(), r, cs, curriculum.LevelTask, id); err != nil {
			fail(w, err)
			return
		}
		t, err := cs.GetTask(r.Context(), id)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, taskView(r, t))
	}
}

func UpdateTaskHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in curriculum.TaskInput
		if err := decode(r, &in); err != nil {
			fail(w, err)
			return
		}
		t, err := cs.UpdateTask(r.Context(), param(r, "taskID"), in)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func DeleteTaskHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cs.DeleteTask(r.Context(), param(r, "taskID")); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---- questions ----

func ListQuestionsHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := param(r, "taskID")
		if err := visibleNode(r.Context(), r, cs, curriculum.LevelTask, taskID); err != nil {
			fail(w, err)
			return
		}
		list, err := cs.ListQuestions(r.Context(), taskID)
		if err != nil {
			fail(w, err)
			return
		}
		if !seesKeys(r) {
			list = curriculum.Task{Questions: list}.LearnerView().Questions
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	}
}

func CreateQuestionHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in curriculum.QuestionInput
		if err := decode(r, &in); err != nil {
			fail(w, err)
			return
		}
		q, err := cs.CreateQuestion(r.Context(), param(r, "taskID"), in)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

func UpdateQuestionHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in curriculum.QuestionInput
		if err := decode(r, &in); err != nil {
			fail(w, err)
			return
		}
		q, err := cs.UpdateQuestion(r.Context(), param(r, "questionID"), in)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func DeleteQuestionHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cs.DeleteQuestion(r.Context(), param(r, "questionID")); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---- reorder ----

func ReorderHandler(cs *curriculum.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Level      curriculum.Level `json:"level"`
			ParentID   string           `json:"parentId"`
			OrderedIDs []string         `json:"orderedIds"`
		}
		if err := decode(r, &req); err != nil {
			fail(w, err)
			return
		}
		p, err := curriculum.NewProposedOrdering(req.Level, req.ParentID, req.OrderedIDs)
		if err != nil {
			fail(w, err)
			return
		}
		if err := cs.Reorder(r.Context(), p); err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"level": p.Level(), "parentId": p.ParentID(), "orderedIds": p.OrderedIDs()})
	}
}
