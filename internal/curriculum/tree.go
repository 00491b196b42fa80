package curriculum

import (
	"context"
	"database/sql"
	"strings"

	"github.com/mind-engage/learncore/internal/db"
)

// CourseTree is a point-in-time copy of a course and everything below it.
// It is built in one read transaction and shares no memory with the store.
type CourseTree struct {
	Course  Course       `json:"course"`
	Sprints []SprintNode `json:"sprints"`
}

type SprintNode struct {
	Sprint
	Sessions []SessionNode `json:"sessions"`
}

type SessionNode struct {
	Session
	Tasks []Task `json:"tasks"`
}

// IsLesson reports whether the session is an ungraded unit.
func (n SessionNode) IsLesson() bool { return len(n.Tasks) == 0 }

// Tree loads the full hierarchy of a course, answer keys included.
func (s *Store) Tree(ctx context.Context, courseID string) (CourseTree, error) {
	var tree CourseTree
	err := db.WithReadTx(ctx, s.db, s.driver, func(tx *sql.Tx) error {
		c, err := scanCourse(tx.QueryRowContext(ctx, `SELECT `+courseCols+` FROM courses WHERE id=$1`, courseID))
		if err != nil {
			return notFound(err, "course", courseID)
		}
		tree.Course = c

		sprints, err := listSprints(ctx, tx, `course_id=$1`, courseID)
		if err != nil {
			return err
		}
		sessions, err := listSessions(ctx, tx, `SELECT se.`+joinCols("se", sessionCols)+` FROM sessions se
			JOIN sprints sp ON sp.id=se.sprint_id WHERE sp.course_id=$1 ORDER BY se.ord`, courseID)
		if err != nil {
			return err
		}
		tasks, err := listTasks(ctx, tx, `SELECT t.`+joinCols("t", taskCols)+` FROM tasks t
			JOIN sessions se ON se.id=t.session_id JOIN sprints sp ON sp.id=se.sprint_id
			WHERE sp.course_id=$1 ORDER BY t.ord`, courseID)
		if err != nil {
			return err
		}
		questions, err := listQuestions(ctx, tx, `SELECT q.`+joinCols("q", questionCols)+` FROM questions q
			JOIN tasks t ON t.id=q.task_id JOIN sessions se ON se.id=t.session_id JOIN sprints sp ON sp.id=se.sprint_id
			WHERE sp.course_id=$1 ORDER BY q.ord`, courseID)
		if err != nil {
			return err
		}
		tree.Sprints = assemble(sprints, sessions, tasks, questions)
		return nil
	})
	return tree, err
}

// assemble groups flat, ord-sorted rows under their parents.
func assemble(sprints []Sprint, sessions []Session, tasks []Task, questions []Question) []SprintNode {
	qByTask := map[string][]Question{}
	for _, q := range questions {
		qByTask[q.TaskID] = append(qByTask[q.TaskID], q)
	}
	tBySession := map[string][]Task{}
	for _, t := range tasks {
		t.Questions = qByTask[t.ID]
		if t.Questions == nil {
			t.Questions = []Question{}
		}
		tBySession[t.SessionID] = append(tBySession[t.SessionID], t)
	}
	sBySprint := map[string][]SessionNode{}
	for _, se := range sessions {
		ts := tBySession[se.ID]
		if ts == nil {
			ts = []Task{}
		}
		sBySprint[se.SprintID] = append(sBySprint[se.SprintID], SessionNode{Session: se, Tasks: ts})
	}
	out := make([]SprintNode, 0, len(sprints))
	for _, sp := range sprints {
		ns := sBySprint[sp.ID]
		if ns == nil {
			ns = []SessionNode{}
		}
		out = append(out, SprintNode{Sprint: sp, Sessions: ns})
	}
	return out
}

// joinCols qualifies every column after the first with alias; the first
// is qualified by the caller.
func joinCols(alias, cols string) string {
	return strings.ReplaceAll(cols, ",", ","+alias+".")
}
