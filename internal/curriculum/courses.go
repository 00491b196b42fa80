package curriculum

import (
	"context"
	"database/sql"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/db"
)

const courseCols = `id,title,description,published,free,price_cents,created_at,updated_at`

func scanCourse(sc interface{ Scan(...any) error }) (Course, error) {
	var c Course
	var created, updated int64
	if err := sc.Scan(&c.ID, &c.Title, &c.Description, &c.Published, &c.Free, &c.PriceCents, &created, &updated); err != nil {
		return Course{}, err
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

func (s *Store) CreateCourse(ctx context.Context, in CourseInput) (Course, error) {
	if err := in.normalize(); err != nil {
		return Course{}, err
	}
	now := s.stamp()
	c := Course{
		ID:          newID(),
		Title:       in.Title,
		Description: in.Description,
		Published:   in.Published,
		Free:        *in.Free,
		PriceCents:  in.PriceCents,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO courses (`+courseCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.Title, c.Description, c.Published, c.Free, c.PriceCents, toMillis(now), toMillis(now))
	if err != nil {
		return Course{}, db.Classify(err)
	}
	s.log.Info("course created", "course_id", c.ID)
	return c, nil
}

func (s *Store) UpdateCourse(ctx context.Context, id string, in CourseInput) (Course, error) {
	if err := in.normalize(); err != nil {
		return Course{}, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE courses SET title=$1, description=$2, published=$3, free=$4, price_cents=$5, updated_at=$6 WHERE id=$7`,
		in.Title, in.Description, in.Published, *in.Free, in.PriceCents, toMillis(s.now()), id)
	if err != nil {
		return Course{}, db.Classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Course{}, apperr.NotFound("course", id)
	}
	return s.GetCourse(ctx, id)
}

func (s *Store) GetCourse(ctx context.Context, id string) (Course, error) {
	c, err := scanCourse(s.db.QueryRowContext(ctx, `SELECT `+courseCols+` FROM courses WHERE id=$1`, id))
	if err != nil {
		return Course{}, notFound(err, "course", id)
	}
	return c, nil
}

// ListCourses returns courses newest first, optionally only published ones.
func (s *Store) ListCourses(ctx context.Context, publishedOnly bool) ([]Course, error) {
	q := `SELECT ` + courseCols + ` FROM courses`
	var args []any
	if publishedOnly {
		q += ` WHERE published = $1`
		args = append(args, true)
	}
	q += ` ORDER BY created_at DESC, id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := []Course{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, c)
	}
	return out, db.Classify(rows.Err())
}

// DeleteCourse removes the course with its whole subtree and enrollments.
// Submissions are kept for audit.
func (s *Store) DeleteCourse(ctx context.Context, id string) error {
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var got string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM courses WHERE id=$1`+db.LockClause(s.driver), id).Scan(&got); err != nil {
			return notFound(err, "course", id)
		}
		return execAll(ctx, tx, deleteCourseSQL, id)
	})
	if err != nil {
		return err
	}
	s.log.Info("course deleted", "course_id", id)
	return nil
}

func execAll(ctx context.Context, tx *sql.Tx, stmts []string, arg string) error {
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, arg); err != nil {
			return db.Classify(err)
		}
	}
	return nil
}

// Subtree deletes, leaves first. Cascades are spelled out rather than left
// to foreign keys so both dialects behave the same.
var (
	deleteCourseSQL = []string{
		`DELETE FROM questions WHERE task_id IN (SELECT t.id FROM tasks t JOIN sessions se ON se.id=t.session_id JOIN sprints sp ON sp.id=se.sprint_id WHERE sp.course_id=$1)`,
		`DELETE FROM tasks WHERE session_id IN (SELECT se.id FROM sessions se JOIN sprints sp ON sp.id=se.sprint_id WHERE sp.course_id=$1)`,
		`DELETE FROM lesson_completions WHERE session_id IN (SELECT se.id FROM sessions se JOIN sprints sp ON sp.id=se.sprint_id WHERE sp.course_id=$1)`,
		`DELETE FROM sessions WHERE sprint_id IN (SELECT id FROM sprints WHERE course_id=$1)`,
		`DELETE FROM sprints WHERE course_id=$1`,
		`DELETE FROM enrollments WHERE course_id=$1`,
		`DELETE FROM courses WHERE id=$1`,
	}
	deleteSubtreeSQL = map[Level][]string{
		LevelSprint: {
			`DELETE FROM questions WHERE task_id IN (SELECT t.id FROM tasks t JOIN sessions se ON se.id=t.session_id WHERE se.sprint_id=$1)`,
			`DELETE FROM tasks WHERE session_id IN (SELECT id FROM sessions WHERE sprint_id=$1)`,
			`DELETE FROM lesson_completions WHERE session_id IN (SELECT id FROM sessions WHERE sprint_id=$1)`,
			`DELETE FROM sessions WHERE sprint_id=$1`,
			`DELETE FROM sprints WHERE id=$1`,
		},
		LevelSession: {
			`DELETE FROM questions WHERE task_id IN (SELECT id FROM tasks WHERE session_id=$1)`,
			`DELETE FROM tasks WHERE session_id=$1`,
			`DELETE FROM lesson_completions WHERE session_id=$1`,
			`DELETE FROM sessions WHERE id=$1`,
		},
		LevelTask: {
			`DELETE FROM questions WHERE task_id=$1`,
			`DELETE FROM tasks WHERE id=$1`,
		},
		LevelQuestion: {
			`DELETE FROM questions WHERE id=$1`,
		},
	}
	courseOfSQL = map[Level]string{
		LevelSprint:   `SELECT course_id FROM sprints WHERE id=$1`,
		LevelSession:  `SELECT sp.course_id FROM sessions se JOIN sprints sp ON sp.id=se.sprint_id WHERE se.id=$1`,
		LevelTask:     `SELECT sp.course_id FROM tasks t JOIN sessions se ON se.id=t.session_id JOIN sprints sp ON sp.id=se.sprint_id WHERE t.id=$1`,
		LevelQuestion: `SELECT sp.course_id FROM questions q JOIN tasks t ON t.id=q.task_id JOIN sessions se ON se.id=t.session_id JOIN sprints sp ON sp.id=se.sprint_id WHERE q.id=$1`,
	}
)

// deleteNode removes one node below the course level together with its
// subtree, then re-densifies its former siblings.
func (s *Store) deleteNode(ctx context.Context, l Level, id string) (courseID string, err error) {
	m, err := metaFor(l)
	if err != nil {
		return "", err
	}
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var parentID string
		if err := tx.QueryRowContext(ctx, `SELECT `+m.parentCol+` FROM `+m.table+` WHERE id=$1`, id).Scan(&parentID); err != nil {
			return notFound(err, string(l), id)
		}
		if err := s.lockParent(ctx, tx, m, parentID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, courseOfSQL[l], id).Scan(&courseID); err != nil {
			return notFound(err, string(l), id)
		}
		if err := execAll(ctx, tx, deleteSubtreeSQL[l], id); err != nil {
			return err
		}
		return densify(ctx, tx, m, parentID)
	})
	if err != nil {
		return "", err
	}
	s.log.Info("content deleted", "level", l, "id", id, "course_id", courseID)
	return courseID, nil
}

// CourseOf resolves the owning course of any node below the course level.
func (s *Store) CourseOf(ctx context.Context, l Level, id string) (string, error) {
	q, ok := courseOfSQL[l]
	if !ok {
		return "", apperr.Validation("level", "unknown level")
	}
	var courseID string
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&courseID); err != nil {
		return "", notFound(err, string(l), id)
	}
	return courseID, nil
}
