package curriculum

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/db"
	"github.com/mind-engage/learncore/internal/grading"
)

const (
	taskCols     = `id,session_id,title,description,ord`
	questionCols = `id,task_id,text,qtype,points,options_json,answer,explanation,ord`
)

func scanTask(sc interface{ Scan(...any) error }) (Task, error) {
	var t Task
	err := sc.Scan(&t.ID, &t.SessionID, &t.Title, &t.Description, &t.Order)
	return t, err
}

func scanQuestion(sc interface{ Scan(...any) error }) (Question, error) {
	var q Question
	var typ, opts string
	if err := sc.Scan(&q.ID, &q.TaskID, &q.Text, &typ, &q.Points, &opts, &q.Answer, &q.Explanation, &q.Order); err != nil {
		return Question{}, err
	}
	q.Type = grading.QuestionType(typ)
	if opts != "" {
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return Question{}, err
		}
	}
	return q, nil
}

// CreateTask appends a task to the session, with any inline questions, in
// one transaction.
func (s *Store) CreateTask(ctx context.Context, sessionID string, in TaskInput) (Task, error) {
	if err := in.normalize(); err != nil {
		return Task{}, err
	}
	m := levels[LevelTask]
	t := Task{ID: newID(), SessionID: sessionID, Title: in.Title, Description: in.Description}
	now := toMillis(s.now())
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.lockParent(ctx, tx, m, sessionID); err != nil {
			return err
		}
		ord, err := nextOrder(ctx, tx, m, sessionID)
		if err != nil {
			return err
		}
		t.Order = ord
		if _, err := tx.ExecContext(ctx, `INSERT INTO tasks (`+taskCols+`,created_at,updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			t.ID, t.SessionID, t.Title, t.Description, t.Order, now, now); err != nil {
			return db.Classify(err)
		}
		t.Questions, err = insertQuestions(ctx, tx, t.ID, in.Questions, 1, now)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	s.fireFor(ctx, LevelTask, t.ID)
	return t, nil
}

// UpdateTask rewrites title and description. A non-nil Questions list
// replaces the task's questions wholesale.
func (s *Store) UpdateTask(ctx context.Context, id string, in TaskInput) (Task, error) {
	if err := in.normalize(); err != nil {
		return Task{}, err
	}
	now := toMillis(s.now())
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var got string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM tasks WHERE id=$1`+db.LockClause(s.driver), id).Scan(&got); err != nil {
			return notFound(err, "task", id)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET title=$1, description=$2, updated_at=$3 WHERE id=$4`,
			in.Title, in.Description, now, id); err != nil {
			return db.Classify(err)
		}
		if in.Questions == nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE task_id=$1`, id); err != nil {
			return db.Classify(err)
		}
		_, err := insertQuestions(ctx, tx, id, in.Questions, 1, now)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	return s.GetTask(ctx, id)
}

func insertQuestions(ctx context.Context, tx *sql.Tx, taskID string, in []QuestionInput, firstOrd int, now int64) ([]Question, error) {
	out := make([]Question, 0, len(in))
	for i, qi := range in {
		q := Question{
			ID:          newID(),
			TaskID:      taskID,
			Text:        qi.Text,
			Type:        qi.Type,
			Points:      *qi.Points,
			Options:     qi.Options,
			Answer:      qi.Answer,
			Explanation: qi.Explanation,
			Order:       firstOrd + i,
		}
		if err := insertQuestion(ctx, tx, q, now); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func insertQuestion(ctx context.Context, tx *sql.Tx, q Question, now int64) error {
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	if q.Options == nil {
		opts = []byte("[]")
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO questions (`+questionCols+`,created_at,updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		q.ID, q.TaskID, q.Text, string(q.Type), q.Points, string(opts), q.Answer, q.Explanation, q.Order, now, now)
	return db.Classify(err)
}

// GetTask returns a task with its questions, answer keys included.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=$1`, id))
	if err != nil {
		return Task{}, notFound(err, "task", id)
	}
	t.Questions, err = listQuestions(ctx, s.db, `SELECT `+questionCols+` FROM questions WHERE task_id=$1 ORDER BY ord`, id)
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

// ListTasks returns a session's tasks in order, without questions.
func (s *Store) ListTasks(ctx context.Context, sessionID string) ([]Task, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return listTasks(ctx, s.db, `SELECT `+taskCols+` FROM tasks WHERE session_id=$1 ORDER BY ord`, sessionID)
}

func listTasks(ctx context.Context, q db.Querier, query, arg string) ([]Task, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, t)
	}
	return out, db.Classify(rows.Err())
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	courseID, err := s.deleteNode(ctx, LevelTask, id)
	if err != nil {
		return err
	}
	s.fire(ctx, courseID)
	return nil
}

// TaskContext is a task with its answer keys and the ids of its ancestors.
type TaskContext struct {
	Task     Task
	CourseID string
}

func (s *Store) TaskContext(ctx context.Context, taskID string) (TaskContext, error) {
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return TaskContext{}, err
	}
	courseID, err := s.CourseOf(ctx, LevelTask, taskID)
	if err != nil {
		return TaskContext{}, err
	}
	return TaskContext{Task: t, CourseID: courseID}, nil
}

// --- questions ---

func (s *Store) CreateQuestion(ctx context.Context, taskID string, in QuestionInput) (Question, error) {
	if err := in.normalize(); err != nil {
		return Question{}, err
	}
	m := levels[LevelQuestion]
	var q Question
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.lockParent(ctx, tx, m, taskID); err != nil {
			return err
		}
		ord, err := nextOrder(ctx, tx, m, taskID)
		if err != nil {
			return err
		}
		qs, err := insertQuestions(ctx, tx, taskID, []QuestionInput{in}, ord, toMillis(s.now()))
		if err != nil {
			return err
		}
		q = qs[0]
		return nil
	})
	if err != nil {
		return Question{}, err
	}
	return q, nil
}

func (s *Store) UpdateQuestion(ctx context.Context, id string, in QuestionInput) (Question, error) {
	if err := in.normalize(); err != nil {
		return Question{}, err
	}
	opts := []byte("[]")
	if in.Options != nil {
		var err error
		if opts, err = json.Marshal(in.Options); err != nil {
			return Question{}, err
		}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE questions SET text=$1, qtype=$2, points=$3, options_json=$4, answer=$5, explanation=$6, updated_at=$7 WHERE id=$8`,
		in.Text, string(in.Type), *in.Points, string(opts), in.Answer, in.Explanation, toMillis(s.now()), id)
	if err != nil {
		return Question{}, db.Classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Question{}, apperr.NotFound("question", id)
	}
	return s.GetQuestion(ctx, id)
}

func (s *Store) GetQuestion(ctx context.Context, id string) (Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx, `SELECT `+questionCols+` FROM questions WHERE id=$1`, id))
	if err != nil {
		return Question{}, notFound(err, "question", id)
	}
	return q, nil
}

func (s *Store) ListQuestions(ctx context.Context, taskID string) ([]Question, error) {
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return t.Questions, nil
}

func listQuestions(ctx context.Context, q db.Querier, query, arg string) ([]Question, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := []Question{}
	for rows.Next() {
		qq, err := scanQuestion(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, qq)
	}
	return out, db.Classify(rows.Err())
}

func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	_, err := s.deleteNode(ctx, LevelQuestion, id)
	return err
}
