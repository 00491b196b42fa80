package curriculum

import (
	"context"
	"database/sql"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/db"
)

const sprintCols = `id,course_id,name,description,goal,start_at,end_at,active,ord`

func scanSprint(sc interface{ Scan(...any) error }) (Sprint, error) {
	var sp Sprint
	var start, end int64
	if err := sc.Scan(&sp.ID, &sp.CourseID, &sp.Name, &sp.Description, &sp.Goal, &start, &end, &sp.Active, &sp.Order); err != nil {
		return Sprint{}, err
	}
	sp.StartAt = fromMillis(start)
	sp.EndAt = fromMillis(end)
	return sp, nil
}

// CreateSprint appends a sprint to the end of the course.
func (s *Store) CreateSprint(ctx context.Context, courseID string, in SprintInput) (Sprint, error) {
	if err := in.normalize(); err != nil {
		return Sprint{}, err
	}
	m := levels[LevelSprint]
	sp := Sprint{
		ID:          newID(),
		CourseID:    courseID,
		Name:        in.Name,
		Description: in.Description,
		Goal:        in.Goal,
		StartAt:     fromMillis(toMillis(in.StartAt)),
		EndAt:       fromMillis(toMillis(in.EndAt)),
		Active:      boolOr(in.Active, true),
	}
	now := toMillis(s.now())
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.lockParent(ctx, tx, m, courseID); err != nil {
			return err
		}
		ord, err := nextOrder(ctx, tx, m, courseID)
		if err != nil {
			return err
		}
		sp.Order = ord
		_, err = tx.ExecContext(ctx, `INSERT INTO sprints (`+sprintCols+`,created_at,updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			sp.ID, sp.CourseID, sp.Name, sp.Description, sp.Goal, toMillis(sp.StartAt), toMillis(sp.EndAt), sp.Active, sp.Order, now, now)
		return db.Classify(err)
	})
	if err != nil {
		return Sprint{}, err
	}
	s.fire(ctx, courseID)
	return sp, nil
}

func (s *Store) UpdateSprint(ctx context.Context, id string, in SprintInput) (Sprint, error) {
	if err := in.normalize(); err != nil {
		return Sprint{}, err
	}
	active := boolOr(in.Active, true)
	res, err := s.db.ExecContext(ctx, `UPDATE sprints SET name=$1, description=$2, goal=$3, start_at=$4, end_at=$5, active=$6, updated_at=$7 WHERE id=$8`,
		in.Name, in.Description, in.Goal, toMillis(in.StartAt), toMillis(in.EndAt), active, toMillis(s.now()), id)
	if err != nil {
		return Sprint{}, db.Classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Sprint{}, apperr.NotFound("sprint", id)
	}
	sp, err := s.GetSprint(ctx, id)
	if err != nil {
		return Sprint{}, err
	}
	s.fire(ctx, sp.CourseID)
	return sp, nil
}

func (s *Store) GetSprint(ctx context.Context, id string) (Sprint, error) {
	sp, err := scanSprint(s.db.QueryRowContext(ctx, `SELECT `+sprintCols+` FROM sprints WHERE id=$1`, id))
	if err != nil {
		return Sprint{}, notFound(err, "sprint", id)
	}
	return sp, nil
}

// ListSprints returns the sprints of a course in order.
func (s *Store) ListSprints(ctx context.Context, courseID string) ([]Sprint, error) {
	if _, err := s.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return listSprints(ctx, s.db, `course_id=$1`, courseID)
}

func listSprints(ctx context.Context, q db.Querier, where string, arg string) ([]Sprint, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+sprintCols+` FROM sprints WHERE `+where+` ORDER BY ord`, arg)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := []Sprint{}
	for rows.Next() {
		sp, err := scanSprint(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, sp)
	}
	return out, db.Classify(rows.Err())
}

func (s *Store) DeleteSprint(ctx context.Context, id string) error {
	courseID, err := s.deleteNode(ctx, LevelSprint, id)
	if err != nil {
		return err
	}
	s.fire(ctx, courseID)
	return nil
}
