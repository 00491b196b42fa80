package curriculum

import (
	"context"
	"database/sql"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/db"
)

const sessionCols = `id,sprint_id,name,description,duration_min,content_ref,active,ord`

func scanSession(sc interface{ Scan(...any) error }) (Session, error) {
	var se Session
	err := sc.Scan(&se.ID, &se.SprintID, &se.Name, &se.Description, &se.DurationMin, &se.ContentRef, &se.Active, &se.Order)
	return se, err
}

func (s *Store) CreateSession(ctx context.Context, sprintID string, in SessionInput) (Session, error) {
	if err := in.normalize(); err != nil {
		return Session{}, err
	}
	m := levels[LevelSession]
	se := Session{
		ID:          newID(),
		SprintID:    sprintID,
		Name:        in.Name,
		Description: in.Description,
		DurationMin: in.DurationMin,
		ContentRef:  in.ContentRef,
		Active:      boolOr(in.Active, true),
	}
	now := toMillis(s.now())
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.lockParent(ctx, tx, m, sprintID); err != nil {
			return err
		}
		ord, err := nextOrder(ctx, tx, m, sprintID)
		if err != nil {
			return err
		}
		se.Order = ord
		_, err = tx.ExecContext(ctx, `INSERT INTO sessions (`+sessionCols+`,created_at,updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			se.ID, se.SprintID, se.Name, se.Description, se.DurationMin, se.ContentRef, se.Active, se.Order, now, now)
		return db.Classify(err)
	})
	if err != nil {
		return Session{}, err
	}
	s.fireFor(ctx, LevelSession, se.ID)
	return se, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, in SessionInput) (Session, error) {
	if err := in.normalize(); err != nil {
		return Session{}, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET name=$1, description=$2, duration_min=$3, content_ref=$4, active=$5, updated_at=$6 WHERE id=$7`,
		in.Name, in.Description, in.DurationMin, in.ContentRef, boolOr(in.Active, true), toMillis(s.now()), id)
	if err != nil {
		return Session{}, db.Classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Session{}, apperr.NotFound("session", id)
	}
	s.fireFor(ctx, LevelSession, id)
	return s.GetSession(ctx, id)
}

func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	se, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id=$1`, id))
	if err != nil {
		return Session{}, notFound(err, "session", id)
	}
	return se, nil
}

func (s *Store) ListSessions(ctx context.Context, sprintID string) ([]Session, error) {
	if _, err := s.GetSprint(ctx, sprintID); err != nil {
		return nil, err
	}
	return listSessions(ctx, s.db, `SELECT `+sessionCols+` FROM sessions WHERE sprint_id=$1 ORDER BY ord`, sprintID)
}

func listSessions(ctx context.Context, q db.Querier, query string, arg string) ([]Session, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	out := []Session{}
	for rows.Next() {
		se, err := scanSession(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, se)
	}
	return out, db.Classify(rows.Err())
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	courseID, err := s.deleteNode(ctx, LevelSession, id)
	if err != nil {
		return err
	}
	s.fire(ctx, courseID)
	return nil
}

// SessionInfo locates a session in its course and reports whether it
// carries graded tasks.
type SessionInfo struct {
	Session  Session
	CourseID string
	Tasks    int
}

func (s *Store) SessionInfo(ctx context.Context, sessionID string) (SessionInfo, error) {
	var info SessionInfo
	se, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return info, err
	}
	info.Session = se
	err = s.db.QueryRowContext(ctx, `SELECT sp.course_id, (SELECT COUNT(*) FROM tasks WHERE session_id=$1)
		FROM sessions se JOIN sprints sp ON sp.id=se.sprint_id WHERE se.id=$1`, sessionID).Scan(&info.CourseID, &info.Tasks)
	if err != nil {
		return info, notFound(err, "session", sessionID)
	}
	return info, nil
}

// fireFor notifies hooks for the course owning a node; lookup failures
// are logged and otherwise ignored.
func (s *Store) fireFor(ctx context.Context, l Level, id string) {
	if len(s.hooks) == 0 {
		return
	}
	courseID, err := s.CourseOf(ctx, l, id)
	if err != nil {
		s.log.Warn("content hook: course lookup failed", "level", l, "id", id, "err", err)
		return
	}
	s.fire(ctx, courseID)
}
