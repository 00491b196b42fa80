package curriculum

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/db"
	"github.com/mind-engage/learncore/internal/logger"
)

// ChangeHook is notified after a committed mutation that can change the
// unit set of a course.
type ChangeHook func(ctx context.Context, courseID string)

// Store owns the Course → Sprint → Session → Task → Question tree. Every
// mutation runs in one transaction that first locks the parent row, so
// writes against the same sibling set are serialized.
type Store struct {
	db     *sql.DB
	driver db.Driver
	log    *logger.Logger
	now    func() time.Time
	hooks  []ChangeHook
}

func NewStore(h *sql.DB, driver db.Driver, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{db: h, driver: driver, log: log.With("component", "curriculum"), now: time.Now}
}

// OnContentChange registers a hook fired after deletes and task or
// session creation.
func (s *Store) OnContentChange(h ChangeHook) {
	s.hooks = append(s.hooks, h)
}

func (s *Store) fire(ctx context.Context, courseID string) {
	if courseID == "" {
		return
	}
	for _, h := range s.hooks {
		h(ctx, courseID)
	}
}

type levelMeta struct {
	table       string
	parentCol   string
	parentTable string
	parentKind  string
}

var levels = map[Level]levelMeta{
	LevelSprint:   {table: "sprints", parentCol: "course_id", parentTable: "courses", parentKind: "course"},
	LevelSession:  {table: "sessions", parentCol: "sprint_id", parentTable: "sprints", parentKind: "sprint"},
	LevelTask:     {table: "tasks", parentCol: "session_id", parentTable: "sessions", parentKind: "session"},
	LevelQuestion: {table: "questions", parentCol: "task_id", parentTable: "tasks", parentKind: "task"},
}

func metaFor(l Level) (levelMeta, error) {
	m, ok := levels[l]
	if !ok {
		return levelMeta{}, apperr.Validation("level", fmt.Sprintf("unknown level %q", l))
	}
	return m, nil
}

// lockParent verifies the parent exists and, on Postgres, row-locks it for
// the rest of the transaction.
func (s *Store) lockParent(ctx context.Context, tx *sql.Tx, m levelMeta, parentID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM `+m.parentTable+` WHERE id=$1`+db.LockClause(s.driver), parentID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(m.parentKind, parentID)
	}
	return db.Classify(err)
}

func nextOrder(ctx context.Context, q db.Querier, m levelMeta, parentID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(ord),0)+1 FROM `+m.table+` WHERE `+m.parentCol+`=$1`, parentID).Scan(&n)
	return n, db.Classify(err)
}

func childIDs(ctx context.Context, q db.Querier, m levelMeta, parentID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM `+m.table+` WHERE `+m.parentCol+`=$1 ORDER BY ord`, parentID)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, db.Classify(err)
		}
		ids = append(ids, id)
	}
	return ids, db.Classify(rows.Err())
}

// assignOrder gives ids the ranks 1..N in slice order. Ranks are first
// flipped negative so the (parent, ord) unique index never sees a
// collision mid-update.
func assignOrder(ctx context.Context, tx *sql.Tx, m levelMeta, parentID string, ids []string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE `+m.table+` SET ord = -ord WHERE `+m.parentCol+`=$1 AND ord > 0`, parentID); err != nil {
		return db.Classify(err)
	}
	for i, id := range ids {
		res, err := tx.ExecContext(ctx, `UPDATE `+m.table+` SET ord=$1 WHERE id=$2 AND `+m.parentCol+`=$3`, i+1, id, parentID)
		if err != nil {
			return db.Classify(err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return apperr.Conflict("stale_ordering", fmt.Sprintf("%s %q is not a child of %q", m.table, id, parentID))
		}
	}
	return nil
}

// densify closes gaps left by a delete.
func densify(ctx context.Context, tx *sql.Tx, m levelMeta, parentID string) error {
	ids, err := childIDs(ctx, tx, m, parentID)
	if err != nil {
		return err
	}
	return assignOrder(ctx, tx, m, parentID, ids)
}

func newID() string { return uuid.NewString() }

// stamp is the current time at storage precision.
func (s *Store) stamp() time.Time { return fromMillis(toMillis(s.now())) }

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(kind, id)
	}
	return db.Classify(err)
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
