package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/mind-engage/learncore/internal/db"
	"github.com/mind-engage/learncore/internal/logger"
)

// Event types appended by the core.
const (
	TypeSubmissionRecorded = "SubmissionRecorded"
	TypeProgressUpdated    = "ProgressUpdated"
	TypeLessonCompleted    = "LessonCompleted"
	TypeCertificateIssued  = "CertificateIssued"
	TypeEnrolled           = "Enrolled"
	TypeWithdrawn          = "Withdrawn"
)

type Event struct {
	Seq       int64           `json:"seq"`
	SiteID    string          `json:"siteId"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"createdAt"`
}

// NewEvent marshals data into an event; a value that cannot be encoded is
// recorded as null.
func NewEvent(typ, key string, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("null")
	}
	return Event{Type: typ, Key: key, Data: raw}
}

// Publisher fans committed events out to other processes.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type EventRepo struct {
	db     *sql.DB
	siteID string
	pub    Publisher
	log    *logger.Logger
}

func NewEventRepo(h *sql.DB, siteID string, log *logger.Logger) *EventRepo {
	if siteID == "" {
		siteID = "local"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &EventRepo{db: h, siteID: siteID, log: log.With("component", "eventlog")}
}

// WithPublisher attaches a best-effort publisher used by Emit.
func (r *EventRepo) WithPublisher(p Publisher) *EventRepo {
	r.pub = p
	return r
}

// Append writes e through q, so it commits or rolls back with the caller's
// transaction.
func (r *EventRepo) Append(ctx context.Context, q db.Querier, e Event) error {
	if q == nil {
		q = r.db
	}
	if e.SiteID == "" {
		e.SiteID = r.siteID
	}
	if len(e.Data) == 0 {
		e.Data = json.RawMessage("null")
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		e.SiteID, e.Type, e.Key, string(e.Data), time.Now().UnixMilli())
	return db.Classify(err)
}

// Emit publishes an already committed event. Failures are logged only; the
// event log row stays the source of truth.
func (r *EventRepo) Emit(ctx context.Context, e Event) {
	if r.pub == nil {
		return
	}
	if e.SiteID == "" {
		e.SiteID = r.siteID
	}
	if err := r.pub.Publish(ctx, e); err != nil {
		r.log.Warn("event publish failed", "type", e.Type, "key", e.Key, "err", err)
	}
}

// List returns events after seq in log order, optionally filtered by type.
func (r *EventRepo) List(ctx context.Context, afterSeq int64, typ string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	q := `SELECT seq, site_id, typ, key, data, created_at FROM event_log WHERE seq > $1`
	args := []any{afterSeq}
	if typ != "" {
		q += ` AND typ = $2`
		args = append(args, typ)
	}
	q += ` ORDER BY seq LIMIT ` + strconv.Itoa(limit)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var data string
		if err := rows.Scan(&e.Seq, &e.SiteID, &e.Type, &e.Key, &data, &e.CreatedAt); err != nil {
			return nil, db.Classify(err)
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, db.Classify(rows.Err())
}
