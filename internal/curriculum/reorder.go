package curriculum

import (
	"context"
	"database/sql"
	"strings"

	"github.com/mind-engage/learncore/internal/apperr"
	"github.com/mind-engage/learncore/internal/db"
)

// ProposedOrdering is a complete permutation of one sibling set, as the
// caller last saw it. Build it with NewProposedOrdering.
type ProposedOrdering struct {
	level    Level
	parentID string
	ids      []string
}

// NewProposedOrdering checks the shape of an ordering: a known level, a
// parent, and a non-empty list of distinct ids.
func NewProposedOrdering(level Level, parentID string, orderedIDs []string) (ProposedOrdering, error) {
	if _, err := metaFor(level); err != nil {
		return ProposedOrdering{}, err
	}
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		return ProposedOrdering{}, apperr.Validation("parentId", "required")
	}
	if len(orderedIDs) == 0 {
		return ProposedOrdering{}, apperr.Validation("orderedIds", "must not be empty")
	}
	seen := make(map[string]struct{}, len(orderedIDs))
	ids := make([]string, len(orderedIDs))
	for i, id := range orderedIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return ProposedOrdering{}, apperr.Validation("orderedIds", "empty id")
		}
		if _, dup := seen[id]; dup {
			return ProposedOrdering{}, apperr.Validation("orderedIds", "duplicate id "+id)
		}
		seen[id] = struct{}{}
		ids[i] = id
	}
	return ProposedOrdering{level: level, parentID: parentID, ids: ids}, nil
}

func (p ProposedOrdering) Level() Level { return p.level }

func (p ProposedOrdering) ParentID() string { return p.parentID }

func (p ProposedOrdering) OrderedIDs() []string { return append([]string(nil), p.ids...) }

// Reorder applies p atomically. The proposed ids must be exactly the
// current children of the parent; anything else is a stale view and
// leaves the order untouched.
func (s *Store) Reorder(ctx context.Context, p ProposedOrdering) error {
	m, err := metaFor(p.level)
	if err != nil {
		return err
	}
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.lockParent(ctx, tx, m, p.parentID); err != nil {
			return err
		}
		current, err := childIDs(ctx, tx, m, p.parentID)
		if err != nil {
			return err
		}
		if !sameMembers(current, p.ids) {
			return apperr.Conflict("stale_ordering", "ordering does not match the current "+string(p.level)+" list")
		}
		return assignOrder(ctx, tx, m, p.parentID, p.ids)
	})
	if err != nil {
		return err
	}
	s.log.Debug("reordered", "level", p.level, "parent_id", p.parentID, "n", len(p.ids))
	return nil
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
