package syncx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/learncore/internal/db"
)

type recordingPublisher struct {
	got []Event
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.got = append(p.got, e)
	return p.err
}

func openRepo(t *testing.T) (*EventRepo, *sql.DB) {
	t.Helper()
	h, err := db.Open(context.Background(), db.DriverSQLite, fmt.Sprintf("file:eventlog_%p?mode=memory&cache=shared", t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return NewEventRepo(h, "", nil), h
}

func TestAppendAndList(t *testing.T) {
	r, _ := openRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Append(ctx, nil, NewEvent(TypeEnrolled, "u1:c1", map[string]string{"courseId": "c1"})))
	require.NoError(t, r.Append(ctx, nil, NewEvent(TypeCertificateIssued, "u1:c1", nil)))

	all, err := r.List(ctx, 0, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "local", all[0].SiteID)
	assert.JSONEq(t, `{"courseId":"c1"}`, string(all[0].Data))
	assert.Less(t, all[0].Seq, all[1].Seq)

	certs, err := r.List(ctx, 0, TypeCertificateIssued, 10)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "null", string(certs[0].Data))

	after, err := r.List(ctx, all[0].Seq, "", 10)
	require.NoError(t, err)
	assert.Len(t, after, 1)
}

func TestAppendRollsBackWithTx(t *testing.T) {
	r, h := openRepo(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, h, func(tx *sql.Tx) error {
		require.NoError(t, r.Append(ctx, tx, NewEvent(TypeProgressUpdated, "k", nil)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	all, err := r.List(ctx, 0, "", 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEmitIsBestEffort(t *testing.T) {
	r, _ := openRepo(t)
	pub := &recordingPublisher{err: errors.New("down")}
	r.WithPublisher(pub)

	r.Emit(context.Background(), NewEvent(TypeLessonCompleted, "u1:s1", nil))
	require.Len(t, pub.got, 1)
	assert.Equal(t, "local", pub.got[0].SiteID)
}
