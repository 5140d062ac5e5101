package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"pfmt/internal/db"
	"pfmt/internal/migrate"
)

func TestWriterAppendsInsideTransaction(t *testing.T) {
	ctx := context.Background()
	g, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer g.Close()
	require.NoError(t, migrate.Migrate(ctx, g))

	w := Writer{Now: func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }}
	evt := Event{Type: ProjectCreated, ProjectID: "p1", EntityKind: "project", EntityID: "p1", ActorID: "u1", Payload: EventPayload{"code": "BRIDGE-A-001"}}
	require.NoError(t, g.Transaction(ctx, func(q db.Querier) error {
		return w.Append(ctx, q, &evt)
	}))
	assert.NotZero(t, evt.ID)

	var ts, payload string
	require.NoError(t, g.QueryRowContext(ctx, `SELECT ts, payload_json FROM events WHERE id=?`, evt.ID).Scan(&ts, &payload))
	assert.Equal(t, "2025-01-02T03:04:05Z", ts)
	assert.JSONEq(t, `{"code":"BRIDGE-A-001"}`, payload)
}

func TestBusFansOutInOrder(t *testing.T) {
	var seen []string
	bus := NewBus(SubscriberFunc(func(_ context.Context, e Event) { seen = append(seen, "a:"+e.Type) }))
	bus.Subscribe(SubscriberFunc(func(_ context.Context, e Event) { seen = append(seen, "b:"+e.Type) }))
	bus.Publish(context.Background(), Event{Type: SessionCreated}, Event{Type: SessionAdvanced})
	assert.Equal(t, []string{"a:session.created", "b:session.created", "a:session.advanced", "b:session.advanced"}, seen)

	var nilBus *Bus
	nilBus.Publish(context.Background(), Event{Type: SessionCreated})
}

func TestLogSubscriber(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	LogSubscriber(zap.New(core)).Handle(context.Background(), Event{Type: VersionApproved, EntityID: "v1"})
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "state transition", entry.Message)
	assert.Equal(t, "version.approved", entry.ContextMap()["type"])
}
