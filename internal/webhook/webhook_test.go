package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pfmt/internal/config"
	"pfmt/internal/db"
	"pfmt/internal/events"
	"pfmt/internal/migrate"
	"pfmt/internal/repo"
)

type receiver struct {
	mu        sync.Mutex
	fail      bool
	bodies    []Delivery
	signature []string
	kinds     []string
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.fail {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	data, _ := io.ReadAll(r.Body)
	var d Delivery
	_ = json.Unmarshal(data, &d)
	rc.bodies = append(rc.bodies, d)
	rc.kinds = append(rc.kinds, r.Header.Get("X-Pfmt-Event"))
	rc.signature = append(rc.signature, r.Header.Get("X-Pfmt-Signature"))
	if got := r.Header.Get("X-Pfmt-Signature"); got != "" && got != Sign("s3cret", data) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rc *receiver) types() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]string, 0, len(rc.bodies))
	for _, b := range rc.bodies {
		out = append(out, b.Type)
	}
	return out
}

func setup(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	ctx := context.Background()
	g, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	require.NoError(t, migrate.Migrate(ctx, g))
	return repo.Repo{DB: g}, ctx
}

func appendEvent(t *testing.T, ctx context.Context, r repo.Repo, typ, project string) {
	t.Helper()
	w := events.Writer{Now: func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }}
	evt := events.Event{Type: typ, ProjectID: project, EntityKind: "project", EntityID: project, ActorID: "u1",
		Payload: events.EventPayload{"name": "Bridge A"}}
	require.NoError(t, w.Append(ctx, r.DB, &evt))
}

func TestDispatchDeliversOnlyNewEvents(t *testing.T) {
	r, ctx := setup(t)
	appendEvent(t, ctx, r, events.ProjectCreated, "p0")

	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	d := New(r, []config.WebhookConfig{{URL: srv.URL, Secret: "s3cret"}}, zaptest.NewLogger(t))
	d.DispatchOnce(ctx)
	assert.Empty(t, rc.types(), "events before start are not replayed")

	appendEvent(t, ctx, r, events.ProjectInitiated, "p1")
	appendEvent(t, ctx, r, events.VersionCreated, "p1")
	d.DispatchOnce(ctx)
	assert.Equal(t, []string{events.ProjectInitiated, events.VersionCreated}, rc.types())

	rc.mu.Lock()
	first := rc.bodies[0]
	assert.Equal(t, events.ProjectInitiated, rc.kinds[0])
	assert.NotEmpty(t, rc.signature[0])
	rc.mu.Unlock()
	assert.Equal(t, "p1", first.ProjectID)
	assert.JSONEq(t, `{"name":"Bridge A"}`, string(first.Payload))

	d.DispatchOnce(ctx)
	assert.Len(t, rc.types(), 2, "delivered events are not sent twice")
}

func TestDispatchFiltersByType(t *testing.T) {
	r, ctx := setup(t)
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	d := New(r, []config.WebhookConfig{{URL: srv.URL, Events: []string{events.VersionApproved}}}, zaptest.NewLogger(t))
	d.DispatchOnce(ctx)
	appendEvent(t, ctx, r, events.VersionCreated, "p1")
	appendEvent(t, ctx, r, events.VersionApproved, "p1")
	d.DispatchOnce(ctx)
	assert.Equal(t, []string{events.VersionApproved}, rc.types())
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	r, ctx := setup(t)
	rc := &receiver{fail: true}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	d := New(r, []config.WebhookConfig{{URL: srv.URL}}, zaptest.NewLogger(t))
	d.DispatchOnce(ctx)
	appendEvent(t, ctx, r, events.ProjectFinalized, "p1")
	d.DispatchOnce(ctx)
	assert.Empty(t, rc.types())

	rc.mu.Lock()
	rc.fail = false
	rc.mu.Unlock()
	d.DispatchOnce(ctx)
	assert.Equal(t, []string{events.ProjectFinalized}, rc.types())
}

func TestDisabledHookIsSkipped(t *testing.T) {
	r, ctx := setup(t)
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	off := false
	d := New(r, []config.WebhookConfig{{URL: srv.URL, Enabled: &off}}, zaptest.NewLogger(t))
	d.DispatchOnce(ctx)
	appendEvent(t, ctx, r, events.ProjectCreated, "p1")
	d.DispatchOnce(ctx)
	assert.Empty(t, rc.types())
}

func TestRunStopsOnCancel(t *testing.T) {
	r, _ := setup(t)
	d := New(r, []config.WebhookConfig{{URL: "http://127.0.0.1:1"}}, zaptest.NewLogger(t))
	d.Interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
