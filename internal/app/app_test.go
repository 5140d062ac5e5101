package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pfmt/internal/engine/auth"
	"pfmt/internal/migrate"
)

func TestOpenMigratesAndWires(t *testing.T) {
	ws := t.TempDir()
	rt, err := Open(context.Background(), Settings{Workspace: ws, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer rt.Close()

	v, err := migrate.Version(context.Background(), rt.Gateway)
	require.NoError(t, err)
	assert.Positive(t, v)

	started, err := rt.Engine.InitializeSession(context.Background(), auth.Principal{ID: "u1", Role: auth.RoleProjectManager}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, started.Session.CurrentStep)
	assert.Empty(t, rt.Webhooks.Hooks)
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	ws := t.TempDir()
	yml := "wizard:\n  optimistic_locking: true\nwebhooks:\n  - url: http://127.0.0.1:9/hook\n    events: [project.created]\n"
	require.NoError(t, os.WriteFile(filepath.Join(ws, "pfmt.yml"), []byte(yml), 0o644))

	rt, err := Open(context.Background(), Settings{Workspace: ws, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer rt.Close()
	assert.True(t, rt.Config.Wizard.OptimisticLocking)
	require.Len(t, rt.Webhooks.Hooks, 1)
	assert.Equal(t, []string{"project.created"}, rt.Webhooks.Hooks[0].Events)
}

func TestOpenRejectsBadSettings(t *testing.T) {
	_, err := Open(context.Background(), Settings{Workspace: t.TempDir(), DBDriver: "mysql", Logger: zaptest.NewLogger(t)})
	assert.Error(t, err)

	_, err = Open(context.Background(), Settings{Workspace: t.TempDir(), LogLevel: "chatty"})
	assert.Error(t, err)
}
