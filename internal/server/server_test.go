package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/HendryAvila/plotline/internal/config"
	"github.com/HendryAvila/plotline/internal/rules"
	"github.com/HendryAvila/plotline/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Data.Dir = ""
	cfg.Data.InMemory = true
	return cfg
}

func TestBuild_StartAndClose(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, memoryConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer a.Close()

	assert.Equal(t, uint64(1), a.Registry.Generation())
	assert.NotNil(t, NewMCP(a))
	assert.NotNil(t, a.HTTP())

	got, err := a.Engine.Suggest(ctx, state.Conversation{SessionID: "s1"}, []rules.Topic{"initial"}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Selection.MaxSuggestions = 0
	_, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestBuild_RejectsBrokenRules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("- feature: Broken\n  topic: story\n"), 0o644))
	cfg := memoryConfig()
	cfg.Rules.Dir = dir

	_, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestBuild_WatchesRulesDir(t *testing.T) {
	dir := t.TempDir()
	src, err := os.ReadFile(filepath.Join("..", "rules", "catalog", "initial.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "initial.yaml"), src, 0o644))

	cfg := memoryConfig()
	cfg.Rules.Dir = dir
	cfg.Rules.Watch = true
	ctx := context.Background()
	a, err := Build(ctx, cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, a.Watcher)
	require.NoError(t, a.Start(ctx))
	a.Close()
}
