package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-resilience/internal/config"
	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	t.Setenv("MIRADOR_RESILIENCE_CONFIG", "")
	out, err := runCommand(t, "validate-config")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration ok")
}

func TestValidateConfigRejectsBadThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("health:\n  degradedThreshold: 0.5\n  criticalThreshold: 0.2\n"), 0o600))

	out, err := runCommand(t, "--config", path, "validate-config")
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindConfiguration))
	assert.Contains(t, out, "invalid configuration")
}

func TestBuildWiresInMemoryStack(t *testing.T) {
	cfg := config.Default()
	cfg.Orchestrator.PlaybooksPath = filepath.Join("..", "..", "configs", "playbooks", "default.yaml")

	a, err := build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.queue.Start(ctx)
	defer a.queue.Stop()

	states, err := a.service.LayerHealth(ctx, "")
	require.NoError(t, err)
	assert.Len(t, states, len(models.AllLayers()))
	for _, s := range states {
		assert.Equal(t, models.HealthHealthy, s.Health)
	}
}
