package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-resilience/internal/utils"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100*time.Millisecond, cfg.Prediction.LatencyBudget)
	assert.Equal(t, 5*time.Second, cfg.Analytics.AggregationBudget)
	assert.Equal(t, 3, cfg.Health.CleanChecks)
}

func TestLoadOverlaysYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlDoc := `
health:
  cleanChecks: 5
  degradedThreshold: 0.1
  criticalThreshold: 0.2
  emergencyThreshold: 0.5
orchestrator:
  dependents:
    infrastructure: [data_access]
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))
	t.Setenv("MIRADOR_RESILIENCE_PREDICTION_BUDGET", "250ms")
	t.Setenv("MIRADOR_RESILIENCE_ESTIMATORS", "ewma, linear_trend")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Health.CleanChecks)
	assert.Equal(t, 0.2, cfg.Health.CriticalThreshold)
	assert.Equal(t, []string{"data_access"}, cfg.Orchestrator.Dependents["infrastructure"])
	assert.Equal(t, 250*time.Millisecond, cfg.Prediction.LatencyBudget)
	assert.Equal(t, []string{"ewma", "linear_trend"}, cfg.Prediction.Estimators)
	// untouched defaults survive the overlay
	assert.Equal(t, 5*time.Minute, cfg.Health.Window)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]func(*Config){
		"thresholds out of order": func(c *Config) { c.Health.CriticalThreshold = 0.01 },
		"single estimator":        func(c *Config) { c.Prediction.Estimators = []string{"ewma"} },
		"zero budget":             func(c *Config) { c.Prediction.LatencyBudget = 0 },
		"zero window":             func(c *Config) { c.Health.Window = 0 },
		"bad load threshold":      func(c *Config) { c.Orchestrator.HighLoadThreshold = 1.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, utils.IsKind(err, utils.KindConfiguration))
		})
	}
}
