package engine

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-resilience/internal/models"
	"github.com/miradorstack/mirador-resilience/internal/utils"
)

func defaultPlaybookPath(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "configs", "playbooks", "default.yaml")
}

func TestLoadShippedPlaybooks(t *testing.T) {
	set, err := LoadPlaybooks(defaultPlaybookPath(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, set.Len())

	selected := set.Select([]models.SystemLayer{models.LayerDataAccess}, models.ImpactCritical)
	require.Len(t, selected, 1)
	assert.Equal(t, "datastore-failover", selected[0].Name)

	steps := selected[0].expand([]models.SystemLayer{models.LayerDataAccess})
	require.Len(t, steps, 3)
	assert.Equal(t, models.LayerDataAccess, steps[0].Target)
	assert.Equal(t, models.LayerAPI, steps[1].Target)
	assert.Equal(t, ActionNotify, steps[2].Action)
}

func TestPlaybookImpactAndEnabledGate(t *testing.T) {
	set, err := ParsePlaybooks([]byte(`
playbooks:
  - name: high-only
    minImpact: high
    actions: [{type: Throttle}]
  - name: disabled
    enabled: false
    actions: [{type: notify}]
`), nil)
	require.NoError(t, err)

	got := set.Select([]models.SystemLayer{models.LayerAPI}, models.ImpactHigh)
	require.Len(t, got, 1)
	assert.Equal(t, "high-only", got[0].Name)
	assert.Equal(t, ActionThrottle, got[0].Actions[0].Type)

	// nothing enabled matches MEDIUM, so the fallback runs
	got = set.Select([]models.SystemLayer{models.LayerAPI}, models.ImpactMedium)
	require.Len(t, got, 1)
	assert.Equal(t, "fallback-continuity", got[0].Name)
	assert.Equal(t, string(models.StrategyIsolate), got[0].Actions[0].Type)
}

func TestParsePlaybooksRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no name":    "playbooks: [{actions: [{type: notify}]}]",
		"bad impact": "playbooks: [{name: x, minImpact: huge, actions: [{type: notify}]}]",
		"bad layer":  "playbooks: [{name: x, triggers: {layers: [mainframe]}, actions: [{type: notify}]}]",
		"no actions": "playbooks: [{name: x}]",
		"bad action": "playbooks: [{name: x, actions: [{type: reboot}]}]",
		"bad target": "playbooks: [{name: x, actions: [{type: isolate, target: moon}]}]",
		"not yaml":   "playbooks: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePlaybooks([]byte(doc), nil)
			require.Error(t, err)
			assert.True(t, utils.IsKind(err, utils.KindConfiguration))
		})
	}
}

func TestMissingPlaybookFileFallsBack(t *testing.T) {
	set, err := LoadPlaybooks(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Zero(t, set.Len())
	assert.Equal(t, "fallback-continuity", set.Select(nil, models.ImpactCritical)[0].Name)
}
