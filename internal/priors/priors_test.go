package priors_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrycast/ferrycast/internal/priors"
)

func TestDefault_KnownRoute(t *testing.T) {
	cfg := priors.Default()

	code, ok := cfg.TerminalCode("Seattle")
	require.True(t, ok)
	assert.Equal(t, "SEA", code)

	mean, ok := cfg.MeanAtDock(priors.MakeRouteKey("SEA", "BAI"))
	require.True(t, ok)
	assert.Greater(t, mean, 0.0)

	_, ok = cfg.MeanAtSea("SEA-NOPE")
	assert.False(t, ok)
}

func TestDefault_RoutesArePaired(t *testing.T) {
	cfg := priors.Default()

	// Every service route runs in both directions.
	for _, pair := range [][2]string{
		{"SEA", "BAI"}, {"SEA", "BRE"}, {"EDM", "KIN"},
		{"MUK", "CLI"}, {"FAU", "VAS"}, {"ANA", "FRI"},
	} {
		_, ok := cfg.Route(priors.MakeRouteKey(pair[0], pair[1]))
		assert.True(t, ok, "missing %s-%s", pair[0], pair[1])
		_, ok = cfg.Route(priors.MakeRouteKey(pair[1], pair[0]))
		assert.True(t, ok, "missing %s-%s", pair[1], pair[0])
	}
}

func TestNew_CopiesInputs(t *testing.T) {
	terminals := map[string]string{"Seattle": "SEA"}
	routes := map[priors.RouteKey]priors.RoutePrior{
		"SEA-BAI": {MeanAtDockMinutes: 18, MeanAtSeaMinutes: 35},
	}

	cfg := priors.New(terminals, routes, priors.DefaultThresholds())

	// Mutating the source maps must not leak into the Config.
	terminals["Seattle"] = "XXX"
	delete(routes, "SEA-BAI")

	code, ok := cfg.TerminalCode("Seattle")
	require.True(t, ok)
	assert.Equal(t, "SEA", code)

	_, ok = cfg.Route("SEA-BAI")
	assert.True(t, ok)
}

func TestLoad_FullFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priors.json")
	content := `{
		"terminals": {"Alpha": "ALP", "Beta": "BET"},
		"routes": {
			"ALP-BET": {"mean_at_dock_minutes": 12, "mean_at_sea_minutes": 40}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := priors.Load(path)
	require.NoError(t, err)

	code, ok := cfg.TerminalCode("Alpha")
	require.True(t, ok)
	assert.Equal(t, "ALP", code)

	prior, ok := cfg.Route("ALP-BET")
	require.True(t, ok)
	assert.Equal(t, 12.0, prior.MeanAtDockMinutes)
	assert.Equal(t, 40.0, prior.MeanAtSeaMinutes)

	// Omitted thresholds fall back to defaults.
	assert.Equal(t, priors.DefaultThresholds(), cfg.Thresholds())
}

func TestLoad_RejectsEmptyTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priors.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"terminals": {"A": "A"}}`), 0o600))

	_, err := priors.Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsNonPositiveMeans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priors.json")
	content := `{
		"terminals": {"Alpha": "ALP"},
		"routes": {"ALP-BET": {"mean_at_dock_minutes": 0, "mean_at_sea_minutes": 40}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := priors.Load(path)
	assert.Error(t, err)
}
