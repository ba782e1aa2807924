// Package priors holds the static route configuration consumed by the
// training pipeline: the terminal name dictionary, historical duration means
// per terminal pair, and the validation thresholds used to filter raw trips.
// A Config is built once at startup and passed by reference; it is never
// mutated afterwards.
package priors

import (
	"encoding/json"
	"fmt"
	"os"
)

// RouteKey identifies an ordered terminal pair, e.g. "SEA-BAI".
type RouteKey string

// MakeRouteKey builds a RouteKey from two terminal codes.
func MakeRouteKey(from, to string) RouteKey {
	return RouteKey(from + "-" + to)
}

// RoutePrior holds the historical mean durations for one terminal pair.
type RoutePrior struct {
	// MeanAtDockMinutes is the historical mean turnaround time at the
	// departure terminal before sailing this leg.
	MeanAtDockMinutes float64 `json:"mean_at_dock_minutes"`

	// MeanAtSeaMinutes is the historical mean crossing time for this leg.
	MeanAtSeaMinutes float64 `json:"mean_at_sea_minutes"`
}

// Thresholds holds the validation and training gates applied by the pipeline.
type Thresholds struct {
	// MinAtDockMinutes / MaxAtDockMinutes bound a plausible turnaround.
	MinAtDockMinutes float64 `json:"min_at_dock_minutes"`
	MaxAtDockMinutes float64 `json:"max_at_dock_minutes"`

	// MinAtSeaMinutes / MaxAtSeaMinutes bound a plausible crossing.
	MinAtSeaMinutes float64 `json:"min_at_sea_minutes"`
	MaxAtSeaMinutes float64 `json:"max_at_sea_minutes"`

	// MaxTotalMinutes caps at-dock plus at-sea for one leg. Filters
	// overnight layovers and mis-recorded arrivals.
	MaxTotalMinutes float64 `json:"max_total_minutes"`

	// DepartureToleranceMinutes is how far an actual departure may precede
	// its schedule before the record is considered mis-recorded.
	DepartureToleranceMinutes float64 `json:"departure_tolerance_minutes"`

	// AtSeaPlausibilityRatio drops records whose at-sea duration is below
	// this fraction of the historical mean for the route.
	AtSeaPlausibilityRatio float64 `json:"at_sea_plausibility_ratio"`

	// SlackClampFactor bounds slack at a terminal to this multiple of the
	// route's mean at-dock duration.
	SlackClampFactor float64 `json:"slack_clamp_factor"`

	// NextLegSlackCapMinutes is the absolute ceiling on slack before a
	// next-leg departure counts as a normal turnaround.
	NextLegSlackCapMinutes float64 `json:"next_leg_slack_cap_minutes"`

	// MaxSamplesPerRoute caps each route bucket to the most recent N records.
	MaxSamplesPerRoute int `json:"max_samples_per_route"`

	// TrainRatio is the chronological train/test split fraction.
	TrainRatio float64 `json:"train_ratio"`

	// Minimum example gates for fitting a model.
	MinTotalExamples int `json:"min_total_examples"`
	MinTrainExamples int `json:"min_train_examples"`
	MinTestExamples  int `json:"min_test_examples"`

	// InstabilityCoefficient is the magnitude above which a fitted
	// coefficient marks the model as numerically unstable.
	InstabilityCoefficient float64 `json:"instability_coefficient"`
}

// Config is the immutable priors lookup passed into the pipeline.
type Config struct {
	terminals  map[string]string
	routes     map[RouteKey]RoutePrior
	thresholds Thresholds
}

// New builds a Config from the given tables. The maps are copied so callers
// cannot mutate the Config afterwards.
func New(terminals map[string]string, routes map[RouteKey]RoutePrior, th Thresholds) *Config {
	t := make(map[string]string, len(terminals))
	for k, v := range terminals {
		t[k] = v
	}
	r := make(map[RouteKey]RoutePrior, len(routes))
	for k, v := range routes {
		r[k] = v
	}
	return &Config{terminals: t, routes: r, thresholds: th}
}

// TerminalCode resolves a terminal display name to its short code.
func (c *Config) TerminalCode(name string) (string, bool) {
	code, ok := c.terminals[name]
	return code, ok
}

// Route returns the historical prior for the given route, if known.
func (c *Config) Route(key RouteKey) (RoutePrior, bool) {
	p, ok := c.routes[key]
	return p, ok
}

// MeanAtDock returns the historical mean at-dock minutes for a route.
func (c *Config) MeanAtDock(key RouteKey) (float64, bool) {
	p, ok := c.routes[key]
	return p.MeanAtDockMinutes, ok
}

// MeanAtSea returns the historical mean at-sea minutes for a route.
func (c *Config) MeanAtSea(key RouteKey) (float64, bool) {
	p, ok := c.routes[key]
	return p.MeanAtSeaMinutes, ok
}

// Thresholds returns the validation thresholds.
func (c *Config) Thresholds() Thresholds {
	return c.thresholds
}

// RouteCount returns the number of routes with known priors.
func (c *Config) RouteCount() int {
	return len(c.routes)
}

// DefaultThresholds returns the validation thresholds used in production.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinAtDockMinutes:          4,
		MaxAtDockMinutes:          120,
		MinAtSeaMinutes:           8,
		MaxAtSeaMinutes:           150,
		MaxTotalMinutes:           240,
		DepartureToleranceMinutes: 5,
		AtSeaPlausibilityRatio:    0.8,
		SlackClampFactor:          1.5,
		NextLegSlackCapMinutes:    720,
		MaxSamplesPerRoute:        2000,
		TrainRatio:                0.8,
		MinTotalExamples:          20,
		MinTrainExamples:          10,
		MinTestExamples:           5,
		InstabilityCoefficient:    10000,
	}
}

// Default returns the built-in priors for the Puget Sound ferry network.
func Default() *Config {
	terminals := map[string]string{
		"Seattle":           "SEA",
		"Bainbridge Island": "BAI",
		"Bremerton":         "BRE",
		"Edmonds":           "EDM",
		"Kingston":          "KIN",
		"Mukilteo":          "MUK",
		"Clinton":           "CLI",
		"Fauntleroy":        "FAU",
		"Vashon Island":     "VAS",
		"Southworth":        "SOU",
		"Point Defiance":    "PTD",
		"Tahlequah":         "TAH",
		"Anacortes":         "ANA",
		"Friday Harbor":     "FRI",
		"Orcas Island":      "ORC",
		"Lopez Island":      "LOP",
		"Shaw Island":       "SHA",
		"Coupeville":        "COU",
		"Port Townsend":     "PTT",
	}

	routes := map[RouteKey]RoutePrior{
		"SEA-BAI": {MeanAtDockMinutes: 18, MeanAtSeaMinutes: 35},
		"BAI-SEA": {MeanAtDockMinutes: 17, MeanAtSeaMinutes: 35},
		"SEA-BRE": {MeanAtDockMinutes: 22, MeanAtSeaMinutes: 60},
		"BRE-SEA": {MeanAtDockMinutes: 20, MeanAtSeaMinutes: 60},
		"EDM-KIN": {MeanAtDockMinutes: 14, MeanAtSeaMinutes: 30},
		"KIN-EDM": {MeanAtDockMinutes: 14, MeanAtSeaMinutes: 30},
		"MUK-CLI": {MeanAtDockMinutes: 9, MeanAtSeaMinutes: 20},
		"CLI-MUK": {MeanAtDockMinutes: 9, MeanAtSeaMinutes: 20},
		"FAU-VAS": {MeanAtDockMinutes: 11, MeanAtSeaMinutes: 22},
		"VAS-FAU": {MeanAtDockMinutes: 10, MeanAtSeaMinutes: 22},
		"FAU-SOU": {MeanAtDockMinutes: 11, MeanAtSeaMinutes: 34},
		"SOU-FAU": {MeanAtDockMinutes: 10, MeanAtSeaMinutes: 34},
		"VAS-SOU": {MeanAtDockMinutes: 8, MeanAtSeaMinutes: 14},
		"SOU-VAS": {MeanAtDockMinutes: 8, MeanAtSeaMinutes: 14},
		"PTD-TAH": {MeanAtDockMinutes: 8, MeanAtSeaMinutes: 15},
		"TAH-PTD": {MeanAtDockMinutes: 8, MeanAtSeaMinutes: 15},
		"ANA-FRI": {MeanAtDockMinutes: 25, MeanAtSeaMinutes: 65},
		"FRI-ANA": {MeanAtDockMinutes: 22, MeanAtSeaMinutes: 65},
		"ANA-ORC": {MeanAtDockMinutes: 25, MeanAtSeaMinutes: 55},
		"ORC-ANA": {MeanAtDockMinutes: 18, MeanAtSeaMinutes: 55},
		"ANA-LOP": {MeanAtDockMinutes: 25, MeanAtSeaMinutes: 40},
		"LOP-ANA": {MeanAtDockMinutes: 15, MeanAtSeaMinutes: 40},
		"ORC-SHA": {MeanAtDockMinutes: 12, MeanAtSeaMinutes: 12},
		"SHA-ORC": {MeanAtDockMinutes: 10, MeanAtSeaMinutes: 12},
		"COU-PTT": {MeanAtDockMinutes: 14, MeanAtSeaMinutes: 32},
		"PTT-COU": {MeanAtDockMinutes: 14, MeanAtSeaMinutes: 32},
	}

	return New(terminals, routes, DefaultThresholds())
}

// fileConfig is the on-disk JSON shape for a priors override file.
type fileConfig struct {
	Terminals  map[string]string     `json:"terminals"`
	Routes     map[string]RoutePrior `json:"routes"`
	Thresholds *Thresholds           `json:"thresholds"`
}

// Load reads a priors file. Terminals and routes replace the defaults
// entirely; thresholds fall back to DefaultThresholds when omitted.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading priors file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing priors file: %w", err)
	}
	if len(fc.Terminals) == 0 {
		return nil, fmt.Errorf("priors file %s: no terminals defined", path)
	}
	if len(fc.Routes) == 0 {
		return nil, fmt.Errorf("priors file %s: no routes defined", path)
	}

	routes := make(map[RouteKey]RoutePrior, len(fc.Routes))
	for k, v := range fc.Routes {
		if v.MeanAtDockMinutes <= 0 || v.MeanAtSeaMinutes <= 0 {
			return nil, fmt.Errorf("priors file %s: route %s has non-positive means", path, k)
		}
		routes[RouteKey(k)] = v
	}

	th := DefaultThresholds()
	if fc.Thresholds != nil {
		th = *fc.Thresholds
	}

	return New(fc.Terminals, routes, th), nil
}
