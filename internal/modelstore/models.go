package modelstore

import (
	"errors"
	"time"

	"github.com/ferrycast/ferrycast/internal/priors"
	"github.com/ferrycast/ferrycast/internal/training"
)

// ErrModelNotFound is returned when no model exists for a route and type.
var ErrModelNotFound = errors.New("model not found")

// ModelParameters is a persisted linear model for one (route, model type)
// pair. Coefficients are ordered to match FeatureKeys.
type ModelParameters struct {
	ID        string             `json:"id"`
	RouteKey  priors.RouteKey    `json:"route_key"`
	ModelType training.ModelType `json:"model_type"`

	FeatureKeys  []string  `json:"feature_keys"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	Fallback     bool      `json:"fallback"`

	MAE    float64 `json:"mae"`
	RMSE   float64 `json:"rmse"`
	R2     float64 `json:"r2"`
	StdDev float64 `json:"std_dev"`

	BucketTotal   int `json:"bucket_total"`
	BucketSampled int `json:"bucket_sampled"`
	TrainExamples int `json:"train_examples"`
	TestExamples  int `json:"test_examples"`

	TrainedAt time.Time `json:"trained_at"`
}
