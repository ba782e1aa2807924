package training

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ferrycast/ferrycast/internal/priors"
)

// ModelType selects a feature tier and prediction target.
type ModelType string

const (
	// ModelDepartCurrent predicts the current leg's departure delay from
	// at-dock features.
	ModelDepartCurrent ModelType = "depart_current"

	// ModelArriveFromScheduled predicts minutes from scheduled departure to
	// arrival from at-dock features.
	ModelArriveFromScheduled ModelType = "arrive_from_scheduled"

	// ModelArriveFromActual predicts minutes from actual departure to
	// arrival from at-sea features.
	ModelArriveFromActual ModelType = "arrive_from_actual"

	// ModelDepartNext predicts the next leg's departure delay from at-dock
	// features, using eligible three-leg windows only.
	ModelDepartNext ModelType = "depart_next"
)

// AllModelTypes returns every model type, in training order.
func AllModelTypes() []ModelType {
	return []ModelType{
		ModelDepartCurrent,
		ModelArriveFromScheduled,
		ModelArriveFromActual,
		ModelDepartNext,
	}
}

// ErrInsufficientData marks a (route, model type) combination that cannot be
// trained. Expected for thin routes, not an error condition for the run.
var ErrInsufficientData = errors.New("insufficient training data")

// TestMetrics holds held-out evaluation results.
type TestMetrics struct {
	MAE    float64
	RMSE   float64
	R2     float64
	StdDev float64
}

// TrainedModel is the output of one successful fit.
type TrainedModel struct {
	ModelType ModelType
	RouteKey  priors.RouteKey

	// FeatureKeys fixes the coefficient order. Inference must build its
	// input vector in exactly this order.
	FeatureKeys  []string
	Coefficients []float64
	Intercept    float64

	// Fallback is set when instability forced the mean predictor.
	Fallback bool

	Metrics       TestMetrics
	TrainExamples int
	TestExamples  int
	BucketStats   BucketStats
}

// TrainerConfig holds the thresholds and logger for a Trainer.
type TrainerConfig struct {
	Thresholds priors.Thresholds
	Logger     zerolog.Logger
}

// Trainer fits one linear model per (route bucket, model type) pair.
type Trainer struct {
	thresholds priors.Thresholds
	logger     zerolog.Logger
}

// NewTrainer creates a Trainer.
func NewTrainer(cfg TrainerConfig) *Trainer {
	return &Trainer{thresholds: cfg.Thresholds, logger: cfg.Logger}
}

// modelPlan binds a model type to its feature tier and target.
type modelPlan struct {
	features func(FeatureRecord) map[string]float64
	target   func(FeatureRecord) *float64
}

func planFor(mt ModelType) (modelPlan, error) {
	switch mt {
	case ModelDepartCurrent:
		return modelPlan{
			features: func(r FeatureRecord) map[string]float64 { return r.AtDock },
			target: func(r FeatureRecord) *float64 {
				v := r.Targets.DepartCurrMinutes
				return &v
			},
		}, nil
	case ModelArriveFromScheduled:
		return modelPlan{
			features: func(r FeatureRecord) map[string]float64 { return r.AtDock },
			target:   func(r FeatureRecord) *float64 { return r.Targets.ArriveNextFromScheduledMinutes },
		}, nil
	case ModelArriveFromActual:
		return modelPlan{
			features: func(r FeatureRecord) map[string]float64 { return r.AtSea },
			target:   func(r FeatureRecord) *float64 { return r.Targets.ArriveNextFromActualMinutes },
		}, nil
	case ModelDepartNext:
		return modelPlan{
			features: func(r FeatureRecord) map[string]float64 { return r.AtDock },
			target: func(r FeatureRecord) *float64 {
				if !r.NextLegEligible {
					return nil
				}
				return r.Targets.DepartNextFromNextScheduledMinutes
			},
		}, nil
	default:
		return modelPlan{}, fmt.Errorf("unknown model type %q", mt)
	}
}

type example struct {
	features map[string]float64
	target   float64
}

// Train fits the given model type on one bucket. Returns ErrInsufficientData
// (wrapped) when the bucket cannot support a fit.
func (t *Trainer) Train(bucket RouteBucket, mt ModelType) (*TrainedModel, error) {
	plan, err := planFor(mt)
	if err != nil {
		return nil, err
	}

	th := t.thresholds

	// Chronological order: training always precedes testing in time, so the
	// evaluation simulates forecasting rather than interpolation.
	records := make([]FeatureRecord, len(bucket.Records))
	copy(records, bucket.Records)
	sort.Slice(records, func(i, j int) bool {
		return records[i].ScheduledDepart.Before(records[j].ScheduledDepart)
	})

	if len(records) < th.MinTotalExamples {
		return nil, fmt.Errorf("%w: route %s model %s has %d records, need %d",
			ErrInsufficientData, bucket.RouteKey, mt, len(records), th.MinTotalExamples)
	}

	split := int(float64(len(records)) * th.TrainRatio)
	trainRecs, testRecs := records[:split], records[split:]
	if len(trainRecs) < th.MinTrainExamples || len(testRecs) < th.MinTestExamples {
		return nil, fmt.Errorf("%w: route %s model %s split %d/%d below %d/%d",
			ErrInsufficientData, bucket.RouteKey, mt,
			len(trainRecs), len(testRecs), th.MinTrainExamples, th.MinTestExamples)
	}

	trainSet := buildExamples(trainRecs, plan)
	testSet := buildExamples(testRecs, plan)
	if len(trainSet) < th.MinTrainExamples || len(testSet) < th.MinTestExamples {
		return nil, fmt.Errorf("%w: route %s model %s has %d/%d usable targets, need %d/%d",
			ErrInsufficientData, bucket.RouteKey, mt,
			len(trainSet), len(testSet), th.MinTrainExamples, th.MinTestExamples)
	}

	// Lexicographic key order: inference must reproduce this exact column
	// order, so it cannot depend on map iteration.
	keys := sortedKeys(trainSet[0].features)

	coeffs, intercept, solveErr := fitOLS(trainSet, keys)

	fallback := false
	if solveErr != nil || unstable(coeffs, intercept, th.InstabilityCoefficient) {
		fallback = true
		coeffs = make([]float64, len(keys))
		intercept = targetMean(trainSet)

		t.logger.Warn().
			Str("route", string(bucket.RouteKey)).
			Str("model_type", string(mt)).
			AnErr("solve_error", solveErr).
			Msg("unstable fit, falling back to mean predictor")
	}

	predict := func(ex example) float64 {
		sum := intercept
		for i, k := range keys {
			sum += coeffs[i] * ex.features[k]
		}
		return sum
	}
	metrics := evaluate(testSet, predict)

	t.logger.Debug().
		Str("route", string(bucket.RouteKey)).
		Str("model_type", string(mt)).
		Int("train", len(trainSet)).
		Int("test", len(testSet)).
		Float64("mae", metrics.MAE).
		Float64("rmse", metrics.RMSE).
		Float64("r2", metrics.R2).
		Bool("fallback", fallback).
		Msg("model trained")

	return &TrainedModel{
		ModelType:     mt,
		RouteKey:      bucket.RouteKey,
		FeatureKeys:   keys,
		Coefficients:  coeffs,
		Intercept:     intercept,
		Fallback:      fallback,
		Metrics:       metrics,
		TrainExamples: len(trainSet),
		TestExamples:  len(testSet),
		BucketStats:   bucket.Stats,
	}, nil
}

func buildExamples(records []FeatureRecord, plan modelPlan) []example {
	examples := make([]example, 0, len(records))
	for _, r := range records {
		target := plan.target(r)
		if target == nil {
			continue
		}
		examples = append(examples, example{features: plan.features(r), target: *target})
	}
	return examples
}

func sortedKeys(features map[string]float64) []string {
	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func targetMean(examples []example) float64 {
	sum := 0.0
	for _, ex := range examples {
		sum += ex.target
	}
	return sum / float64(len(examples))
}
