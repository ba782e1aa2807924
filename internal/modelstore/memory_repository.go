package modelstore

import (
	"context"
	"sort"
	"sync"

	"github.com/ferrycast/ferrycast/internal/priors"
	"github.com/ferrycast/ferrycast/internal/training"
)

type modelKey struct {
	route priors.RouteKey
	mt    training.ModelType
}

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and local runs without a database.
type InMemoryRepository struct {
	mu     sync.RWMutex
	models map[modelKey]*ModelParameters
}

// NewInMemoryRepository creates a new in-memory model repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		models: make(map[modelKey]*ModelParameters),
	}
}

// Upsert stores the model, replacing any existing model for the same route
// and model type.
func (r *InMemoryRepository) Upsert(_ context.Context, model *ModelParameters) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.models[modelKey{route: model.RouteKey, mt: model.ModelType}] = copyModel(model)
	return nil
}

// Get retrieves the current model for a route and model type.
func (r *InMemoryRepository) Get(_ context.Context, route priors.RouteKey, mt training.ModelType) (*ModelParameters, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model, ok := r.models[modelKey{route: route, mt: mt}]
	if !ok {
		return nil, ErrModelNotFound
	}

	return copyModel(model), nil
}

// List retrieves all stored models, ordered by route key then model type.
func (r *InMemoryRepository) List(_ context.Context) ([]*ModelParameters, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]*ModelParameters, 0, len(r.models))
	for _, model := range r.models {
		models = append(models, copyModel(model))
	}

	sort.Slice(models, func(i, j int) bool {
		if models[i].RouteKey != models[j].RouteKey {
			return models[i].RouteKey < models[j].RouteKey
		}
		return models[i].ModelType < models[j].ModelType
	})

	return models, nil
}

// copyModel creates a deep copy of model parameters.
func copyModel(m *ModelParameters) *ModelParameters {
	if m == nil {
		return nil
	}

	modelCopy := *m
	modelCopy.FeatureKeys = append([]string(nil), m.FeatureKeys...)
	modelCopy.Coefficients = append([]float64(nil), m.Coefficients...)
	return &modelCopy
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
