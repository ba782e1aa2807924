package modelstore

import (
	"context"

	"github.com/ferrycast/ferrycast/internal/priors"
	"github.com/ferrycast/ferrycast/internal/training"
)

// Repository defines the interface for model parameter persistence.
type Repository interface {
	// Upsert stores the model, replacing any existing model for the same
	// route and model type.
	Upsert(ctx context.Context, model *ModelParameters) error

	// Get retrieves the current model for a route and model type.
	Get(ctx context.Context, route priors.RouteKey, mt training.ModelType) (*ModelParameters, error)

	// List retrieves all stored models, ordered by route key then model type.
	List(ctx context.Context) ([]*ModelParameters, error)
}
