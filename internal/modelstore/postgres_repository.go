package modelstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferrycast/ferrycast/internal/priors"
	"github.com/ferrycast/ferrycast/internal/training"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL model repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Upsert stores the model, replacing any existing model for the same route
// and model type.
func (r *PostgresRepository) Upsert(ctx context.Context, model *ModelParameters) error {
	query := `
		INSERT INTO route_models (
			id, route_key, model_type, feature_keys, coefficients, intercept,
			fallback, mae, rmse, r2, std_dev, bucket_total, bucket_sampled,
			train_examples, test_examples, trained_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (route_key, model_type) DO UPDATE SET
			id = EXCLUDED.id,
			feature_keys = EXCLUDED.feature_keys,
			coefficients = EXCLUDED.coefficients,
			intercept = EXCLUDED.intercept,
			fallback = EXCLUDED.fallback,
			mae = EXCLUDED.mae,
			rmse = EXCLUDED.rmse,
			r2 = EXCLUDED.r2,
			std_dev = EXCLUDED.std_dev,
			bucket_total = EXCLUDED.bucket_total,
			bucket_sampled = EXCLUDED.bucket_sampled,
			train_examples = EXCLUDED.train_examples,
			test_examples = EXCLUDED.test_examples,
			trained_at = EXCLUDED.trained_at
	`

	_, err := r.pool.Exec(ctx, query,
		model.ID,
		model.RouteKey,
		model.ModelType,
		model.FeatureKeys,
		model.Coefficients,
		model.Intercept,
		model.Fallback,
		model.MAE,
		model.RMSE,
		model.R2,
		model.StdDev,
		model.BucketTotal,
		model.BucketSampled,
		model.TrainExamples,
		model.TestExamples,
		model.TrainedAt,
	)
	return err
}

// Get retrieves the current model for a route and model type.
func (r *PostgresRepository) Get(ctx context.Context, route priors.RouteKey, mt training.ModelType) (*ModelParameters, error) {
	query := `
		SELECT id, route_key, model_type, feature_keys, coefficients, intercept,
			fallback, mae, rmse, r2, std_dev, bucket_total, bucket_sampled,
			train_examples, test_examples, trained_at
		FROM route_models
		WHERE route_key = $1 AND model_type = $2
	`

	var model ModelParameters
	err := r.pool.QueryRow(ctx, query, route, mt).Scan(
		&model.ID,
		&model.RouteKey,
		&model.ModelType,
		&model.FeatureKeys,
		&model.Coefficients,
		&model.Intercept,
		&model.Fallback,
		&model.MAE,
		&model.RMSE,
		&model.R2,
		&model.StdDev,
		&model.BucketTotal,
		&model.BucketSampled,
		&model.TrainExamples,
		&model.TestExamples,
		&model.TrainedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrModelNotFound
		}
		return nil, err
	}

	return &model, nil
}

// List retrieves all stored models, ordered by route key then model type.
func (r *PostgresRepository) List(ctx context.Context) ([]*ModelParameters, error) {
	query := `
		SELECT id, route_key, model_type, feature_keys, coefficients, intercept,
			fallback, mae, rmse, r2, std_dev, bucket_total, bucket_sampled,
			train_examples, test_examples, trained_at
		FROM route_models
		ORDER BY route_key, model_type
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []*ModelParameters
	for rows.Next() {
		var model ModelParameters
		err := rows.Scan(
			&model.ID,
			&model.RouteKey,
			&model.ModelType,
			&model.FeatureKeys,
			&model.Coefficients,
			&model.Intercept,
			&model.Fallback,
			&model.MAE,
			&model.RMSE,
			&model.R2,
			&model.StdDev,
			&model.BucketTotal,
			&model.BucketSampled,
			&model.TrainExamples,
			&model.TestExamples,
			&model.TrainedAt,
		)
		if err != nil {
			return nil, err
		}
		models = append(models, &model)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return models, nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
