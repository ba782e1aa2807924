package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Runner starts training runs. Implemented by Coordinator.
type Runner interface {
	Run(ctx context.Context) (*RunReport, error)
}

// Pinger verifies upstream connectivity. Implemented by history.Service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PubSubHandler triggers training runs from Pub/Sub messages.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	runner           Runner
	pinger           Pinger
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Runner           Runner
	Pinger           Pinger
	Logger           zerolog.Logger
}

// TrainMessage represents a training job message.
type TrainMessage struct {
	JobType string `json:"job_type"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// A full run over 90 days of history can be slow.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 30 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		runner:           cfg.Runner,
		pinger:           cfg.Pinger,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	var trainMsg TrainMessage
	if err := json.Unmarshal(msg.Data, &trainMsg); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		msg.Nack()
		return
	}

	var err error
	switch trainMsg.JobType {
	case "train":
		err = h.handleTrain(ctx, logger)
	case "health_check":
		err = h.pinger.Ping(ctx)
	default:
		logger.Warn().Str("job_type", trainMsg.JobType).Msg("unknown job type")
		msg.Ack() // Ack unknown messages to prevent redelivery
		return
	}

	if err != nil {
		logger.Error().Err(err).Msg("job failed")
		msg.Nack()
		return
	}

	logger.Info().
		Str("job_type", trainMsg.JobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")

	msg.Ack()
}

func (h *PubSubHandler) handleTrain(ctx context.Context, logger zerolog.Logger) error {
	report, err := h.runner.Run(ctx)
	if errors.Is(err, ErrRunInProgress) {
		// Another trigger already started the run; redelivery would only
		// pile up duplicates.
		logger.Warn().Msg("run already in progress, dropping trigger")
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info().
		Str("run_id", report.RunID).
		Int("trained", report.ModelsTrained).
		Int("skipped", report.ModelsSkipped).
		Int("failed", report.ModelsFailed).
		Msg("triggered training run finished")

	return nil
}
