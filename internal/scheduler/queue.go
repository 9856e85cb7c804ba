package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
)

// Queue publishes tenant jobs onto a JetStream work queue. Each message is
// delivered to exactly one worker and removed once acknowledged.
type Queue struct {
	js         nats.JetStreamContext
	logger     *zap.Logger
	ackWait    time.Duration
	maxDeliver int
}

// QueueConfig tunes redelivery of unacknowledged jobs
type QueueConfig struct {
	AckWait    time.Duration
	MaxDeliver int
}

// NewQueue creates the work queue stream if needed
func NewQueue(js nats.JetStreamContext, config QueueConfig, logger *zap.Logger) (*Queue, error) {
	if config.AckWait <= 0 {
		config.AckWait = 5 * time.Minute
	}
	if config.MaxDeliver <= 0 {
		config.MaxDeliver = 3
	}
	q := &Queue{
		js:         js,
		logger:     logger.Named("queue"),
		ackWait:    config.AckWait,
		maxDeliver: config.MaxDeliver,
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := q.setupStream(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}
	return q, nil
}

func (q *Queue) setupStream(ctx context.Context) error {
	_, err := q.js.StreamInfo(StreamName, nats.Context(ctx))
	if err == nil {
		q.logger.Info("Using existing stream", zap.String("stream", StreamName))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{Subject},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		MaxAge:     streamMaxAge,
		MaxMsgs:    streamMaxMsgs,
		Duplicates: duplicateWindow,
	}, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return err
	}

	q.logger.Info("Stream created successfully", zap.String("stream", StreamName))
	return nil
}

// Enqueue publishes job. Publishing the same tenant and tick twice inside
// the duplicate window stores a single message.
func (q *Queue) Enqueue(ctx context.Context, job *model.TenantJob) error {
	if job.TenantID == "" || job.TickID == "" {
		return ErrInvalidJob
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ack, err := q.js.Publish(Subject, data,
		nats.MsgId(job.TenantID+"/"+job.TickID),
		nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish job for tenant %s: %w", job.TenantID, err)
	}
	if ack.Duplicate {
		q.logger.Debug("Job already queued",
			zap.String("tenant_id", job.TenantID),
			zap.String("tick_id", job.TickID))
	}
	return nil
}

// Subscribe binds a pull subscription to the shared durable consumer
func (q *Queue) Subscribe() (*nats.Subscription, error) {
	sub, err := q.js.PullSubscribe(Subject, ConsumerName,
		nats.BindStream(StreamName),
		nats.AckExplicit(),
		nats.AckWait(q.ackWait),
		nats.MaxDeliver(q.maxDeliver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", Subject, err)
	}
	return sub, nil
}

// AckWait returns how long a delivered job may run unacknowledged
func (q *Queue) AckWait() time.Duration {
	return q.ackWait
}

// DecodeJob parses a queued job
func DecodeJob(data []byte) (*model.TenantJob, error) {
	var job model.TenantJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.TenantID == "" {
		return nil, ErrInvalidJob
	}
	return &job, nil
}
