// Package queue provides the durable job queue boundary between the
// ingestion trigger and the transcode workers. Implementations guarantee
// at-least-once delivery: an unacknowledged job becomes eligible again
// after the redelivery timeout.
package queue

import (
	"context"
	"time"

	"videoflix/internal/models"
)

// Delivery is one received job. Exactly one of Ack or Requeue must be
// called; until then the job counts as in flight and will be redelivered
// when the consumer disappears.
type Delivery interface {
	Job() models.Job
	// Ack marks the job as done and removes it from the queue.
	Ack(ctx context.Context) error
	// Requeue makes the job (as passed) available again after delay.
	Requeue(ctx context.Context, job models.Job, delay time.Duration) error
}

// Queue transports jobs between the trigger and the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, job models.Job) error
	// EnqueueAfter delays visibility of the job, used for retry backoff.
	EnqueueAfter(ctx context.Context, job models.Job, delay time.Duration) error
	// Subscribe returns a channel of deliveries. The channel closes when
	// ctx is cancelled or the queue shuts down.
	Subscribe(ctx context.Context) (<-chan Delivery, error)
	Close() error
}
