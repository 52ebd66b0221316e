package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"videoflix/internal/models"
)

const defaultMemoryBuffer = 128

// MemoryQueue is the in-process Queue used for tests and single-node
// deployments. Unacknowledged deliveries are offered again once the
// visibility timeout elapses.
type MemoryQueue struct {
	redelivery time.Duration

	mu       sync.Mutex
	items    chan Delivery
	inflight map[string]*memoryDelivery
	timers   map[*time.Timer]struct{}
	closed   bool
	done     chan struct{}
}

// NewMemoryQueue builds a queue redelivering unacked jobs after the given
// visibility timeout.
func NewMemoryQueue(redelivery time.Duration) *MemoryQueue {
	if redelivery <= 0 {
		redelivery = time.Minute
	}
	q := &MemoryQueue{
		redelivery: redelivery,
		items:      make(chan Delivery, defaultMemoryBuffer),
		inflight:   make(map[string]*memoryDelivery),
		timers:     make(map[*time.Timer]struct{}),
		done:       make(chan struct{}),
	}
	go q.redeliverLoop()
	return q
}

type memoryDelivery struct {
	queue       *MemoryQueue
	id          string
	job         models.Job
	deliveredAt time.Time
}

func (d *memoryDelivery) Job() models.Job {
	return d.job
}

func (d *memoryDelivery) Ack(ctx context.Context) error {
	d.queue.mu.Lock()
	delete(d.queue.inflight, d.id)
	d.queue.mu.Unlock()
	return nil
}

func (d *memoryDelivery) Requeue(ctx context.Context, job models.Job, delay time.Duration) error {
	d.queue.mu.Lock()
	delete(d.queue.inflight, d.id)
	d.queue.mu.Unlock()
	return d.queue.EnqueueAfter(ctx, job, delay)
}

// Enqueue offers a job immediately.
func (q *MemoryQueue) Enqueue(ctx context.Context, job models.Job) error {
	return q.EnqueueAfter(ctx, job, 0)
}

// EnqueueAfter offers a job once delay elapses.
func (q *MemoryQueue) EnqueueAfter(ctx context.Context, job models.Job, delay time.Duration) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	if delay <= 0 {
		q.offerLocked(job)
		return nil
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, timer)
		if q.closed {
			return
		}
		q.offerLocked(job)
	})
	q.timers[timer] = struct{}{}
	return nil
}

func (q *MemoryQueue) offerLocked(job models.Job) {
	delivery := &memoryDelivery{queue: q, id: uuid.NewString(), job: job}
	select {
	case q.items <- delivery:
	default:
		// buffer full; drop on the floor would lose work, so block outside
		// the lock
		go func() {
			select {
			case q.items <- delivery:
			case <-q.done:
			}
		}()
	}
}

// Subscribe returns the shared delivery channel. Receiving marks a job in
// flight until Ack or Requeue.
func (q *MemoryQueue) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case delivery := <-q.items:
				d := delivery.(*memoryDelivery)
				q.mu.Lock()
				d.deliveredAt = time.Now()
				q.inflight[d.id] = d
				q.mu.Unlock()
				select {
				case out <- d:
				case <-ctx.Done():
					_ = d.Requeue(context.Background(), d.job, 0)
					return
				case <-q.done:
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *MemoryQueue) redeliverLoop() {
	interval := q.redelivery / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.done:
			return
		case <-ticker.C:
			q.redeliverExpired()
		}
	}
}

func (q *MemoryQueue) redeliverExpired() {
	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for id, delivery := range q.inflight {
		if now.Sub(delivery.deliveredAt) < q.redelivery {
			continue
		}
		delete(q.inflight, id)
		q.offerLocked(delivery.job)
	}
}

// Close stops redelivery and releases pending timers. In-flight jobs are
// dropped; durable behaviour across restarts belongs to the Redis queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	return nil
}
