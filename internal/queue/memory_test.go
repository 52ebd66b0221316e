package queue

import (
	"context"
	"testing"
	"time"

	"videoflix/internal/models"
)

func receiveDelivery(t *testing.T, deliveries <-chan Delivery, timeout time.Duration) Delivery {
	t.Helper()
	select {
	case delivery, ok := <-deliveries:
		if !ok {
			t.Fatal("delivery channel closed")
		}
		return delivery
	case <-time.After(timeout):
		t.Fatal("timed out waiting for delivery")
	}
	return nil
}

func TestMemoryQueueDeliverAndAck(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := q.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	job := models.Job{AssetID: "asset-1", SourcePath: "/src/a.mp4", Attempt: 1}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	delivery := receiveDelivery(t, deliveries, time.Second)
	if delivery.Job().AssetID != "asset-1" {
		t.Fatalf("unexpected job %+v", delivery.Job())
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}

	select {
	case extra := <-deliveries:
		t.Fatalf("acked job redelivered: %+v", extra.Job())
	case <-time.After(150 * time.Millisecond):
	}
}

func TestMemoryQueueRedeliversUnacked(t *testing.T) {
	q := NewMemoryQueue(50 * time.Millisecond)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := q.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := q.Enqueue(ctx, models.Job{AssetID: "asset-1", Attempt: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first := receiveDelivery(t, deliveries, time.Second)
	// never acked: the visibility timeout should re-offer it
	second := receiveDelivery(t, deliveries, 2*time.Second)
	if second.Job().AssetID != first.Job().AssetID {
		t.Fatalf("redelivered different job: %+v", second.Job())
	}
	if err := second.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestMemoryQueueEnqueueAfterDelaysVisibility(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := q.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	start := time.Now()
	if err := q.EnqueueAfter(ctx, models.Job{AssetID: "asset-1", Attempt: 2}, 120*time.Millisecond); err != nil {
		t.Fatalf("enqueue after: %v", err)
	}

	delivery := receiveDelivery(t, deliveries, 2*time.Second)
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("job visible too early: %v", elapsed)
	}
	if delivery.Job().Attempt != 2 {
		t.Fatalf("unexpected attempt %d", delivery.Job().Attempt)
	}
	_ = delivery.Ack(ctx)
}

func TestMemoryQueueRequeueReplacesJob(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := q.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := q.Enqueue(ctx, models.Job{AssetID: "asset-1", Attempt: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	delivery := receiveDelivery(t, deliveries, time.Second)
	retry := delivery.Job()
	retry.Attempt = 2
	if err := delivery.Requeue(ctx, retry, 0); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	next := receiveDelivery(t, deliveries, time.Second)
	if next.Job().Attempt != 2 {
		t.Fatalf("requeued attempt: got %d, want 2", next.Job().Attempt)
	}
	_ = next.Ack(ctx)
}

func TestMemoryQueueCloseRejectsEnqueue(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Enqueue(context.Background(), models.Job{AssetID: "asset-1"}); err == nil {
		t.Fatal("enqueue succeeded on closed queue")
	}
}
