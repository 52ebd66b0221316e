package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"videoflix/internal/models"
)

// RedisConfig configures the Redis Streams queue implementation.
type RedisConfig struct {
	Addr         string
	Username     string
	Password     string
	Stream       string
	Group        string
	Logger       *slog.Logger
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BlockTimeout time.Duration
	Redelivery   time.Duration
	PoolSize     int
}

// NewRedisQueue initialises a queue backed by a Redis stream with a
// consumer group. Stalled entries left pending by a crashed consumer are
// reclaimed once they have been idle longer than the redelivery timeout.
func NewRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "videoflix:jobs"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "transcode-workers"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	q := &RedisQueue{
		client:       client,
		stream:       stream,
		group:        group,
		blockTimeout: cfg.BlockTimeout,
		redelivery:   cfg.Redelivery,
		logger:       cfg.Logger,
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.blockTimeout <= 0 {
		q.blockTimeout = 2 * time.Second
	}
	if q.redelivery <= 0 {
		q.redelivery = 2 * time.Minute
	}
	if err := q.ensureGroup(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

// RedisQueue implements Queue on a Redis stream plus consumer group.
type RedisQueue struct {
	client       *redis.Client
	stream       string
	group        string
	blockTimeout time.Duration
	redelivery   time.Duration
	logger       *slog.Logger

	groupMu    sync.Mutex
	groupReady atomic.Bool

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
	closed   atomic.Bool
}

// Enqueue appends the job to the stream.
func (q *RedisQueue) Enqueue(ctx context.Context, job models.Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := models.EncodeJob(job)
	if err != nil {
		return err
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	_, err = q.client.Do(ctx, "XADD", q.stream, "*", "job", string(payload)).Result()
	return err
}

// EnqueueAfter schedules the append on a local timer. The delay only covers
// retry backoff; a process crash during the window merely shortens the
// backoff because the lease still serialises the asset.
func (q *RedisQueue) EnqueueAfter(ctx context.Context, job models.Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}
	if q.closed.Load() {
		return fmt.Errorf("queue is closed")
	}
	q.timersMu.Lock()
	if q.timers == nil {
		q.timers = make(map[*time.Timer]struct{})
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.timersMu.Lock()
		delete(q.timers, timer)
		q.timersMu.Unlock()
		if q.closed.Load() {
			return
		}
		enqueueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.Enqueue(enqueueCtx, job); err != nil {
			q.logger.Error("delayed enqueue failed", "asset_id", job.AssetID, "error", err)
		}
	})
	q.timers[timer] = struct{}{}
	q.timersMu.Unlock()
	return nil
}

// Subscribe starts a consumer pumping deliveries into the returned channel.
func (q *RedisQueue) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	out := make(chan Delivery)
	consumer := randomConsumerID()
	go q.run(ctx, consumer, out)
	return out, nil
}

func (q *RedisQueue) run(ctx context.Context, consumer string, out chan<- Delivery) {
	defer close(out)
	lastClaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		entries, err := q.read(ctx, consumer)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			q.logger.Warn("queue read failed", "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		if len(entries) == 0 && time.Since(lastClaim) >= q.redelivery {
			lastClaim = time.Now()
			claimed, err := q.claimStalled(ctx, consumer)
			if err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Warn("queue claim failed", "error", err)
			}
			entries = append(entries, claimed...)
		}
		for _, entry := range entries {
			job, err := models.DecodeJob(entry.payload)
			if err != nil {
				q.logger.Error("queue decode failed", "id", entry.id, "error", err)
				q.ack(ctx, entry.id)
				continue
			}
			delivery := &redisDelivery{queue: q, entryID: entry.id, job: job}
			select {
			case out <- delivery:
			case <-ctx.Done():
				// leave the entry pending; idle reclaim will pick it up
				return
			}
		}
	}
}

type redisDelivery struct {
	queue   *RedisQueue
	entryID string
	job     models.Job
}

func (d *redisDelivery) Job() models.Job {
	return d.job
}

func (d *redisDelivery) Ack(ctx context.Context) error {
	return d.queue.ackErr(ctx, d.entryID)
}

func (d *redisDelivery) Requeue(ctx context.Context, job models.Job, delay time.Duration) error {
	if err := d.queue.ackErr(ctx, d.entryID); err != nil {
		return err
	}
	return d.queue.EnqueueAfter(ctx, job, delay)
}

func (q *RedisQueue) ack(ctx context.Context, id string) {
	if err := q.ackErr(ctx, id); err != nil {
		q.logger.Warn("queue ack failed", "id", id, "error", err)
	}
}

func (q *RedisQueue) ackErr(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_, err := q.client.Do(ctx, "XACK", q.stream, q.group, id).Result()
	return err
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	if q.groupReady.Load() {
		return nil
	}
	q.groupMu.Lock()
	defer q.groupMu.Unlock()
	if q.groupReady.Load() {
		return nil
	}
	_, err := q.client.Do(ctx, "XGROUP", "CREATE", q.stream, q.group, "$", "MKSTREAM").Result()
	if err != nil {
		if isBusyGroup(err) {
			q.groupReady.Store(true)
			return nil
		}
		return err
	}
	q.groupReady.Store(true)
	return nil
}

type redisEntry struct {
	id      string
	payload []byte
}

func (q *RedisQueue) read(ctx context.Context, consumer string) ([]redisEntry, error) {
	blockMs := int(math.Max(float64(q.blockTimeout.Milliseconds()), 1))
	reply, err := q.client.Do(
		ctx,
		"XREADGROUP",
		"GROUP", q.group, consumer,
		"COUNT", "16",
		"BLOCK", strconv.Itoa(blockMs),
		"STREAMS", q.stream, ">",
	).Result()
	if err != nil {
		if isNilReply(err) {
			return nil, nil
		}
		return nil, err
	}
	streams, ok := reply.([]interface{})
	if !ok || len(streams) == 0 {
		return nil, nil
	}
	var entries []redisEntry
	for _, stream := range streams {
		parts, ok := stream.([]interface{})
		if !ok || len(parts) != 2 {
			continue
		}
		records, _ := parts[1].([]interface{})
		entries = append(entries, decodeRecords(records)...)
	}
	return entries, nil
}

// claimStalled transfers ownership of entries another consumer left pending
// longer than the redelivery timeout.
func (q *RedisQueue) claimStalled(ctx context.Context, consumer string) ([]redisEntry, error) {
	reply, err := q.client.Do(
		ctx,
		"XAUTOCLAIM",
		q.stream, q.group, consumer,
		strconv.FormatInt(q.redelivery.Milliseconds(), 10),
		"0-0",
		"COUNT", "16",
	).Result()
	if err != nil {
		if isNilReply(err) || isUnknownCommand(err) {
			return nil, nil
		}
		return nil, err
	}
	parts, ok := reply.([]interface{})
	if !ok || len(parts) < 2 {
		return nil, nil
	}
	records, _ := parts[1].([]interface{})
	return decodeRecords(records), nil
}

func decodeRecords(records []interface{}) []redisEntry {
	var entries []redisEntry
	for _, record := range records {
		tuple, ok := record.([]interface{})
		if !ok || len(tuple) != 2 {
			continue
		}
		id, _ := asString(tuple[0])
		fields, _ := tuple[1].([]interface{})
		payload := extractJobPayload(fields)
		if id == "" || len(payload) == 0 {
			continue
		}
		entries = append(entries, redisEntry{id: id, payload: payload})
	}
	return entries
}

func extractJobPayload(fields []interface{}) []byte {
	for i := 0; i+1 < len(fields); i += 2 {
		key, _ := asString(fields[i])
		if strings.EqualFold(key, "job") {
			value, _ := asString(fields[i+1])
			if value != "" {
				return []byte(value)
			}
		}
	}
	return nil
}

func asString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func isNilReply(err error) bool {
	return errors.Is(err, redis.Nil)
}

func isUnknownCommand(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unknown command")
}

func randomConsumerID() string {
	var buffer [8]byte
	if _, err := rand.Read(buffer[:]); err != nil {
		return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	return "consumer-" + hex.EncodeToString(buffer[:])
}

// Close stops delayed enqueues and releases the client.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	q.timersMu.Lock()
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = nil
	q.timersMu.Unlock()
	return q.client.Close()
}
