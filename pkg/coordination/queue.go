package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gantryhq/gantry/pkg/log"
)

// Message kinds understood by the orchestrator
const (
	KindDeploy = "deploy"
	KindResume = "resume"
)

// Message is one unit of queued work
type Message struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	DeploymentID string `json:"deployment_id"`
}

// Handler processes a dequeued message. A nil return acknowledges the
// message; an error leaves it on the processing list for redelivery once its
// lock lapses.
type Handler func(ctx context.Context, msg Message) error

// QueueOptions tune the queue's workers and timing
type QueueOptions struct {
	// Workers is the number of concurrent consumers
	Workers int

	// LockDuration is the per-message lease; a consumer heartbeats the lease
	// at a third of this interval while it works
	LockDuration time.Duration

	// EmptyBackoff is how long an idle worker sleeps before polling again
	EmptyBackoff time.Duration

	// Throttle is a pause after each processed message so a busy queue
	// cannot monopolize Redis
	Throttle time.Duration

	// ReapInterval is how often the reaper scans for abandoned messages
	ReapInterval time.Duration
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.LockDuration <= 0 {
		o.LockDuration = 60 * time.Second
	}
	if o.EmptyBackoff <= 0 {
		o.EmptyBackoff = 200 * time.Millisecond
	}
	if o.Throttle < 0 {
		o.Throttle = 0
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = 30 * time.Second
	}
	return o
}

// Queue is a FIFO work queue on Redis lists. Enqueue pushes to the head;
// consumers atomically move the tail onto a processing list, lock the message
// for the lease duration and heartbeat the lock while working. Messages whose
// lock has lapsed are returned to the queue by the reaper, so a consumer
// crash delays a message rather than losing it.
type Queue struct {
	rdb    *redis.Client
	prefix string
	opts   QueueOptions
	logger zerolog.Logger

	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewQueue creates a queue on an existing client
func NewQueue(rdb *redis.Client, prefix string, opts QueueOptions) *Queue {
	if prefix == "" {
		prefix = "gantry"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		rdb:    rdb,
		prefix: prefix,
		opts:   opts.withDefaults(),
		logger: log.WithComponent("queue"),
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
	}
}

func (q *Queue) queueKey() string      { return q.prefix + ":queue:deployments" }
func (q *Queue) processingKey() string { return q.prefix + ":queue:deployments:processing" }
func (q *Queue) msgLockKey(id string) string {
	return q.prefix + ":queue:deployments:lock:" + id
}

// Enqueue adds a message and returns its ID
func (q *Queue) Enqueue(ctx context.Context, kind, deploymentID string) (string, error) {
	msg := Message{
		ID:           uuid.New().String(),
		Kind:         kind,
		DeploymentID: deploymentID,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	if err := q.rdb.LPush(ctx, q.queueKey(), payload).Err(); err != nil {
		return "", err
	}
	q.logger.Debug().Str("message_id", msg.ID).Str("kind", kind).
		Str("deployment", deploymentID).Msg("Message enqueued")
	return msg.ID, nil
}

// Length returns the number of messages waiting
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.queueKey()).Result()
}

// ProcessingLength returns the number of messages being worked on
func (q *Queue) ProcessingLength(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.processingKey()).Result()
}

// Start launches the worker pool and the reaper
func (q *Queue) Start(handler Handler) {
	q.handler = handler
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.work(i)
	}
	q.wg.Add(1)
	go q.reap()
	q.logger.Info().Int("workers", q.opts.Workers).Msg("Queue started")
}

// Stop halts the workers and waits for in-flight messages to finish
func (q *Queue) Stop() {
	close(q.stopCh)
	q.cancel()
	q.wg.Wait()
	q.logger.Info().Msg("Queue stopped")
}

func (q *Queue) work(id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		raw, err := q.rdb.LMove(q.ctx, q.queueKey(), q.processingKey(), "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			q.sleep(q.opts.EmptyBackoff)
			continue
		}
		if err != nil {
			if q.ctx.Err() != nil {
				return
			}
			q.logger.Error().Err(err).Int("worker", id).Msg("Failed to dequeue message")
			q.sleep(q.opts.EmptyBackoff)
			continue
		}

		q.process(raw)
		if q.opts.Throttle > 0 {
			q.sleep(q.opts.Throttle)
		}
	}
}

// process locks a message, runs the handler under a heartbeat, and
// acknowledges on success. Failed messages keep their processing entry; the
// reaper returns them to the queue once the lock lapses.
func (q *Queue) process(raw string) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		q.logger.Error().Err(err).Msg("Discarding unparseable message")
		q.rdb.LRem(q.ctx, q.processingKey(), 1, raw)
		return
	}

	locked, err := q.rdb.SetNX(q.ctx, q.msgLockKey(msg.ID), "locked", q.opts.LockDuration).Result()
	if err != nil || !locked {
		// Another consumer holds it; leave the processing entry alone
		return
	}

	heartbeatDone := make(chan struct{})
	go q.heartbeat(msg.ID, heartbeatDone)

	handlerErr := q.handler(q.ctx, msg)
	close(heartbeatDone)

	if handlerErr != nil {
		q.logger.Error().Err(handlerErr).Str("message_id", msg.ID).
			Str("deployment", msg.DeploymentID).
			Msg("Message handling failed, leaving for redelivery")
		return
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(q.ctx, q.processingKey(), 1, raw)
	pipe.Del(q.ctx, q.msgLockKey(msg.ID))
	if _, err := pipe.Exec(q.ctx); err != nil && q.ctx.Err() == nil {
		q.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to acknowledge message")
	}
}

// heartbeat extends the message lock at a third of the lease so a live
// consumer never loses its claim
func (q *Queue) heartbeat(msgID string, done <-chan struct{}) {
	ticker := time.NewTicker(q.opts.LockDuration / 3)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			if err := q.rdb.PExpire(q.ctx, q.msgLockKey(msgID), q.opts.LockDuration).Err(); err != nil && q.ctx.Err() == nil {
				q.logger.Warn().Err(err).Str("message_id", msgID).Msg("Failed to extend message lock")
			}
		}
	}
}

// reap returns abandoned messages to the queue. A processing entry without a
// live lock belongs to a consumer that died; pushing it to the queue tail
// makes it the next message delivered.
func (q *Queue) reap() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.reapOnce()
		}
	}
}

func (q *Queue) reapOnce() {
	entries, err := q.rdb.LRange(q.ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		if q.ctx.Err() == nil {
			q.logger.Error().Err(err).Msg("Failed to scan processing list")
		}
		return
	}
	for _, raw := range entries {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			q.rdb.LRem(q.ctx, q.processingKey(), 1, raw)
			continue
		}
		held, err := q.rdb.Exists(q.ctx, q.msgLockKey(msg.ID)).Result()
		if err != nil || held > 0 {
			continue
		}
		pipe := q.rdb.TxPipeline()
		pipe.LRem(q.ctx, q.processingKey(), 1, raw)
		pipe.RPush(q.ctx, q.queueKey(), raw)
		if _, err := pipe.Exec(q.ctx); err == nil {
			q.logger.Warn().Str("message_id", msg.ID).
				Str("deployment", msg.DeploymentID).
				Msg("Requeued abandoned message")
		}
	}
}

func (q *Queue) sleep(d time.Duration) {
	select {
	case <-q.stopCh:
	case <-time.After(d):
	}
}
