package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/madcadaver/dbot/internal/models"

	"github.com/go-redis/redis/v8"
)

// SessionModeQueue and SessionModeReject are the two ways concurrent
// messages on one thread are handled.
const (
	SessionModeQueue  = "queue"
	SessionModeReject = "reject"
)

// Coordinator serializes turns so at most one decision loop runs per thread.
// Different threads proceed concurrently.
type Coordinator struct {
	loop  *Loop
	mode  string
	mu    sync.Mutex
	locks map[string]*threadLock
	redis *redis.Client
}

// threadLock is the in-process lease: a mutex plus a waiter count that feeds
// the queue-depth note in the prompt.
type threadLock struct {
	mu      sync.Mutex
	waiters int
	holders int
}

// NewCoordinator creates a coordinator. redisClient is optional; when set,
// turns additionally take a cross-process lease in Redis.
func NewCoordinator(loop *Loop, mode string, redisClient *redis.Client) *Coordinator {
	if mode != SessionModeReject {
		mode = SessionModeQueue
	}
	return &Coordinator{
		loop:  loop,
		mode:  mode,
		locks: make(map[string]*threadLock),
		redis: redisClient,
	}
}

// Handle runs one inbound message under the thread lease. In queue mode
// later messages wait their turn; in reject mode they fail fast with
// ErrThreadBusy.
func (c *Coordinator) Handle(ctx context.Context, inbound *models.InboundMessage) (*models.TurnResult, error) {
	lock := c.lockFor(inbound.ChannelID)

	c.mu.Lock()
	busy := lock.holders > 0
	if busy && c.mode == SessionModeReject {
		c.mu.Unlock()
		return nil, models.ErrThreadBusy
	}
	lock.waiters++
	c.mu.Unlock()

	lock.mu.Lock()
	c.mu.Lock()
	lock.waiters--
	lock.holders++
	queueDepth := lock.waiters
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		lock.holders--
		c.mu.Unlock()
		lock.mu.Unlock()
	}()

	release, err := c.acquireRedisLease(ctx, inbound.ChannelID)
	if err != nil {
		return nil, err
	}
	defer release()

	return c.loop.RunTurn(ctx, inbound, queueDepth)
}

func (c *Coordinator) lockFor(threadID string) *threadLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[threadID]
	if !ok {
		lock = &threadLock{}
		c.locks[threadID] = lock
	}
	return lock
}

// acquireRedisLease takes the cross-process lease when Redis is configured.
// SET NX PX with a generous TTL; a crashed holder frees itself by expiry.
func (c *Coordinator) acquireRedisLease(ctx context.Context, threadID string) (func(), error) {
	if c.redis == nil {
		return func() {}, nil
	}
	key := "turn_lease:" + threadID
	deadline := time.Now().Add(2 * time.Minute)
	for {
		ok, err := c.redis.SetNX(ctx, key, "1", 5*time.Minute).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to acquire thread lease: %w", err)
		}
		if ok {
			return func() {
				c.redis.Del(context.Background(), key)
			}, nil
		}
		if c.mode == SessionModeReject || time.Now().After(deadline) {
			return nil, models.ErrThreadBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
