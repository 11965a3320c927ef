package coordination

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/gantryhq/gantry/pkg/types"
)

// Config holds Redis connection settings
type Config struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// Dial creates a Redis client from configuration
func Dial(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Coordinator is the shared mutable state of the deployment system: the
// global lock, the in-progress and paused registers, and the awaiting-pause
// and awaiting-cancel request sets. All state lives in Redis so every Gantry
// process observes the same registers.
//
// Register fields are environment keys ("app-env-region"); values are
// deployment IDs. The deployment documents themselves live in the deployment
// store; the coordinator only carries the advisory index.
type Coordinator struct {
	rdb    *redis.Client
	prefix string
}

// New creates a Coordinator on an existing client
func New(rdb *redis.Client, prefix string) *Coordinator {
	if prefix == "" {
		prefix = "gantry"
	}
	return &Coordinator{rdb: rdb, prefix: prefix}
}

func (c *Coordinator) key(parts ...string) string {
	return strings.Join(append([]string{c.prefix}, parts...), ":")
}

func (c *Coordinator) lockKey() string          { return c.key("lock") }
func (c *Coordinator) inProgressKey() string    { return c.key("deployments", "in-progress") }
func (c *Coordinator) pausedKey() string        { return c.key("deployments", "paused") }
func (c *Coordinator) awaitingPauseKey() string { return c.key("deployments", "awaiting-pause") }
func (c *Coordinator) awaitingCancelKey() string {
	return c.key("deployments", "awaiting-cancel")
}

// Healthy reports whether Redis answers a ping
func (c *Coordinator) Healthy(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}

// Close releases the underlying client
func (c *Coordinator) Close() error {
	return c.rdb.Close()
}

// Lock disables the intake of new deployments. Deployments already running
// are unaffected.
func (c *Coordinator) Lock(ctx context.Context) error {
	if err := c.rdb.Set(ctx, c.lockKey(), "locked", 0).Err(); err != nil {
		return types.WrapError(types.ErrStore, err, "failed to set deployment lock")
	}
	return nil
}

// Unlock re-enables the intake of new deployments
func (c *Coordinator) Unlock(ctx context.Context) error {
	if err := c.rdb.Del(ctx, c.lockKey()).Err(); err != nil {
		return types.WrapError(types.ErrStore, err, "failed to clear deployment lock")
	}
	return nil
}

// Locked reports whether deployments are disabled
func (c *Coordinator) Locked(ctx context.Context) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.lockKey()).Result()
	if err != nil {
		return false, types.WrapError(types.ErrStore, err, "failed to read deployment lock")
	}
	return n > 0, nil
}

// RegisterDeployment claims the in-progress register entry for the
// deployment's target. The claim is atomic: exactly one of two concurrent
// registrations for the same target wins. Returns false when the target is
// already taken.
func (c *Coordinator) RegisterDeployment(ctx context.Context, d *types.Deployment) (bool, error) {
	ok, err := c.rdb.HSetNX(ctx, c.inProgressKey(), d.Key(), d.ID).Result()
	if err != nil {
		return false, types.WrapError(types.ErrStore, err, "failed to register deployment %s", d.ID)
	}
	return ok, nil
}

// EndDeployment releases the target's in-progress entry and withdraws any
// outstanding pause or cancel request for it
func (c *Coordinator) EndDeployment(ctx context.Context, envKey string) error {
	pipe := c.rdb.TxPipeline()
	pipe.HDel(ctx, c.inProgressKey(), envKey)
	pipe.SRem(ctx, c.awaitingPauseKey(), envKey)
	pipe.SRem(ctx, c.awaitingCancelKey(), envKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.WrapError(types.ErrStore, err, "failed to end deployment for %s", envKey)
	}
	return nil
}

// InProgress returns the deployment ID registered for a target, or "" when
// the target is idle
func (c *Coordinator) InProgress(ctx context.Context, envKey string) (string, error) {
	id, err := c.rdb.HGet(ctx, c.inProgressKey(), envKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", types.WrapError(types.ErrStore, err, "failed to read in-progress register")
	}
	return id, nil
}

// AllInProgress returns every in-progress entry keyed by environment key
func (c *Coordinator) AllInProgress(ctx context.Context) (map[string]string, error) {
	entries, err := c.rdb.HGetAll(ctx, c.inProgressKey()).Result()
	if err != nil {
		return nil, types.WrapError(types.ErrStore, err, "failed to list in-progress register")
	}
	return entries, nil
}

// RegisterPaused records that a deployment stopped at a task boundary and is
// waiting to be resumed
func (c *Coordinator) RegisterPaused(ctx context.Context, d *types.Deployment) error {
	if err := c.rdb.HSet(ctx, c.pausedKey(), d.Key(), d.ID).Err(); err != nil {
		return types.WrapError(types.ErrStore, err, "failed to register paused deployment %s", d.ID)
	}
	return nil
}

// ClearPaused removes a target's paused entry, normally on resume
func (c *Coordinator) ClearPaused(ctx context.Context, envKey string) error {
	if err := c.rdb.HDel(ctx, c.pausedKey(), envKey).Err(); err != nil {
		return types.WrapError(types.ErrStore, err, "failed to clear paused entry for %s", envKey)
	}
	return nil
}

// Paused returns the deployment ID paused for a target, or ""
func (c *Coordinator) Paused(ctx context.Context, envKey string) (string, error) {
	id, err := c.rdb.HGet(ctx, c.pausedKey(), envKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", types.WrapError(types.ErrStore, err, "failed to read paused register")
	}
	return id, nil
}

// AllPaused returns every paused entry keyed by environment key
func (c *Coordinator) AllPaused(ctx context.Context) (map[string]string, error) {
	entries, err := c.rdb.HGetAll(ctx, c.pausedKey()).Result()
	if err != nil {
		return nil, types.WrapError(types.ErrStore, err, "failed to list paused register")
	}
	return entries, nil
}

// RequestPause asks the running deployment for a target to stop at its next
// task boundary. Returns true iff the request was not already outstanding.
func (c *Coordinator) RequestPause(ctx context.Context, envKey string) (bool, error) {
	added, err := c.rdb.SAdd(ctx, c.awaitingPauseKey(), envKey).Result()
	if err != nil {
		return false, types.WrapError(types.ErrStore, err, "failed to request pause for %s", envKey)
	}
	return added > 0, nil
}

// WithdrawPauseRequest removes an outstanding pause request
func (c *Coordinator) WithdrawPauseRequest(ctx context.Context, envKey string) error {
	if err := c.rdb.SRem(ctx, c.awaitingPauseKey(), envKey).Err(); err != nil {
		return types.WrapError(types.ErrStore, err, "failed to withdraw pause request for %s", envKey)
	}
	return nil
}

// PauseRequested reports whether a pause request is outstanding for a target
func (c *Coordinator) PauseRequested(ctx context.Context, envKey string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, c.awaitingPauseKey(), envKey).Result()
	if err != nil {
		return false, types.WrapError(types.ErrStore, err, "failed to read pause requests")
	}
	return ok, nil
}

// AllAwaitingPause returns the targets with outstanding pause requests
func (c *Coordinator) AllAwaitingPause(ctx context.Context) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, c.awaitingPauseKey()).Result()
	if err != nil {
		return nil, types.WrapError(types.ErrStore, err, "failed to list pause requests")
	}
	return members, nil
}

// RequestCancel asks the running deployment for a target to stop at its next
// task boundary, skipping whatever tasks remain. Returns true iff the request
// was not already outstanding.
func (c *Coordinator) RequestCancel(ctx context.Context, envKey string) (bool, error) {
	added, err := c.rdb.SAdd(ctx, c.awaitingCancelKey(), envKey).Result()
	if err != nil {
		return false, types.WrapError(types.ErrStore, err, "failed to request cancel for %s", envKey)
	}
	return added > 0, nil
}

// WithdrawCancelRequest removes an outstanding cancel request
func (c *Coordinator) WithdrawCancelRequest(ctx context.Context, envKey string) error {
	if err := c.rdb.SRem(ctx, c.awaitingCancelKey(), envKey).Err(); err != nil {
		return types.WrapError(types.ErrStore, err, "failed to withdraw cancel request for %s", envKey)
	}
	return nil
}

// CancelRequested reports whether a cancel request is outstanding for a target
func (c *Coordinator) CancelRequested(ctx context.Context, envKey string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, c.awaitingCancelKey(), envKey).Result()
	if err != nil {
		return false, types.WrapError(types.ErrStore, err, "failed to read cancel requests")
	}
	return ok, nil
}

// AllAwaitingCancel returns the targets with outstanding cancel requests
func (c *Coordinator) AllAwaitingCancel(ctx context.Context) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, c.awaitingCancelKey()).Result()
	if err != nil {
		return nil, types.WrapError(types.ErrStore, err, "failed to list cancel requests")
	}
	return members, nil
}
