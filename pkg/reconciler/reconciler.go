package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gantryhq/gantry/pkg/coordination"
	"github.com/gantryhq/gantry/pkg/log"
	"github.com/gantryhq/gantry/pkg/metrics"
	"github.com/gantryhq/gantry/pkg/storage"
)

// DefaultInterval between reconciliation cycles
const DefaultInterval = time.Minute

// strikeThreshold is how many consecutive cycles a record must look stale
// before it is cleared. The registers and the store are read one after the
// other with no shared snapshot, so a single cycle can catch a key between
// writes; repair needs the same stale observation twice.
const strikeThreshold = 2

// Reconciler clears coordination records that no longer describe reality.
// The registers and the deployment store are written separately, so a crash
// between the two writes can leave a finished deployment holding its
// environment key forever, or a pause flag waiting for a deployment that is
// gone. Each cycle compares every register entry against the stored
// documents and removes what nothing will ever consume.
type Reconciler struct {
	store storage.Store
	coord *coordination.Coordinator
	opts  Options

	// strikes counts consecutive stale sightings per record, keyed
	// register:environment-key
	strikes map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// Options configures the reconciliation loop.
type Options struct {
	Interval time.Duration
}

// New creates a reconciler over the deployment store and the coordination
// registers.
func New(store storage.Store, coord *coordination.Coordinator, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		store:   store,
		coord:   coord,
		opts:    opts,
		strikes: make(map[string]int),
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.WithComponent("reconciler"),
	}
}

// Start begins periodic reconciliation.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Info().Dur("interval", r.opts.Interval).Msg("Reconciler started")
}

// Stop halts the loop and waits for a cycle in flight.
func (r *Reconciler) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info().Msg("Reconciler stopped")
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Reconcile(r.ctx); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation cycle failed")
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// Reconcile runs one cycle. Not safe to call concurrently with a started
// reconciler; tests and the loop are its only callers.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	metrics.ReconcileCycles.Inc()

	inProgress, err := r.coord.AllInProgress(ctx)
	if err != nil {
		return err
	}
	paused, err := r.coord.AllPaused(ctx)
	if err != nil {
		return err
	}
	awaitingPause, err := r.coord.AllAwaitingPause(ctx)
	if err != nil {
		return err
	}
	awaitingCancel, err := r.coord.AllAwaitingCancel(ctx)
	if err != nil {
		return err
	}

	// live keys still carry an unfinished deployment; their request flags
	// will be observed at a task boundary
	live := make(map[string]bool)

	for key, id := range inProgress {
		if r.recordCurrent("in-progress", key, id) {
			live[key] = true
			continue
		}
		// EndDeployment also drops the key's request flags
		if err := r.coord.EndDeployment(ctx, key); err != nil {
			r.logger.Error().Err(err).Str("key", key).Msg("Failed to clear stale in-progress record")
			continue
		}
		r.repaired("in-progress", key, id)
	}

	for key, id := range paused {
		if r.recordCurrent("paused", key, id) {
			live[key] = true
			continue
		}
		if err := r.coord.ClearPaused(ctx, key); err != nil {
			r.logger.Error().Err(err).Str("key", key).Msg("Failed to clear stale paused record")
			continue
		}
		r.withdrawRequests(ctx, key)
		r.repaired("paused", key, id)
	}

	// request flags without a deployment on the key would ambush the next
	// deployment at its first task boundary
	for _, key := range awaitingPause {
		if live[key] || !r.strike("pause-request:"+key) {
			continue
		}
		if err := r.coord.WithdrawPauseRequest(ctx, key); err != nil {
			r.logger.Error().Err(err).Str("key", key).Msg("Failed to withdraw stale pause request")
			continue
		}
		r.repaired("pause-request", key, "")
	}
	for _, key := range awaitingCancel {
		if live[key] || !r.strike("cancel-request:"+key) {
			continue
		}
		if err := r.coord.WithdrawCancelRequest(ctx, key); err != nil {
			r.logger.Error().Err(err).Str("key", key).Msg("Failed to withdraw stale cancel request")
			continue
		}
		r.repaired("cancel-request", key, "")
	}

	r.pruneStrikes(inProgress, paused, awaitingPause, awaitingCancel, live)
	return nil
}

// recordCurrent reports whether a register entry still describes an
// unfinished deployment. A finished document is authoritative; a missing
// document needs consecutive sightings before the entry counts as stale.
func (r *Reconciler) recordCurrent(register, key, id string) bool {
	d, err := r.store.GetDeployment(id)
	switch {
	case errors.Is(err, storage.ErrDeploymentNotFound):
		return !r.strike(register + ":" + key)
	case err != nil:
		r.logger.Error().Err(err).Str("deployment", id).Msg("Skipping record; store read failed")
		return true
	case d.End != nil:
		return false
	}
	delete(r.strikes, register+":"+key)
	return true
}

func (r *Reconciler) withdrawRequests(ctx context.Context, key string) {
	if err := r.coord.WithdrawPauseRequest(ctx, key); err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("Failed to withdraw pause request")
	}
	if err := r.coord.WithdrawCancelRequest(ctx, key); err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("Failed to withdraw cancel request")
	}
}

func (r *Reconciler) repaired(register, key, id string) {
	delete(r.strikes, register+":"+key)
	metrics.RegisterRepairs.WithLabelValues(register).Inc()
	event := r.logger.Warn().Str("register", register).Str("key", key)
	if id != "" {
		event = event.Str("deployment", id)
	}
	event.Msg("Cleared stale coordination record")
}

// strike records one stale sighting and reports whether the record has been
// stale long enough to clear.
func (r *Reconciler) strike(record string) bool {
	r.strikes[record]++
	return r.strikes[record] >= strikeThreshold
}

// pruneStrikes drops counts for records that were cleared, resolved on
// their own, or have a live deployment again.
func (r *Reconciler) pruneStrikes(inProgress, paused map[string]string, awaitingPause, awaitingCancel []string, live map[string]bool) {
	present := make(map[string]bool)
	for key := range inProgress {
		present["in-progress:"+key] = true
	}
	for key := range paused {
		present["paused:"+key] = true
	}
	for _, key := range awaitingPause {
		if !live[key] {
			present["pause-request:"+key] = true
		}
	}
	for _, key := range awaitingCancel {
		if !live[key] {
			present["cancel-request:"+key] = true
		}
	}
	for record := range r.strikes {
		if !present[record] {
			delete(r.strikes, record)
		}
	}
}
