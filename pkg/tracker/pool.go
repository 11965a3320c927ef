package tracker

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gantryhq/gantry/pkg/log"
)

// job is one delayed unit of work
type job struct {
	runAt time.Time
	fn    func()
}

type jobHeap []*job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].runAt.Before(h[j].runAt) }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// Pool runs delayed jobs on a fixed set of workers. The tracker and the
// pipeline's health waits share one pool, so poll fan-out is bounded no
// matter how many deployments are in flight.
type Pool struct {
	workers int

	mu      sync.Mutex
	pending jobHeap

	wake   chan struct{}
	ready  chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewPool creates a pool with the given number of workers
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		workers: workers,
		wake:    make(chan struct{}, 1),
		ready:   make(chan func()),
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("scheduler"),
	}
}

// Start launches the dispatcher and the workers
func (p *Pool) Start() {
	p.wg.Add(1)
	go p.dispatch()
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	p.logger.Debug().Int("workers", p.workers).Msg("Scheduler pool started")
}

// Stop halts the pool and waits for running jobs to return. Jobs still
// pending are dropped; on restart the sweep revives anything that mattered.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Schedule queues fn to run once delay has elapsed
func (p *Pool) Schedule(delay time.Duration, fn func()) {
	p.mu.Lock()
	heap.Push(&p.pending, &job{runAt: time.Now().Add(delay), fn: fn})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// dispatch sleeps until the earliest job is due and hands it to a worker.
// A new earliest job wakes it early.
func (p *Pool) dispatch() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		var next *job
		if len(p.pending) > 0 {
			next = p.pending[0]
		}
		p.mu.Unlock()

		if next == nil {
			select {
			case <-p.wake:
				continue
			case <-p.stopCh:
				return
			}
		}

		if wait := time.Until(next.runAt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-p.wake:
				timer.Stop()
			case <-p.stopCh:
				timer.Stop()
				return
			}
			continue
		}

		p.mu.Lock()
		due := heap.Pop(&p.pending).(*job)
		p.mu.Unlock()

		select {
		case p.ready <- due.fn:
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case fn := <-p.ready:
			fn()
		case <-p.stopCh:
			return
		}
	}
}
