package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func startedPool(t *testing.T, workers int) *Pool {
	t.Helper()
	p := NewPool(workers)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func TestPoolRunsScheduledJob(t *testing.T) {
	p := startedPool(t, 2)

	ran := make(chan struct{})
	p.Schedule(5*time.Millisecond, func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled job never ran")
	}
}

func TestPoolRunsEarliestJobFirst(t *testing.T) {
	// One worker serializes execution so completion order is schedule order
	p := startedPool(t, 1)

	order := make(chan string, 2)
	p.Schedule(60*time.Millisecond, func() { order <- "late" })
	p.Schedule(5*time.Millisecond, func() { order <- "early" })

	assert.Equal(t, "early", <-order)
	assert.Equal(t, "late", <-order)
}

func TestPoolStopDropsPending(t *testing.T) {
	p := NewPool(1)
	p.Start()

	p.Schedule(time.Hour, func() { t.Error("dropped job must not run") })

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return with a pending job")
	}
}
