package metrics

import (
	"context"
	"errors"
	"testing"
)

type fakeCoordination struct {
	inProgress map[string]string
	paused     map[string]string
}

func (f *fakeCoordination) AllInProgress(ctx context.Context) (map[string]string, error) {
	return f.inProgress, nil
}

func (f *fakeCoordination) AllPaused(ctx context.Context) (map[string]string, error) {
	return f.paused, nil
}

type fakeQueue struct {
	depth      int64
	processing int64
}

func (f *fakeQueue) Length(ctx context.Context) (int64, error)           { return f.depth, nil }
func (f *fakeQueue) ProcessingLength(ctx context.Context) (int64, error) { return f.processing, nil }

func TestCollectorRunsProbes(t *testing.T) {
	resetHealthChecker()

	c := NewCollector(&fakeCoordination{}, &fakeQueue{})
	c.AddProbe("coordination", func(ctx context.Context) error { return nil })
	c.AddProbe("store", func(ctx context.Context) error { return errors.New("database closed") })

	c.collect()

	health := GetHealth()
	if health.Components["coordination"] != "healthy" {
		t.Errorf("coordination probe should be healthy, got %s", health.Components["coordination"])
	}
	if health.Components["store"] != "unhealthy: database closed" {
		t.Errorf("store probe should carry the failure, got %s", health.Components["store"])
	}
}

func TestCollectorGaugesWithoutSources(t *testing.T) {
	// A collector without sources still runs; nothing to gauge
	c := NewCollector(nil, nil)
	c.collect()
}
