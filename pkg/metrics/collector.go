package metrics

import (
	"context"
	"sync"
	"time"
)

// CoordinationSource exposes the deployment registers the collector gauges
type CoordinationSource interface {
	AllInProgress(ctx context.Context) (map[string]string, error)
	AllPaused(ctx context.Context) (map[string]string, error)
}

// QueueSource exposes the queue depths the collector gauges
type QueueSource interface {
	Length(ctx context.Context) (int64, error)
	ProcessingLength(ctx context.Context) (int64, error)
}

// Probe checks one component's health; nil means healthy
type Probe func(ctx context.Context) error

// Collector periodically gauges coordination state and runs health probes
type Collector struct {
	coordination CoordinationSource
	queue        QueueSource

	mu     sync.Mutex
	probes map[string]Probe

	stopCh chan struct{}
}

// NewCollector creates a collector over the coordination store and queue
func NewCollector(coordination CoordinationSource, queue QueueSource) *Collector {
	return &Collector{
		coordination: coordination,
		queue:        queue,
		probes:       make(map[string]Probe),
		stopCh:       make(chan struct{}),
	}
}

// AddProbe registers a named health probe run on every collection pass
func (c *Collector) AddProbe(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
	RegisterComponent(name, false, "not probed yet")
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectDeploymentMetrics(ctx)
	c.collectQueueMetrics(ctx)
	c.runProbes(ctx)
}

func (c *Collector) collectDeploymentMetrics(ctx context.Context) {
	if c.coordination == nil {
		return
	}

	if inProgress, err := c.coordination.AllInProgress(ctx); err == nil {
		DeploymentsInFlight.Set(float64(len(inProgress)))
	}
	if paused, err := c.coordination.AllPaused(ctx); err == nil {
		DeploymentsPaused.Set(float64(len(paused)))
	}
}

func (c *Collector) collectQueueMetrics(ctx context.Context) {
	if c.queue == nil {
		return
	}

	if depth, err := c.queue.Length(ctx); err == nil {
		QueueDepth.Set(float64(depth))
	}
	if processing, err := c.queue.ProcessingLength(ctx); err == nil {
		QueueProcessing.Set(float64(processing))
	}
}

func (c *Collector) runProbes(ctx context.Context) {
	c.mu.Lock()
	probes := make(map[string]Probe, len(c.probes))
	for name, probe := range c.probes {
		probes[name] = probe
	}
	c.mu.Unlock()

	for name, probe := range probes {
		if err := probe(ctx); err != nil {
			UpdateComponent(name, false, err.Error())
			continue
		}
		UpdateComponent(name, true, "ok")
	}
}
