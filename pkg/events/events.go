package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gantryhq/gantry/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventDeploymentQueued    EventType = "deployment.queued"
	EventDeploymentStarted   EventType = "deployment.started"
	EventDeploymentCompleted EventType = "deployment.completed"
	EventDeploymentFailed    EventType = "deployment.failed"
	EventDeploymentPaused    EventType = "deployment.paused"
	EventDeploymentResumed   EventType = "deployment.resumed"
	EventDeploymentCancelled EventType = "deployment.cancelled"
	EventDeploymentBroken    EventType = "deployment.broken"
	EventTaskStarted         EventType = "task.started"
	EventTaskCompleted       EventType = "task.completed"
	EventTaskSkipped         EventType = "task.skipped"
	EventTaskFailed          EventType = "task.failed"
)

// Event represents one observable step of a deployment
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	Application  string    `json:"application,omitempty"`
	Environment  string    `json:"environment,omitempty"`
	Region       string    `json:"region,omitempty"`
	Task         string    `json:"task,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// DeploymentEvent builds an event describing a whole deployment
func DeploymentEvent(t EventType, d *types.Deployment, message string) *Event {
	return &Event{
		Type:         t,
		DeploymentID: d.ID,
		Application:  d.Application,
		Environment:  d.Environment,
		Region:       d.Region,
		Message:      message,
	}
}

// TaskEvent builds an event describing one task of a deployment
func TaskEvent(t EventType, d *types.Deployment, task *types.Task, message string) *Event {
	e := DeploymentEvent(t, d, message)
	e.Task = string(task.Action)
	return e
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription. Safe to call twice.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. Publishing never blocks the
// pipeline: a stopped broker swallows the event, a slow subscriber misses it.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
