package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a notification event pushed to subscribers.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// WorkshopID scopes the event to a workshop.
	WorkshopID string `json:"workshop_id,omitempty"`

	// EntityType is the kind of entity the event concerns (workshop, attendee).
	EntityType string `json:"entity_type,omitempty"`

	// EntityID is the entity the event concerns.
	EntityID string `json:"entity_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeStatusChanged  = "status.changed"
	EventTypeProgress       = "progress"
	EventTypeDeployStarted  = "deploy.started"
	EventTypeDeployFailed   = "deploy.failed"
	EventTypeDestroyStarted = "destroy.started"
	EventTypeDestroyFailed  = "destroy.failed"
	EventTypeSweepCompleted = "sweep.completed"
	EventTypeError          = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions. It is the
// process-local push-notification boundary: websocket bridges, CLI watchers
// and tests subscribe to it.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishStatus announces a status transition for a workshop or attendee.
// Delivery is fire-and-forget; a full buffer drops the event silently.
func (ep *EventPublisher) PublishStatus(scope, entityType, entityID, status string, detail map[string]string) {
	data := map[string]interface{}{"status": status}
	for k, v := range detail {
		data[k] = v
	}
	level := EventLevelInfo
	if status == "failed" {
		level = EventLevelError
	}
	_ = ep.Publish(Event{
		Type:       EventTypeStatusChanged,
		WorkshopID: scope,
		EntityType: entityType,
		EntityID:   entityID,
		Message:    fmt.Sprintf("%s %s is now %s", entityType, entityID, status),
		Level:      level,
		Data:       data,
	})
}

// PublishProgress announces progress within a long-running operation.
// Delivery is fire-and-forget.
func (ep *EventPublisher) PublishProgress(scope string, current, total int, label string) {
	_ = ep.Publish(Event{
		Type:       EventTypeProgress,
		WorkshopID: scope,
		EntityType: "workshop",
		EntityID:   scope,
		Message:    label,
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"current": current,
			"total":   total,
			"label":   label,
		},
	})
}

// PublishSweepCompleted publishes a reconciliation sweep summary.
func (ep *EventPublisher) PublishSweepCompleted(sweep string, touched int, duration time.Duration) {
	_ = ep.Publish(Event{
		Type:    EventTypeSweepCompleted,
		Message: fmt.Sprintf("Sweep %s touched %d entities", sweep, touched),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"sweep":    sweep,
			"touched":  touched,
			"duration": duration.Seconds(),
		},
	})
}

// Subscribe registers a subscriber for all events.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber) {
	ep.SubscribeWithFilter(subscriber, nil)
}

// SubscribeWithFilter registers a subscriber with an event filter.
func (ep *EventPublisher) SubscribeWithFilter(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// SubscribeToWorkshop registers a subscriber receiving only one workshop's events.
func (ep *EventPublisher) SubscribeToWorkshop(workshopID string, subscriber EventSubscriber) {
	ep.SubscribeWithFilter(subscriber, func(event Event) bool {
		return event.WorkshopID == workshopID
	})
}

// AddFilter adds a global event filter applied before delivery.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// processEvents drains the buffer and delivers events to subscribers.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// Drain remaining events before exiting
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	subscribers := make([]subscriberEntry, len(ep.subscribers))
	copy(subscribers, ep.subscribers)
	ep.mu.RUnlock()

	for _, entry := range subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		// A panicking subscriber must not take down the publisher
		func() {
			defer func() {
				_ = recover()
			}()
			entry.subscriber(event)
		}()
	}
}

// Shutdown stops the event publisher, delivering any buffered events first.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled || ep.cancel == nil {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
