package events

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeGuildOnboarded          EventType = "guild_onboarded"
	EventTypeGuildAbandoned          EventType = "guild_abandoned"
	EventTypeGuildResourcesCreated   EventType = "guild_resources_created"
	EventTypeReconciliationCompleted EventType = "reconciliation_completed"
)

// AllEventTypes lists every event type emitted by the bot
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeGuildOnboarded,
		EventTypeGuildAbandoned,
		EventTypeGuildResourcesCreated,
		EventTypeReconciliationCompleted,
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// GuildOnboardedEvent is emitted once a setup dialog has been persisted
type GuildOnboardedEvent struct {
	GuildID  int64  `json:"guild_id"`
	BotName  string `json:"bot_name"`
	ServerID int64  `json:"server_id"`
}

func (e GuildOnboardedEvent) Type() EventType {
	return EventTypeGuildOnboarded
}

// GuildAbandonedEvent is emitted when the bot leaves a guild it could not talk in
type GuildAbandonedEvent struct {
	GuildID int64  `json:"guild_id"`
	Reason  string `json:"reason"`
}

func (e GuildAbandonedEvent) Type() EventType {
	return EventTypeGuildAbandoned
}

// GuildResourcesCreatedEvent is emitted after newly created resources have been persisted
type GuildResourcesCreatedEvent struct {
	GuildID           int64  `json:"guild_id"`
	RoleID            *int64 `json:"role_id,omitempty"`
	ChannelCategoryID *int64 `json:"channel_category_id,omitempty"`
	ChannelID         *int64 `json:"channel_id,omitempty"`
}

func (e GuildResourcesCreatedEvent) Type() EventType {
	return EventTypeGuildResourcesCreated
}

// ReconciliationCompletedEvent summarizes one reconciliation tick
type ReconciliationCompletedEvent struct {
	Tick      int64 `json:"tick"`
	Guilds    int   `json:"guilds"`
	Failed    int   `json:"failed"`
	Persisted int   `json:"persisted"`
	Rejected  int   `json:"rejected"`
}

func (e ReconciliationCompletedEvent) Type() EventType {
	return EventTypeReconciliationCompleted
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// SubscribeAll adds a handler for every known event type
func (b *Bus) SubscribeAll(handler Handler) {
	for _, eventType := range AllEventTypes() {
		b.Subscribe(eventType, handler)
	}
}

// Publish emits the event; it lets the bus stand in for an EventPublisher
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.Emit(ctx, event)
}

// Emit publishes an event to all registered handlers.
// Handlers get the caller's context values but not its cancellation.
func (b *Bus) Emit(ctx context.Context, event Event) {
	ctx = context.WithoutCancel(ctx)

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"handlerCount": len(handlers),
	}).Debug("Emitting event to handlers")

	// Handlers run asynchronously so a slow subscriber never stalls the caller
	for i, handler := range handlers {
		go func(h Handler, handlerIndex int) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType":    event.Type(),
						"handlerIndex": handlerIndex,
						"panic":        r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler, i)
	}
}

// TransactionalBus holds events until the store write they describe has completed.
// Flushes to the underlying event bus.
type TransactionalBus struct {
	real    *Bus
	pending []Event
}

func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

// Publish stashes the event until Flush
func (b *TransactionalBus) Publish(_ context.Context, e Event) {
	b.pending = append(b.pending, e)
}

// Pending returns the number of stashed events
func (b *TransactionalBus) Pending() int {
	return len(b.pending)
}

// Flush emits all stashed events; called after a successful store write
func (b *TransactionalBus) Flush(ctx context.Context) {
	log.WithField("pendingEventCount", len(b.pending)).Debug("Flushing pending events")

	for _, ev := range b.pending {
		b.real.Emit(ctx, ev)
	}
	b.pending = nil
}

// Retain keeps only the stashed events for which keep returns true
func (b *TransactionalBus) Retain(keep func(Event) bool) {
	kept := b.pending[:0]
	for _, ev := range b.pending {
		if keep(ev) {
			kept = append(kept, ev)
		}
	}
	b.pending = kept
}

// Discard drops stashed events; called when the store write failed
func (b *TransactionalBus) Discard() {
	b.pending = nil
}
