package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"csmbot/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	subject string
	data    []byte
}

type fakeMessagePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

// Publish refuses cancelled contexts the way NATSClient does
func (f *fakeMessagePublisher) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.messages = append(f.messages, publishedMessage{subject: subject, data: data})
	return nil
}

func (f *fakeMessagePublisher) snapshot() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.messages...)
}

func TestNATSEventPublisher_Envelope(t *testing.T) {
	t.Parallel()

	fake := &fakeMessagePublisher{}
	publisher := NewNATSEventPublisher(fake, NewEventSubjectMapper(), nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	publisher.now = func() time.Time { return fixed }

	err := publisher.Publish(context.Background(), events.GuildOnboardedEvent{
		GuildID:  42,
		BotName:  "Watcher",
		ServerID: 19247858,
	})
	require.NoError(t, err)

	messages := fake.snapshot()
	require.Len(t, messages, 1)
	assert.Equal(t, "csmbot.events.guild_onboarded", messages[0].subject)

	var envelope EventEnvelope
	require.NoError(t, json.Unmarshal(messages[0].data, &envelope))
	_, err = uuid.Parse(envelope.EventID)
	assert.NoError(t, err)
	assert.Equal(t, "guild_onboarded", envelope.EventType)
	assert.Equal(t, "csmbot", envelope.SourceService)
	assert.True(t, fixed.Equal(envelope.Timestamp))
	assert.JSONEq(t, `{"guild_id": 42, "bot_name": "Watcher", "server_id": 19247858}`, string(envelope.Payload))
}

func TestNATSEventPublisher_PublishError(t *testing.T) {
	t.Parallel()

	fake := &fakeMessagePublisher{err: errors.New("connection closed")}
	publisher := NewNATSEventPublisher(fake, NewEventSubjectMapper(), nil)

	err := publisher.Publish(context.Background(), events.GuildAbandonedEvent{GuildID: 1})

	assert.ErrorContains(t, err, "failed to publish event to NATS")
	assert.NotPanics(t, func() {
		publisher.Forward(context.Background(), events.GuildAbandonedEvent{GuildID: 1})
	})
}

func TestNATSEventPublisher_AttachForwardsBusEvents(t *testing.T) {
	t.Parallel()

	fake := &fakeMessagePublisher{}
	bus := events.NewBus()
	NewNATSEventPublisher(fake, NewEventSubjectMapper(), nil).Attach(bus)

	bus.Emit(context.Background(), events.ReconciliationCompletedEvent{Tick: 3, Guilds: 2})

	require.Eventually(t, func() bool {
		return len(fake.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "csmbot.events.reconciliation_completed", fake.snapshot()[0].subject)
}

func TestNATSEventPublisher_ForwardsAfterPublisherCancels(t *testing.T) {
	t.Parallel()

	fake := &fakeMessagePublisher{}
	bus := events.NewBus()
	NewNATSEventPublisher(fake, NewEventSubjectMapper(), nil).Attach(bus)

	for guildID := int64(1); guildID <= 20; guildID++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		bus.Publish(ctx, events.GuildOnboardedEvent{GuildID: guildID, BotName: "Watcher", ServerID: 19247858})
		cancel()
	}

	require.Eventually(t, func() bool {
		return len(fake.snapshot()) == 20
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventSubjectMapper_RoundTrip(t *testing.T) {
	t.Parallel()

	mapper := NewEventSubjectMapper()
	subjects := mapper.GetAllSubjects()

	require.Len(t, subjects, len(events.AllEventTypes()))
	for i, eventType := range events.AllEventTypes() {
		assert.Equal(t, eventType, mapper.MapSubjectToEventType(subjects[i]))
	}
}
