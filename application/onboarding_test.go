package application

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"csmbot/domain/entities"
	"csmbot/domain/services"
	"csmbot/domain/testhelpers"
	"csmbot/events"
	"csmbot/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testGreeting = "Hello! I am the server monitor bot."
	testServerID = int64(19247858)
)

var errForbidden = fmt.Errorf("%w: %w", entities.ErrExternalService, entities.ErrForbidden)

type onboardingFixture struct {
	registry  *Registry
	platform  *testhelpers.MockGuildPlatform
	servers   *testhelpers.MockServerQuerier
	publisher *testhelpers.MockEventPublisher
	store     *repository.FilePropertyStore
	onboard   *Onboarding

	mu   sync.Mutex
	sent map[int64][]string
}

func newOnboardingFixture(t *testing.T) *onboardingFixture {
	t.Helper()

	store, err := repository.NewFilePropertyStore(filepath.Join(t.TempDir(), "properties.json"))
	require.NoError(t, err)

	f := &onboardingFixture{
		registry:  NewRegistry(),
		platform:  new(testhelpers.MockGuildPlatform),
		servers:   new(testhelpers.MockServerQuerier),
		publisher: new(testhelpers.MockEventPublisher),
		store:     store,
		sent:      make(map[int64][]string),
	}
	f.onboard = NewOnboarding(f.registry, f.platform, f.servers, f.store, f.publisher, nil, OnboardingConfig{
		Greeting: testGreeting,
		Prefix:   "/csm",
		GameID:   "conanexiles",
	})
	return f
}

// acceptMessages lets every channel receive messages and records them
func (f *onboardingFixture) acceptMessages(channelIDs ...int64) {
	for _, id := range channelIDs {
		f.platform.On("SendMessage", mock.Anything, id, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.sent[args.Get(1).(int64)] = append(f.sent[args.Get(1).(int64)], args.String(2))
		})
	}
}

func (f *onboardingFixture) messages(channelID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[channelID]...)
}

func (f *onboardingFixture) say(t *testing.T, guildID int64, content string) {
	t.Helper()
	require.NoError(t, f.onboard.OnMessage(context.Background(), entities.IncomingMessage{
		GuildID:   guildID,
		ChannelID: 4200,
		AuthorID:  1,
		Content:   content,
	}))
}

func TestOnboarding_GuildSetupScenario(t *testing.T) {
	ctx := context.Background()
	f := newOnboardingFixture(t)
	f.acceptMessages(4200)
	f.servers.On("GetServer", mock.Anything, testServerID).
		Return(&entities.ServerInfo{ID: testServerID, Name: "Exiled Lands PvE", GameID: "conanexiles", Players: 12, MaxPlayers: 40}, nil)
	f.publisher.On("Publish", mock.Anything, events.GuildOnboardedEvent{GuildID: 42, BotName: "Watcher", ServerID: testServerID}).Return()

	require.NoError(t, f.onboard.OnGuildJoined(ctx, entities.GuildJoin{GuildID: 42, Name: "Exiles", SystemChannelID: 4200}))

	sent := f.messages(4200)
	require.Len(t, sent, 1+len(services.Instructions("/csm")))
	assert.Equal(t, testGreeting, sent[0])
	assert.Equal(t, services.Instructions("/csm"), sent[1:])

	f.say(t, 42, `/csm bot_name "Watcher"`)
	f.say(t, 42, `/csm server_id "19247858"`)

	sent = f.messages(4200)
	assert.Contains(t, sent[len(sent)-1], "You've selected server 'Exiled Lands PvE'. Is that correct?")

	f.say(t, 42, `/csm confirm_server_id`)

	stored, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, entities.NewGuildProperty(42, "Watcher", testServerID), stored[0])
	assert.Nil(t, stored[0].ChannelID)
	assert.Nil(t, stored[0].ChannelCategoryID)
	assert.Nil(t, stored[0].RoleID)

	assert.True(t, f.registry.HasProperty(42))
	_, ok := f.registry.Wizard(42)
	assert.False(t, ok, "finished dialog is discarded")
	f.publisher.AssertExpectations(t)
}

func TestOnboarding_ProbeFallsBackToTextChannels(t *testing.T) {
	ctx := context.Background()
	f := newOnboardingFixture(t)
	f.platform.On("SendMessage", mock.Anything, int64(10), testGreeting).Return(errForbidden).Once()
	f.platform.On("SendMessage", mock.Anything, int64(11), testGreeting).Return(errors.New("gateway hiccup")).Once()
	f.acceptMessages(12)

	err := f.onboard.OnGuildJoined(ctx, entities.GuildJoin{
		GuildID:         42,
		SystemChannelID: 10,
		TextChannelIDs:  []int64{10, 11, 12, 13},
	})
	require.NoError(t, err)

	wizard, ok := f.registry.Wizard(42)
	require.True(t, ok)
	assert.Equal(t, int64(12), wizard.ChannelID())
	// The system channel is probed once even though it is also listed as a text channel
	f.platform.AssertNumberOfCalls(t, "SendMessage", 2+1+len(services.Instructions("/csm")))
	f.platform.AssertNotCalled(t, "SendMessage", mock.Anything, int64(13), mock.Anything)
}

func TestOnboarding_LeavesGuildWithoutWritableChannel(t *testing.T) {
	ctx := context.Background()
	f := newOnboardingFixture(t)
	f.platform.On("SendMessage", mock.Anything, mock.Anything, testGreeting).Return(errForbidden)
	f.platform.On("LeaveGuild", mock.Anything, int64(42)).Return(nil)
	f.publisher.On("Publish", mock.Anything, events.GuildAbandonedEvent{GuildID: 42, Reason: abandonReasonNoChannel}).Return()

	err := f.onboard.OnGuildJoined(ctx, entities.GuildJoin{GuildID: 42, SystemChannelID: 10, TextChannelIDs: []int64{11}})
	require.NoError(t, err)

	_, ok := f.registry.Wizard(42)
	assert.False(t, ok)
	f.platform.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func TestOnboarding_LeaveFailureIsReturned(t *testing.T) {
	f := newOnboardingFixture(t)
	f.platform.On("LeaveGuild", mock.Anything, int64(42)).Return(errors.New("boom"))

	err := f.onboard.OnGuildJoined(context.Background(), entities.GuildJoin{GuildID: 42})
	require.Error(t, err)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestOnboarding_KnownGuildsDoNotStartSetup(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *onboardingFixture)
	}{
		{
			name:  "present at startup",
			setup: func(f *onboardingFixture) { f.onboard.OnReady([]int64{42}) },
		},
		{
			name: "already configured",
			setup: func(f *onboardingFixture) {
				f.registry.Load([]*entities.GuildProperty{entities.NewGuildProperty(42, "Watcher", testServerID)})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOnboardingFixture(t)
			tt.setup(f)

			require.NoError(t, f.onboard.OnGuildJoined(context.Background(), entities.GuildJoin{GuildID: 42, SystemChannelID: 4200}))

			_, ok := f.registry.Wizard(42)
			assert.False(t, ok)
			f.platform.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestOnboarding_RejoinDuringSetupResendsInstructions(t *testing.T) {
	ctx := context.Background()
	f := newOnboardingFixture(t)
	f.acceptMessages(4200)

	join := entities.GuildJoin{GuildID: 42, SystemChannelID: 4200}
	require.NoError(t, f.onboard.OnGuildJoined(ctx, join))
	first, _ := f.registry.Wizard(42)

	require.NoError(t, f.onboard.OnGuildJoined(ctx, join))
	second, _ := f.registry.Wizard(42)

	assert.Same(t, first, second)
	instructions := len(services.Instructions("/csm"))
	assert.Len(t, f.messages(4200), 1+2*instructions, "greeting is not repeated")
}

func TestOnboarding_ReinviteAfterKickStartsSetup(t *testing.T) {
	ctx := context.Background()
	f := newOnboardingFixture(t)
	f.acceptMessages(4200)

	// Present at startup with no stored settings, for example after a restart lost its dialog
	f.onboard.OnReady([]int64{42})
	join := entities.GuildJoin{GuildID: 42, SystemChannelID: 4200}
	require.NoError(t, f.onboard.OnGuildJoined(ctx, join))
	_, ok := f.registry.Wizard(42)
	require.False(t, ok)

	f.onboard.OnGuildLeft(42)
	require.NoError(t, f.onboard.OnGuildJoined(ctx, join))

	_, ok = f.registry.Wizard(42)
	assert.True(t, ok)
	require.NotEmpty(t, f.messages(4200))
	assert.Equal(t, testGreeting, f.messages(4200)[0])
}

func TestOnboarding_KickDuringSetupDiscardsDialog(t *testing.T) {
	ctx := context.Background()
	f := newOnboardingFixture(t)
	f.acceptMessages(4200)

	join := entities.GuildJoin{GuildID: 42, SystemChannelID: 4200}
	require.NoError(t, f.onboard.OnGuildJoined(ctx, join))
	first, ok := f.registry.Wizard(42)
	require.True(t, ok)

	f.onboard.OnGuildLeft(42)
	_, ok = f.registry.Wizard(42)
	assert.False(t, ok)

	require.NoError(t, f.onboard.OnGuildJoined(ctx, join))
	second, ok := f.registry.Wizard(42)
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, countOf(f.messages(4200), testGreeting), "a fresh dialog greets again")
}

func TestOnboarding_KickKeepsStoredSettings(t *testing.T) {
	f := newOnboardingFixture(t)
	f.registry.Load([]*entities.GuildProperty{entities.NewGuildProperty(42, "Watcher", testServerID)})

	f.onboard.OnGuildLeft(42)

	assert.True(t, f.registry.HasProperty(42))
}

func countOf(values []string, want string) int {
	n := 0
	for _, v := range values {
		if v == want {
			n++
		}
	}
	return n
}

func TestOnboarding_MessagesOutsideSetupAreIgnored(t *testing.T) {
	f := newOnboardingFixture(t)
	f.acceptMessages(4200)
	require.NoError(t, f.onboard.OnGuildJoined(context.Background(), entities.GuildJoin{GuildID: 42, SystemChannelID: 4200}))
	before := len(f.messages(4200))

	// No dialog for this guild
	f.say(t, 7, `/csm help`)
	// Not addressed to the dialog
	f.say(t, 42, `hello there`)
	f.say(t, 42, `/csmhelp`)

	assert.Len(t, f.messages(4200), before)
}

func TestOnboarding_DuplicateOnCompletionAdoptsStoredSettings(t *testing.T) {
	ctx := context.Background()
	f := newOnboardingFixture(t)
	f.acceptMessages(4200)
	f.servers.On("GetServer", mock.Anything, testServerID).
		Return(&entities.ServerInfo{ID: testServerID, Name: "Exiled Lands PvE", GameID: "conanexiles"}, nil)

	require.NoError(t, f.onboard.OnGuildJoined(ctx, entities.GuildJoin{GuildID: 42, SystemChannelID: 4200}))

	// Another instance finished setup for the same guild in the meantime
	existing := entities.NewGuildProperty(42, "Original", 777)
	existing.SetRole(501)
	require.NoError(t, f.store.Add(ctx, existing))

	f.say(t, 42, `/csm bot_name "Watcher"`)
	f.say(t, 42, `/csm server_id "19247858"`)
	f.say(t, 42, `/csm confirm_server_id`)

	_, ok := f.registry.Wizard(42)
	assert.False(t, ok)

	adopted, ok := f.registry.Property(42)
	require.True(t, ok)
	assert.Equal(t, existing, adopted)

	stored, err := f.store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Original", stored[0].BotName)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestOnboarding_StoreFailureKeepsDialog(t *testing.T) {
	ctx := context.Background()
	store := new(testhelpers.MockPropertyStore)
	platform := new(testhelpers.MockGuildPlatform)
	servers := new(testhelpers.MockServerQuerier)
	publisher := new(testhelpers.MockEventPublisher)
	registry := NewRegistry()

	platform.On("SendMessage", mock.Anything, int64(4200), mock.Anything).Return(nil)
	servers.On("GetServer", mock.Anything, testServerID).
		Return(&entities.ServerInfo{ID: testServerID, Name: "Exiled Lands PvE", GameID: "conanexiles"}, nil)
	store.On("Add", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	onboard := NewOnboarding(registry, platform, servers, store, publisher, nil, OnboardingConfig{
		Greeting: testGreeting,
		Prefix:   "/csm",
		GameID:   "conanexiles",
	})
	require.NoError(t, onboard.OnGuildJoined(ctx, entities.GuildJoin{GuildID: 42, SystemChannelID: 4200}))

	msg := func(content string) entities.IncomingMessage {
		return entities.IncomingMessage{GuildID: 42, ChannelID: 4200, Content: content}
	}
	require.NoError(t, onboard.OnMessage(ctx, msg(`/csm bot_name "Watcher"`)))
	require.NoError(t, onboard.OnMessage(ctx, msg(`/csm server_id "19247858"`)))
	require.Error(t, onboard.OnMessage(ctx, msg(`/csm confirm_server_id`)))

	_, ok := registry.Wizard(42)
	assert.True(t, ok, "dialog survives a failed save")
	assert.False(t, registry.HasProperty(42))

	store.On("Add", mock.Anything, mock.Anything).Return(nil).Once()
	publisher.On("Publish", mock.Anything, mock.AnythingOfType("events.GuildOnboardedEvent")).Return()

	require.NoError(t, onboard.OnMessage(ctx, msg(`/csm setup_status`)))

	assert.True(t, registry.HasProperty(42))
	_, ok = registry.Wizard(42)
	assert.False(t, ok)
	publisher.AssertExpectations(t)
}
