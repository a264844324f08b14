package testhelpers

import (
	"context"

	"csmbot/domain/entities"
	"csmbot/events"

	"github.com/stretchr/testify/mock"
)

// MockPropertyStore is a mock implementation of PropertyStore
type MockPropertyStore struct {
	mock.Mock
}

func (m *MockPropertyStore) LoadAll(ctx context.Context) ([]*entities.GuildProperty, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.GuildProperty), args.Error(1)
}

func (m *MockPropertyStore) Add(ctx context.Context, property *entities.GuildProperty) error {
	args := m.Called(ctx, property)
	return args.Error(0)
}

func (m *MockPropertyStore) UpdateOne(ctx context.Context, property *entities.GuildProperty) error {
	args := m.Called(ctx, property)
	return args.Error(0)
}

func (m *MockPropertyStore) UpdateMany(ctx context.Context, properties []*entities.GuildProperty) (*entities.UpdateReport, error) {
	args := m.Called(ctx, properties)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.UpdateReport), args.Error(1)
}

// MockMessenger is a mock implementation of Messenger
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) SendMessage(ctx context.Context, channelID int64, content string) error {
	args := m.Called(ctx, channelID, content)
	return args.Error(0)
}

// MockGuildPlatform is a mock implementation of GuildPlatform
type MockGuildPlatform struct {
	mock.Mock
}

func (m *MockGuildPlatform) SendMessage(ctx context.Context, channelID int64, content string) error {
	args := m.Called(ctx, channelID, content)
	return args.Error(0)
}

func (m *MockGuildPlatform) GuildRoles(ctx context.Context, guildID int64) ([]entities.RoleInfo, error) {
	args := m.Called(ctx, guildID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.RoleInfo), args.Error(1)
}

func (m *MockGuildPlatform) GuildChannels(ctx context.Context, guildID int64) ([]entities.ChannelInfo, error) {
	args := m.Called(ctx, guildID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.ChannelInfo), args.Error(1)
}

func (m *MockGuildPlatform) CreateRole(ctx context.Context, guildID int64, name string) (int64, error) {
	args := m.Called(ctx, guildID, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockGuildPlatform) CreateCategory(ctx context.Context, guildID int64, name string) (int64, error) {
	args := m.Called(ctx, guildID, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockGuildPlatform) CreateVoiceChannel(ctx context.Context, guildID, categoryID int64, name string) (int64, error) {
	args := m.Called(ctx, guildID, categoryID, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockGuildPlatform) RenameChannel(ctx context.Context, channelID int64, name string) error {
	args := m.Called(ctx, channelID, name)
	return args.Error(0)
}

func (m *MockGuildPlatform) RestrictChannel(ctx context.Context, guildID, channelID, allowedRoleID int64) error {
	args := m.Called(ctx, guildID, channelID, allowedRoleID)
	return args.Error(0)
}

func (m *MockGuildPlatform) LeaveGuild(ctx context.Context, guildID int64) error {
	args := m.Called(ctx, guildID)
	return args.Error(0)
}

// MockServerQuerier is a mock implementation of ServerQuerier
type MockServerQuerier struct {
	mock.Mock
}

func (m *MockServerQuerier) GetServer(ctx context.Context, serverID int64) (*entities.ServerInfo, error) {
	args := m.Called(ctx, serverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ServerInfo), args.Error(1)
}

// MockEventPublisher is a mock implementation of EventPublisher for testing
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event events.Event) {
	m.Called(ctx, event)
}
