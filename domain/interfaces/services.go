package interfaces

import (
	"context"

	"csmbot/domain/entities"
	"csmbot/events"
)

// Messenger sends plain text messages to a channel
type Messenger interface {
	// SendMessage posts content to the channel; ErrForbidden is wrapped when the bot may not write there
	SendMessage(ctx context.Context, channelID int64, content string) error
}

// GuildPlatform defines the chat platform operations used by onboarding and reconciliation
type GuildPlatform interface {
	Messenger

	// GuildRoles lists the roles currently defined in the guild
	GuildRoles(ctx context.Context, guildID int64) ([]entities.RoleInfo, error)

	// GuildChannels lists the channels (including categories) currently defined in the guild
	GuildChannels(ctx context.Context, guildID int64) ([]entities.ChannelInfo, error)

	// CreateRole creates a role and returns its ID
	CreateRole(ctx context.Context, guildID int64, name string) (int64, error)

	// CreateCategory creates a channel category at the top of the guild and returns its ID
	CreateCategory(ctx context.Context, guildID int64, name string) (int64, error)

	// CreateVoiceChannel creates a voice channel inside the category and returns its ID
	CreateVoiceChannel(ctx context.Context, guildID, categoryID int64, name string) (int64, error)

	// RenameChannel changes the display name of a channel
	RenameChannel(ctx context.Context, channelID int64, name string) error

	// RestrictChannel denies connect/speak/stream/view to the default role and grants them to allowedRoleID
	RestrictChannel(ctx context.Context, guildID, channelID, allowedRoleID int64) error

	// LeaveGuild removes the bot from the guild
	LeaveGuild(ctx context.Context, guildID int64) error
}

// ServerQuerier looks up live game server data
type ServerQuerier interface {
	// GetServer returns the server snapshot. ErrValidation is wrapped when the remote
	// side reports the ID as invalid, ErrExternalService on transport failures.
	GetServer(ctx context.Context, serverID int64) (*entities.ServerInfo, error)
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event)
}
