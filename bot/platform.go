package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"csmbot/domain/entities"

	"github.com/bwmarrin/discordgo"
)

// Permissions restricted to the access role on the display channel
const displayChannelPermissions = discordgo.PermissionVoiceConnect |
	discordgo.PermissionVoiceSpeak |
	discordgo.PermissionVoiceStreamVideo |
	discordgo.PermissionViewChannel

// Platform implements GuildPlatform over a discordgo session
type Platform struct {
	session *discordgo.Session
}

// NewPlatform creates a platform adapter for the session
func NewPlatform(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

// SendMessage posts content to the channel
func (p *Platform) SendMessage(ctx context.Context, channelID int64, content string) error {
	if _, err := p.session.ChannelMessageSend(formatSnowflake(channelID), content, discordgo.WithContext(ctx)); err != nil {
		return classifyError(fmt.Sprintf("send message to channel %d", channelID), err)
	}
	return nil
}

// GuildRoles lists the roles of the guild
func (p *Platform) GuildRoles(ctx context.Context, guildID int64) ([]entities.RoleInfo, error) {
	roles, err := p.session.GuildRoles(formatSnowflake(guildID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyError(fmt.Sprintf("list roles of guild %d", guildID), err)
	}

	out := make([]entities.RoleInfo, 0, len(roles))
	for _, role := range roles {
		id, err := parseSnowflake(role.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, entities.RoleInfo{ID: id, Name: role.Name})
	}
	return out, nil
}

// GuildChannels lists the channels of the guild, categories included
func (p *Platform) GuildChannels(ctx context.Context, guildID int64) ([]entities.ChannelInfo, error) {
	channels, err := p.session.GuildChannels(formatSnowflake(guildID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyError(fmt.Sprintf("list channels of guild %d", guildID), err)
	}

	out := make([]entities.ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		info, err := toChannelInfo(ch)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// CreateRole creates a role with default permissions
func (p *Platform) CreateRole(ctx context.Context, guildID int64, name string) (int64, error) {
	role, err := p.session.GuildRoleCreate(formatSnowflake(guildID), &discordgo.RoleParams{Name: name}, discordgo.WithContext(ctx))
	if err != nil {
		return 0, classifyError(fmt.Sprintf("create role in guild %d", guildID), err)
	}
	return parseSnowflake(role.ID)
}

// CreateCategory creates a category at the top of the channel list
func (p *Platform) CreateCategory(ctx context.Context, guildID int64, name string) (int64, error) {
	ch, err := p.session.GuildChannelCreateComplex(formatSnowflake(guildID), discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildCategory,
		Position: 0,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return 0, classifyError(fmt.Sprintf("create category in guild %d", guildID), err)
	}
	return parseSnowflake(ch.ID)
}

// CreateVoiceChannel creates a voice channel at the top of the category
func (p *Platform) CreateVoiceChannel(ctx context.Context, guildID, categoryID int64, name string) (int64, error) {
	ch, err := p.session.GuildChannelCreateComplex(formatSnowflake(guildID), discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildVoice,
		Position: 0,
		ParentID: formatSnowflake(categoryID),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return 0, classifyError(fmt.Sprintf("create voice channel in guild %d", guildID), err)
	}
	return parseSnowflake(ch.ID)
}

// RenameChannel changes the channel name
func (p *Platform) RenameChannel(ctx context.Context, channelID int64, name string) error {
	if _, err := p.session.ChannelEdit(formatSnowflake(channelID), &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx)); err != nil {
		return classifyError(fmt.Sprintf("rename channel %d", channelID), err)
	}
	return nil
}

// RestrictChannel hides the channel from @everyone and opens it to allowedRoleID.
// The @everyone role shares the guild's ID.
func (p *Platform) RestrictChannel(ctx context.Context, guildID, channelID, allowedRoleID int64) error {
	channel := formatSnowflake(channelID)

	for _, overwrite := range restrictionOverwrites(guildID, allowedRoleID) {
		err := p.session.ChannelPermissionSet(channel, overwrite.ID, discordgo.PermissionOverwriteTypeRole,
			overwrite.Allow, overwrite.Deny, discordgo.WithContext(ctx))
		if err != nil {
			return classifyError(fmt.Sprintf("set permissions of role %s on channel %d", overwrite.ID, channelID), err)
		}
	}
	return nil
}

// LeaveGuild removes the bot from the guild
func (p *Platform) LeaveGuild(ctx context.Context, guildID int64) error {
	if err := p.session.GuildLeave(formatSnowflake(guildID), discordgo.WithContext(ctx)); err != nil {
		return classifyError(fmt.Sprintf("leave guild %d", guildID), err)
	}
	return nil
}

func restrictionOverwrites(guildID, allowedRoleID int64) []discordgo.PermissionOverwrite {
	return []discordgo.PermissionOverwrite{
		{ID: formatSnowflake(guildID), Type: discordgo.PermissionOverwriteTypeRole, Deny: displayChannelPermissions},
		{ID: formatSnowflake(allowedRoleID), Type: discordgo.PermissionOverwriteTypeRole, Allow: displayChannelPermissions},
	}
}

// classifyError maps discordgo failures onto the domain error taxonomy
func classifyError(action string, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
		return fmt.Errorf("failed to %s: %w: %w", action, entities.ErrExternalService, entities.ErrForbidden)
	}
	return fmt.Errorf("failed to %s: %w: %v", action, entities.ErrExternalService, err)
}

func toChannelInfo(ch *discordgo.Channel) (entities.ChannelInfo, error) {
	id, err := parseSnowflake(ch.ID)
	if err != nil {
		return entities.ChannelInfo{}, err
	}

	info := entities.ChannelInfo{
		ID:       id,
		Name:     ch.Name,
		Kind:     channelKind(ch.Type),
		Position: ch.Position,
	}
	if ch.ParentID != "" {
		if info.ParentID, err = parseSnowflake(ch.ParentID); err != nil {
			return entities.ChannelInfo{}, err
		}
	}
	return info, nil
}

func channelKind(t discordgo.ChannelType) entities.ChannelKind {
	switch t {
	case discordgo.ChannelTypeGuildText:
		return entities.ChannelKindText
	case discordgo.ChannelTypeGuildVoice:
		return entities.ChannelKindVoice
	case discordgo.ChannelTypeGuildCategory:
		return entities.ChannelKindCategory
	default:
		return entities.ChannelKindOther
	}
}

func formatSnowflake(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseSnowflake(id string) (int64, error) {
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse snowflake %q: %w", id, err)
	}
	return v, nil
}
