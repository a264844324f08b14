package services

import (
	"context"
	"fmt"

	"csmbot/domain/entities"
	"csmbot/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// Names of the resources the bot owns in every guild
const (
	RoleName     = "CSM-Bot"
	CategoryName = "Bot channels"
)

// DisplayName is the channel name showing the live player count
func DisplayName(botName string, info *entities.ServerInfo) string {
	return fmt.Sprintf("%s: %s", botName, info.PlayerCount())
}

// ReconcileOutcome describes what one pass over a guild did.
// Property is a copy of the input carrying any newly created ids, also when the pass failed part way.
type ReconcileOutcome struct {
	Property        *entities.GuildProperty
	CreatedRole     bool
	CreatedCategory bool
	CreatedChannel  bool
	Renamed         bool
}

// Changed reports whether any resource was created, so the record must be persisted
func (o *ReconcileOutcome) Changed() bool {
	return o.CreatedRole || o.CreatedCategory || o.CreatedChannel
}

// Reconciler brings one guild's resources in line with its stored property
type Reconciler struct {
	platform interfaces.GuildPlatform
	servers  interfaces.ServerQuerier
}

// NewReconciler creates a new reconciler
func NewReconciler(platform interfaces.GuildPlatform, servers interfaces.ServerQuerier) *Reconciler {
	return &Reconciler{
		platform: platform,
		servers:  servers,
	}
}

// Reconcile ensures the role, category and display channel exist, restricts the channel
// to the role and refreshes the player count in the channel name.
// The input property is never modified.
func (r *Reconciler) Reconcile(ctx context.Context, property *entities.GuildProperty) (*ReconcileOutcome, error) {
	outcome := &ReconcileOutcome{Property: property.Clone()}
	gp := outcome.Property

	logger := log.WithFields(log.Fields{
		"guild_id":  gp.GuildID,
		"server_id": gp.ServerID,
	})

	if err := r.ensureRole(ctx, outcome); err != nil {
		return outcome, err
	}

	channels, err := r.platform.GuildChannels(ctx, gp.GuildID)
	if err != nil {
		return outcome, fmt.Errorf("failed to list channels of guild %d: %w", gp.GuildID, err)
	}
	byID := make(map[int64]entities.ChannelInfo, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}

	if err := r.ensureCategory(ctx, outcome, byID); err != nil {
		return outcome, err
	}

	currentName, err := r.ensureChannel(ctx, outcome, byID)
	if err != nil {
		return outcome, err
	}

	if err := r.platform.RestrictChannel(ctx, gp.GuildID, *gp.ChannelID, *gp.RoleID); err != nil {
		return outcome, fmt.Errorf("failed to restrict channel %d in guild %d: %w", *gp.ChannelID, gp.GuildID, err)
	}

	info, err := r.servers.GetServer(ctx, gp.ServerID)
	if err != nil {
		return outcome, fmt.Errorf("failed to query server %d for guild %d: %w", gp.ServerID, gp.GuildID, err)
	}

	name := DisplayName(gp.BotName, info)
	if name == currentName {
		logger.WithField("channel_id", *gp.ChannelID).Debug("Display name unchanged")
		return outcome, nil
	}

	if err := r.platform.RenameChannel(ctx, *gp.ChannelID, name); err != nil {
		return outcome, fmt.Errorf("failed to rename channel %d in guild %d: %w", *gp.ChannelID, gp.GuildID, err)
	}
	outcome.Renamed = true

	logger.WithFields(log.Fields{
		"channel_id": *gp.ChannelID,
		"name":       name,
	}).Debug("Display name refreshed")

	return outcome, nil
}

func (r *Reconciler) ensureRole(ctx context.Context, outcome *ReconcileOutcome) error {
	gp := outcome.Property

	if gp.HasRole() {
		roles, err := r.platform.GuildRoles(ctx, gp.GuildID)
		if err != nil {
			return fmt.Errorf("failed to list roles of guild %d: %w", gp.GuildID, err)
		}
		for _, role := range roles {
			if role.ID == *gp.RoleID {
				return nil
			}
		}
	}

	roleID, err := r.platform.CreateRole(ctx, gp.GuildID, RoleName)
	if err != nil {
		return fmt.Errorf("failed to create role in guild %d: %w", gp.GuildID, err)
	}
	gp.SetRole(roleID)
	outcome.CreatedRole = true

	log.WithFields(log.Fields{
		"guild_id": gp.GuildID,
		"role_id":  roleID,
	}).Info("Created access role")
	return nil
}

func (r *Reconciler) ensureCategory(ctx context.Context, outcome *ReconcileOutcome, channels map[int64]entities.ChannelInfo) error {
	gp := outcome.Property

	if gp.HasCategory() {
		if ch, ok := channels[*gp.ChannelCategoryID]; ok && ch.Kind == entities.ChannelKindCategory {
			return nil
		}
	}

	categoryID, err := r.platform.CreateCategory(ctx, gp.GuildID, CategoryName)
	if err != nil {
		return fmt.Errorf("failed to create category in guild %d: %w", gp.GuildID, err)
	}
	gp.SetCategory(categoryID)
	outcome.CreatedCategory = true

	log.WithFields(log.Fields{
		"guild_id":    gp.GuildID,
		"category_id": categoryID,
	}).Info("Created channel category")
	return nil
}

// ensureChannel returns the channel's current display name
func (r *Reconciler) ensureChannel(ctx context.Context, outcome *ReconcileOutcome, channels map[int64]entities.ChannelInfo) (string, error) {
	gp := outcome.Property

	// A fresh category never contains the old channel
	if gp.HasChannel() && !outcome.CreatedCategory {
		if ch, ok := channels[*gp.ChannelID]; ok && ch.Kind == entities.ChannelKindVoice {
			return ch.Name, nil
		}
	}

	channelID, err := r.platform.CreateVoiceChannel(ctx, gp.GuildID, *gp.ChannelCategoryID, gp.BotName)
	if err != nil {
		return "", fmt.Errorf("failed to create display channel in guild %d: %w", gp.GuildID, err)
	}
	gp.SetChannel(channelID)
	outcome.CreatedChannel = true

	log.WithFields(log.Fields{
		"guild_id":   gp.GuildID,
		"channel_id": channelID,
	}).Info("Created display channel")
	return gp.BotName, nil
}
