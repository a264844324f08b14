package application

import (
	"context"
	"errors"
	"fmt"

	"csmbot/domain/entities"
	"csmbot/domain/interfaces"
	"csmbot/domain/services"
	"csmbot/events"
	"csmbot/infrastructure/observability"

	log "github.com/sirupsen/logrus"
)

const abandonReasonNoChannel = "no writable channel"

// OnboardingConfig holds the settings of the join and setup flow
type OnboardingConfig struct {
	Greeting string
	Prefix   string
	GameID   string
}

// Onboarding dispatches platform events to setup dialogs
type Onboarding struct {
	registry  *Registry
	platform  interfaces.GuildPlatform
	servers   interfaces.ServerQuerier
	store     interfaces.PropertyStore
	publisher interfaces.EventPublisher
	metrics   *observability.MetricsProvider
	config    OnboardingConfig
}

// NewOnboarding creates the dispatcher; metrics may be nil
func NewOnboarding(
	registry *Registry,
	platform interfaces.GuildPlatform,
	servers interfaces.ServerQuerier,
	store interfaces.PropertyStore,
	publisher interfaces.EventPublisher,
	metrics *observability.MetricsProvider,
	config OnboardingConfig,
) *Onboarding {
	return &Onboarding{
		registry:  registry,
		platform:  platform,
		servers:   servers,
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		config:    config,
	}
}

// OnReady records the guilds the bot already belongs to.
// Their replayed join events must not start a setup dialog.
func (o *Onboarding) OnReady(guildIDs []int64) {
	o.registry.SetStartupGuilds(guildIDs)
	log.WithField("guild_count", len(guildIDs)).Info("Connected to gateway")
}

// OnGuildLeft forgets a guild the bot was removed from, so a later invite starts setup afresh.
// Stored settings are kept.
func (o *Onboarding) OnGuildLeft(guildID int64) {
	o.registry.ForgetStartupGuild(guildID)

	if _, ok := o.registry.Wizard(guildID); ok {
		o.registry.RemoveWizard(guildID)
		log.WithField("guild_id", guildID).Info("Removed from guild during setup, dialog discarded")
		return
	}
	log.WithField("guild_id", guildID).Info("Removed from guild")
}

// OnGuildJoined starts the setup dialog for a newly joined guild.
// When no channel accepts the greeting the bot leaves the guild.
func (o *Onboarding) OnGuildJoined(ctx context.Context, join entities.GuildJoin) error {
	logger := log.WithField("guild_id", join.GuildID)

	if o.registry.IsStartupGuild(join.GuildID) || o.registry.HasProperty(join.GuildID) {
		logger.Debug("Ignoring join of known guild")
		return nil
	}

	if wizard, ok := o.registry.Wizard(join.GuildID); ok {
		logger.Info("Guild re-joined during setup, resending instructions")
		if err := wizard.SendInstructions(ctx); err != nil {
			return fmt.Errorf("failed to resend instructions: %w", err)
		}
		return nil
	}

	channelID, ok := o.probeChannels(ctx, join)
	if !ok {
		return o.abandon(ctx, join)
	}

	wizard := services.NewSetupWizard(join.GuildID, channelID, services.WizardConfig{
		Prefix:         o.config.Prefix,
		ExpectedGameID: o.config.GameID,
	}, o.platform, o.servers, o.store)
	wizard = o.registry.AddWizard(wizard)

	logger.WithFields(log.Fields{
		"guild_name": join.Name,
		"channel_id": wizard.ChannelID(),
	}).Info("Starting guild setup")

	if err := wizard.SendInstructions(ctx); err != nil {
		return fmt.Errorf("failed to send setup instructions: %w", err)
	}
	return nil
}

// probeChannels sends the greeting to the system channel, then to the text channels in order.
// The first channel that accepts it hosts the setup dialog.
func (o *Onboarding) probeChannels(ctx context.Context, join entities.GuildJoin) (int64, bool) {
	candidates := make([]int64, 0, len(join.TextChannelIDs)+1)
	seen := make(map[int64]bool)
	if join.SystemChannelID != 0 {
		candidates = append(candidates, join.SystemChannelID)
		seen[join.SystemChannelID] = true
	}
	for _, id := range join.TextChannelIDs {
		if !seen[id] {
			candidates = append(candidates, id)
			seen[id] = true
		}
	}

	for _, channelID := range candidates {
		err := o.platform.SendMessage(ctx, channelID, o.config.Greeting)
		if err == nil {
			return channelID, true
		}

		entry := log.WithFields(log.Fields{
			"guild_id":   join.GuildID,
			"channel_id": channelID,
		})
		if errors.Is(err, entities.ErrForbidden) {
			entry.Debug("Channel does not accept messages")
		} else {
			entry.WithError(err).Warn("Failed to probe channel")
		}
		if ctx.Err() != nil {
			break
		}
	}
	return 0, false
}

func (o *Onboarding) abandon(ctx context.Context, join entities.GuildJoin) error {
	logger := log.WithField("guild_id", join.GuildID)
	logger.Warn("No channel accepts messages, leaving guild")

	if err := o.platform.LeaveGuild(ctx, join.GuildID); err != nil {
		return fmt.Errorf("failed to leave guild %d: %w", join.GuildID, err)
	}

	o.metrics.RecordGuildAbandoned()
	o.publisher.Publish(ctx, events.GuildAbandonedEvent{
		GuildID: join.GuildID,
		Reason:  abandonReasonNoChannel,
	})
	return nil
}

// OnMessage routes a guild message to the guild's setup dialog, if any
func (o *Onboarding) OnMessage(ctx context.Context, msg entities.IncomingMessage) error {
	wizard, ok := o.registry.Wizard(msg.GuildID)
	if !ok {
		return nil
	}

	cmd, ok := services.ParseCommand(msg.Content, o.config.Prefix)
	if !ok {
		return nil
	}

	logger := log.WithFields(log.Fields{
		"guild_id":   msg.GuildID,
		"channel_id": msg.ChannelID,
		"command":    cmd.Name,
	})
	logger.Debug("Handling setup command")
	o.metrics.RecordSetupCommand(string(cmd.Kind))

	result, err := wizard.Handle(ctx, cmd)
	// Handle only fails when storing the finished configuration
	if err != nil || result.Property != nil {
		o.metrics.RecordStoreWrite("add", err)
	}

	if err != nil {
		if errors.Is(err, entities.ErrDuplicateKey) {
			logger.WithError(err).WithField("anomaly", true).Error("Guild was already configured when setup completed")
			o.registry.RemoveWizard(msg.GuildID)
			if reloadErr := o.adoptStoredProperty(ctx, msg.GuildID); reloadErr != nil {
				logger.WithError(reloadErr).Error("Failed to load stored settings")
			}
			return nil
		}
		return fmt.Errorf("failed to handle setup command: %w", err)
	}

	if !result.Done {
		return nil
	}

	o.registry.RemoveWizard(msg.GuildID)
	if result.Property == nil {
		return nil
	}

	o.registry.AddProperty(result.Property)
	o.metrics.RecordSetupCompleted()
	o.publisher.Publish(ctx, events.GuildOnboardedEvent{
		GuildID:  result.Property.GuildID,
		BotName:  result.Property.BotName,
		ServerID: result.Property.ServerID,
	})
	return nil
}

// adoptStoredProperty takes the stored record of a guild into the registry
func (o *Onboarding) adoptStoredProperty(ctx context.Context, guildID int64) error {
	properties, err := o.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load properties: %w", err)
	}
	for _, p := range properties {
		if p.GuildID == guildID {
			o.registry.AddProperty(p)
			return nil
		}
	}
	return fmt.Errorf("guild %d: %w", guildID, entities.ErrNotFound)
}
