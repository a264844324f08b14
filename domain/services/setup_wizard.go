package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"csmbot/domain/entities"
	"csmbot/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// WizardState is the position of a setup dialog in its state machine
type WizardState string

const (
	WizardAwaitingInfo         WizardState = "awaiting_info"
	WizardAwaitingConfirmation WizardState = "awaiting_confirmation"
	WizardDone                 WizardState = "done"
)

// Dialog replies
const (
	msgIntro             = "Now bot needs to collect data for its setup. Next messages would be instructions"
	msgServerSelected    = "You've selected server '%s'. Is that correct? Use `%s confirm_server_id` to confirm"
	msgServerIncorrect   = "Incorrect battlemetric server ID, please provide correct one with the same command"
	msgServerUnreachable = "Could not reach the server list right now, please try again"
	msgServerSet         = "Server is set"
	msgNoCandidate       = "There is no server ID waiting for confirmation, set one with `%s server_id \"123123\"` first"
	msgBotNameSet        = "Bot name is set to '%s'"
	msgBotNameMissing    = "Please provide a name: `%s bot_name \"name\"`"
	msgServerIDMissing   = "Please provide a server ID: `%s server_id \"123123\"`"
	msgAllSet            = "All is set!"
	msgStatus            = "Settings to be set: Bot name: '%s'; server_id: '%s'. Fill the corresponding fields"
	msgNotSet            = "<Not set>"
	msgSetupCompleted    = "Setup has been completed"
	msgAlreadyConfigured = "This server is already configured, the existing settings are kept"
	msgSaveFailed        = "Could not save the settings right now, use `%s setup_status` to retry"
)

// Instructions returns the fixed help sequence for the given command prefix
func Instructions(prefix string) []string {
	return []string{
		msgIntro,
		prefix + ` setup_status <- this is to show status of setup, what is to be done`,
		prefix + ` bot_name "name" <- this is to set the bot name command on server`,
		prefix + ` server_id "123123" <- this is to set the id of the game server on battlemetrics`,
		prefix + ` confirm_server_id <- this is to confirm the server id on battlemetrics`,
		prefix + ` help <- this is to show these tips`,
	}
}

// WizardConfig holds the dialog settings shared by every wizard
type WizardConfig struct {
	Prefix         string
	ExpectedGameID string
}

// StepResult is the outcome of one handled command
type StepResult struct {
	Done     bool
	Property *entities.GuildProperty // set once the configuration has been handed to the store
}

// SetupWizard drives one guild through the setup dialog
type SetupWizard struct {
	mu sync.Mutex

	guildID   int64
	channelID int64
	config    WizardConfig
	messenger interfaces.Messenger
	servers   interfaces.ServerQuerier
	store     interfaces.PropertyStore

	botNameDraft      *string
	serverIDConfirmed *int64
	serverIDCandidate *int64
	done              bool
}

// NewSetupWizard creates a wizard that talks to the guild through channelID
func NewSetupWizard(
	guildID, channelID int64,
	config WizardConfig,
	messenger interfaces.Messenger,
	servers interfaces.ServerQuerier,
	store interfaces.PropertyStore,
) *SetupWizard {
	return &SetupWizard{
		guildID:   guildID,
		channelID: channelID,
		config:    config,
		messenger: messenger,
		servers:   servers,
		store:     store,
	}
}

// GuildID returns the guild being onboarded
func (w *SetupWizard) GuildID() int64 {
	return w.guildID
}

// ChannelID returns the channel the dialog runs in
func (w *SetupWizard) ChannelID() int64 {
	return w.channelID
}

// State returns the current dialog state
func (w *SetupWizard) State() WizardState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

func (w *SetupWizard) stateLocked() WizardState {
	switch {
	case w.done:
		return WizardDone
	case w.serverIDCandidate != nil:
		return WizardAwaitingConfirmation
	default:
		return WizardAwaitingInfo
	}
}

// SendInstructions (re-)sends the fixed help sequence
func (w *SetupWizard) SendInstructions(ctx context.Context) error {
	for _, line := range Instructions(w.config.Prefix) {
		if err := w.messenger.SendMessage(ctx, w.channelID, line); err != nil {
			return fmt.Errorf("failed to send instructions to guild %d: %w", w.guildID, err)
		}
	}
	return nil
}

// Handle applies one command. Commands for a finished wizard are ignored.
func (w *SetupWizard) Handle(ctx context.Context, cmd Command) (StepResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return StepResult{Done: true}, nil
	}

	logger := log.WithFields(log.Fields{
		"guild_id": w.guildID,
		"command":  cmd.Name,
	})

	changed := false
	switch cmd.Kind {
	case CommandBotName:
		changed = w.setBotName(ctx, cmd.Arg)
	case CommandServerID:
		changed = w.proposeServerID(ctx, cmd.Arg)
	case CommandConfirmServerID:
		changed = w.confirmServerID(ctx)
	case CommandSetupStatus:
		if w.isCompleteLocked() {
			// Only reachable after a failed save; retry it
			w.reply(ctx, msgAllSet)
			return w.finishLocked(ctx)
		}
		w.reportStatus(ctx)
	case CommandHelp:
		if err := w.SendInstructions(ctx); err != nil {
			logger.WithError(err).Warn("Failed to resend setup instructions")
		}
	default:
		logger.Debug("Ignoring unrecognized setup command")
		return StepResult{}, nil
	}

	if changed && w.isCompleteLocked() {
		return w.finishLocked(ctx)
	}
	return StepResult{}, nil
}

func (w *SetupWizard) setBotName(ctx context.Context, name string) bool {
	if name == "" {
		w.reply(ctx, fmt.Sprintf(msgBotNameMissing, w.config.Prefix))
		return false
	}
	w.botNameDraft = &name
	w.reply(ctx, fmt.Sprintf(msgBotNameSet, name))
	return true
}

func (w *SetupWizard) proposeServerID(ctx context.Context, raw string) bool {
	if raw == "" {
		w.reply(ctx, fmt.Sprintf(msgServerIDMissing, w.config.Prefix))
		return false
	}

	serverID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || serverID <= 0 {
		w.reply(ctx, msgServerIncorrect)
		return false
	}

	info, err := w.servers.GetServer(ctx, serverID)
	if err != nil {
		logger := log.WithFields(log.Fields{
			"guild_id":  w.guildID,
			"server_id": serverID,
		}).WithError(err)
		if errors.Is(err, entities.ErrValidation) {
			logger.Info("Rejected server ID during setup")
			w.reply(ctx, msgServerIncorrect)
		} else {
			logger.Warn("Server lookup failed during setup")
			w.reply(ctx, msgServerUnreachable)
		}
		return false
	}

	if info.GameID != w.config.ExpectedGameID {
		log.WithFields(log.Fields{
			"guild_id":  w.guildID,
			"server_id": serverID,
			"game_id":   info.GameID,
		}).Info("Rejected server of another game during setup")
		w.reply(ctx, msgServerIncorrect)
		return false
	}

	w.serverIDCandidate = &serverID
	w.reply(ctx, fmt.Sprintf(msgServerSelected, info.Name, w.config.Prefix))
	return true
}

func (w *SetupWizard) confirmServerID(ctx context.Context) bool {
	if w.serverIDCandidate == nil {
		w.reply(ctx, fmt.Sprintf(msgNoCandidate, w.config.Prefix))
		return false
	}
	confirmed := *w.serverIDCandidate
	w.serverIDConfirmed = &confirmed
	w.serverIDCandidate = nil
	w.reply(ctx, msgServerSet)
	return true
}

func (w *SetupWizard) reportStatus(ctx context.Context) {
	botName := msgNotSet
	if w.botNameDraft != nil {
		botName = *w.botNameDraft
	}
	serverID := msgNotSet
	if w.serverIDConfirmed != nil {
		serverID = strconv.FormatInt(*w.serverIDConfirmed, 10)
	}
	w.reply(ctx, fmt.Sprintf(msgStatus, botName, serverID))
}

func (w *SetupWizard) isCompleteLocked() bool {
	return w.botNameDraft != nil && w.serverIDConfirmed != nil
}

// finishLocked hands the configuration to the store.
// A duplicate key still finishes the dialog: the guild already has settings.
func (w *SetupWizard) finishLocked(ctx context.Context) (StepResult, error) {
	property := entities.NewGuildProperty(w.guildID, *w.botNameDraft, *w.serverIDConfirmed)

	if err := w.store.Add(ctx, property); err != nil {
		if errors.Is(err, entities.ErrDuplicateKey) {
			w.done = true
			w.reply(ctx, msgAlreadyConfigured)
			return StepResult{Done: true}, fmt.Errorf("failed to store settings for guild %d: %w", w.guildID, err)
		}
		w.reply(ctx, fmt.Sprintf(msgSaveFailed, w.config.Prefix))
		return StepResult{}, fmt.Errorf("failed to store settings for guild %d: %w", w.guildID, err)
	}

	w.done = true
	w.reply(ctx, msgSetupCompleted)

	log.WithFields(log.Fields{
		"guild_id":  w.guildID,
		"bot_name":  property.BotName,
		"server_id": property.ServerID,
	}).Info("Guild setup completed")

	return StepResult{Done: true, Property: property}, nil
}

// reply is best effort: a lost dialog message never changes the state
func (w *SetupWizard) reply(ctx context.Context, content string) {
	if err := w.messenger.SendMessage(ctx, w.channelID, content); err != nil {
		log.WithFields(log.Fields{
			"guild_id":   w.guildID,
			"channel_id": w.channelID,
		}).WithError(err).Warn("Failed to send setup reply")
	}
}
