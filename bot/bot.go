package bot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"csmbot/domain/entities"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"
)

// eventTimeout bounds the handling of one gateway event
const eventTimeout = 30 * time.Second

// Config holds bot configuration
type Config struct {
	Token string
}

// Dispatcher receives the gateway events the bot reacts to
type Dispatcher interface {
	OnReady(guildIDs []int64)
	OnGuildJoined(ctx context.Context, join entities.GuildJoin) error
	OnGuildLeft(guildID int64)
	OnMessage(ctx context.Context, msg entities.IncomingMessage) error
}

// Bot owns the Discord session and forwards its events to the dispatcher
type Bot struct {
	config     Config
	session    *discordgo.Session
	platform   *Platform
	dispatcher Dispatcher
}

// New creates the session without connecting it
func New(config Config) (*Bot, error) {
	dg, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent
	// Events are handled in arrival order so setup commands of one guild never overtake each other
	dg.SyncEvents = true

	return &Bot{
		config:   config,
		session:  dg,
		platform: NewPlatform(dg),
	}, nil
}

// Platform returns the GuildPlatform backed by this session
func (b *Bot) Platform() *Platform {
	return b.platform
}

// Open registers the handlers and connects to the gateway
func (b *Bot) Open(dispatcher Dispatcher) error {
	b.dispatcher = dispatcher

	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(b.handleGuildCreate)
	b.session.AddHandler(b.handleGuildDelete)
	b.session.AddHandler(b.handleMessageCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}
	return nil
}

// Close gracefully shuts down the session
func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	guildIDs := make([]int64, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		id, err := parseSnowflake(g.ID)
		if err != nil {
			log.Errorf("Failed to parse guild ID %s: %v", g.ID, err)
			continue
		}
		guildIDs = append(guildIDs, id)
	}
	b.dispatcher.OnReady(guildIDs)
}

// handleGuildCreate handles when the bot joins a new guild.
// Discord also sends it for every guild after connecting; the dispatcher filters those.
func (b *Bot) handleGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil || g.Unavailable {
		return
	}

	join, err := guildJoin(g.Guild)
	if err != nil {
		log.Errorf("Failed to read guild %s: %v", g.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if err := b.dispatcher.OnGuildJoined(ctx, join); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"guild_id":   join.GuildID,
			"guild_name": join.Name,
		}).Error("Failed to handle guild join")
	}
}

// handleGuildDelete handles the bot being kicked from or leaving a guild.
// Outages arrive as unavailable guilds and are ignored.
func (b *Bot) handleGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Guild == nil || g.Unavailable {
		return
	}

	guildID, err := parseSnowflake(g.ID)
	if err != nil {
		log.Errorf("Failed to parse guild ID %s: %v", g.ID, err)
		return
	}
	b.dispatcher.OnGuildLeft(guildID)
}

func (b *Bot) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}

	// Skip if message is not from a guild
	if m.GuildID == "" {
		return
	}

	msg, err := incomingMessage(m.Message)
	if err != nil {
		log.Errorf("Failed to read message %s: %v", m.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if err := b.dispatcher.OnMessage(ctx, msg); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"guild_id":   msg.GuildID,
			"channel_id": msg.ChannelID,
		}).Error("Failed to handle guild message")
	}
}

// guildJoin lists the text channels in display order for the greeting probe
func guildJoin(g *discordgo.Guild) (entities.GuildJoin, error) {
	guildID, err := parseSnowflake(g.ID)
	if err != nil {
		return entities.GuildJoin{}, err
	}

	join := entities.GuildJoin{GuildID: guildID, Name: g.Name}
	if g.SystemChannelID != "" {
		if join.SystemChannelID, err = parseSnowflake(g.SystemChannelID); err != nil {
			return entities.GuildJoin{}, err
		}
	}

	var text []entities.ChannelInfo
	for _, ch := range g.Channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		info, err := toChannelInfo(ch)
		if err != nil {
			return entities.GuildJoin{}, err
		}
		text = append(text, info)
	}
	sort.SliceStable(text, func(i, j int) bool {
		return text[i].Position < text[j].Position
	})
	for _, ch := range text {
		join.TextChannelIDs = append(join.TextChannelIDs, ch.ID)
	}
	return join, nil
}

func incomingMessage(m *discordgo.Message) (entities.IncomingMessage, error) {
	guildID, err := parseSnowflake(m.GuildID)
	if err != nil {
		return entities.IncomingMessage{}, err
	}
	channelID, err := parseSnowflake(m.ChannelID)
	if err != nil {
		return entities.IncomingMessage{}, err
	}
	authorID, err := parseSnowflake(m.Author.ID)
	if err != nil {
		return entities.IncomingMessage{}, err
	}
	return entities.IncomingMessage{
		GuildID:   guildID,
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   m.Content,
	}, nil
}
