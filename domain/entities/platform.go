package entities

// ChannelKind distinguishes the guild channel types the bot cares about
type ChannelKind string

const (
	ChannelKindText     ChannelKind = "text"
	ChannelKindVoice    ChannelKind = "voice"
	ChannelKindCategory ChannelKind = "category"
	ChannelKindOther    ChannelKind = "other"
)

// ChannelInfo is a platform-neutral view of a guild channel
type ChannelInfo struct {
	ID       int64
	Name     string
	Kind     ChannelKind
	ParentID int64 // 0 when the channel is not inside a category
	Position int
}

// RoleInfo is a platform-neutral view of a guild role
type RoleInfo struct {
	ID   int64
	Name string
}

// GuildJoin describes a guild the bot has just been added to
type GuildJoin struct {
	GuildID         int64
	Name            string
	SystemChannelID int64   // 0 when the guild has no system channel
	TextChannelIDs  []int64 // in display order
}

// IncomingMessage is a guild message routed to the setup dialog
type IncomingMessage struct {
	GuildID   int64
	ChannelID int64
	AuthorID  int64
	Content   string
}
