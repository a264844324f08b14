package entities

import "fmt"

// GuildProperty represents the persisted monitor configuration for one guild
type GuildProperty struct {
	GuildID           int64  `json:"guild_id" db:"guild_id"`
	BotName           string `json:"bot_name" db:"bot_name"`
	ServerID          int64  `json:"server_id" db:"server_id"`
	ChannelID         *int64 `json:"channel_id" db:"channel_id"`                   // Nullable - set once the display channel exists
	ChannelCategoryID *int64 `json:"channel_category_id" db:"channel_category_id"` // Nullable - set once the category exists
	RoleID            *int64 `json:"role_id" db:"role_id"`                         // Nullable - set once the access role exists
}

// NewGuildProperty creates a freshly configured property with no resources attached yet
func NewGuildProperty(guildID int64, botName string, serverID int64) *GuildProperty {
	return &GuildProperty{
		GuildID:  guildID,
		BotName:  botName,
		ServerID: serverID,
	}
}

// Validate checks the fields that must be present on every stored property
func (gp *GuildProperty) Validate() error {
	if gp.GuildID <= 0 {
		return fmt.Errorf("guild_id must be positive, got %d", gp.GuildID)
	}
	if gp.BotName == "" {
		return fmt.Errorf("bot_name is required for guild %d", gp.GuildID)
	}
	if gp.ServerID <= 0 {
		return fmt.Errorf("server_id must be positive for guild %d, got %d", gp.GuildID, gp.ServerID)
	}
	return nil
}

// HasRole checks if an access role has been recorded
func (gp *GuildProperty) HasRole() bool {
	return gp.RoleID != nil && *gp.RoleID > 0
}

// HasCategory checks if a channel category has been recorded
func (gp *GuildProperty) HasCategory() bool {
	return gp.ChannelCategoryID != nil && *gp.ChannelCategoryID > 0
}

// HasChannel checks if a display channel has been recorded
func (gp *GuildProperty) HasChannel() bool {
	return gp.ChannelID != nil && *gp.ChannelID > 0
}

// SetRole records the access role ID
func (gp *GuildProperty) SetRole(roleID int64) {
	gp.RoleID = &roleID
}

// SetCategory records the channel category ID
func (gp *GuildProperty) SetCategory(categoryID int64) {
	gp.ChannelCategoryID = &categoryID
}

// SetChannel records the display channel ID
func (gp *GuildProperty) SetChannel(channelID int64) {
	gp.ChannelID = &channelID
}

// Clone returns a deep copy so callers never share optional pointers
func (gp *GuildProperty) Clone() *GuildProperty {
	c := *gp
	c.ChannelID = cloneID(gp.ChannelID)
	c.ChannelCategoryID = cloneID(gp.ChannelCategoryID)
	c.RoleID = cloneID(gp.RoleID)
	return &c
}

// MergeFrom applies an update on top of the stored property.
// Optional ids only ever move forward: an absent incoming id keeps the stored one.
func (gp *GuildProperty) MergeFrom(update *GuildProperty) {
	gp.BotName = update.BotName
	gp.ServerID = update.ServerID
	if update.ChannelID != nil {
		gp.ChannelID = cloneID(update.ChannelID)
	}
	if update.ChannelCategoryID != nil {
		gp.ChannelCategoryID = cloneID(update.ChannelCategoryID)
	}
	if update.RoleID != nil {
		gp.RoleID = cloneID(update.RoleID)
	}
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// UpdateReport describes the outcome of a batch update
type UpdateReport struct {
	Updated  []int64 // guild IDs replaced in the store
	Rejected []int64 // guild IDs not present in the store, left untouched
}

// HasRejections reports whether any record in the batch was unknown
func (r *UpdateReport) HasRejections() bool {
	return len(r.Rejected) > 0
}
