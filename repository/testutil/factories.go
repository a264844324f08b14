package testutil

import (
	"fmt"

	"csmbot/domain/entities"
)

// CreateTestProperty creates a freshly onboarded property with no resources
func CreateTestProperty(guildID int64) *entities.GuildProperty {
	return entities.NewGuildProperty(guildID, fmt.Sprintf("Watcher %d", guildID), 19247858)
}

// CreateTestPropertyWithResources creates a property whose role, category and channel already exist
func CreateTestPropertyWithResources(guildID, roleID, categoryID, channelID int64) *entities.GuildProperty {
	p := CreateTestProperty(guildID)
	p.SetRole(roleID)
	p.SetCategory(categoryID)
	p.SetChannel(channelID)
	return p
}
