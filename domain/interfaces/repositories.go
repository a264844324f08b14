package interfaces

import (
	"context"

	"csmbot/domain/entities"
)

// PropertyStore defines durable storage for guild properties.
// Every mutating call is serialized against the others; a successful return
// means the change survives a restart.
type PropertyStore interface {
	// LoadAll returns every stored property in storage order
	LoadAll(ctx context.Context) ([]*entities.GuildProperty, error)

	// Add inserts a new property, failing with ErrDuplicateKey if the guild is already stored
	Add(ctx context.Context, property *entities.GuildProperty) error

	// UpdateOne replaces the stored property with the same guild ID, failing with ErrNotFound
	UpdateOne(ctx context.Context, property *entities.GuildProperty) error

	// UpdateMany replaces every stored property whose guild ID matches one in the batch.
	// Unknown guild IDs are reported in the result, never inserted.
	UpdateMany(ctx context.Context, properties []*entities.GuildProperty) (*entities.UpdateReport, error)
}
