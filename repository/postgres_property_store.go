package repository

import (
	"context"
	"errors"
	"fmt"

	"csmbot/database"
	"csmbot/domain/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
)

const uniqueViolation = "23505"

// Optional ids are only ever filled in, never cleared
const updatePropertyQuery = `
	UPDATE guild_properties
	SET bot_name = $2,
	    server_id = $3,
	    channel_id = COALESCE($4, channel_id),
	    channel_category_id = COALESCE($5, channel_category_id),
	    role_id = COALESCE($6, role_id),
	    updated_at = NOW()
	WHERE guild_id = $1
`

// PostgresPropertyStore implements PropertyStore on the guild_properties table
type PostgresPropertyStore struct {
	db *database.DB
	q  Queryable
}

// NewPostgresPropertyStore creates a new postgres backed property store
func NewPostgresPropertyStore(db *database.DB) *PostgresPropertyStore {
	return &PostgresPropertyStore{db: db, q: db.Pool}
}

// LoadAll returns every stored property in insertion order
func (s *PostgresPropertyStore) LoadAll(ctx context.Context) ([]*entities.GuildProperty, error) {
	query := `
		SELECT guild_id, bot_name, server_id, channel_id, channel_category_id, role_id
		FROM guild_properties
		ORDER BY position
	`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load guild properties: %w", err)
	}
	defer rows.Close()

	properties := make([]*entities.GuildProperty, 0)
	for rows.Next() {
		var p entities.GuildProperty
		if err := rows.Scan(
			&p.GuildID,
			&p.BotName,
			&p.ServerID,
			&p.ChannelID,
			&p.ChannelCategoryID,
			&p.RoleID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan guild property: %w", err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", entities.ErrStorageCorruption, err)
		}
		properties = append(properties, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating guild properties: %w", err)
	}

	return properties, nil
}

// Add inserts a new property
func (s *PostgresPropertyStore) Add(ctx context.Context, property *entities.GuildProperty) error {
	if err := property.Validate(); err != nil {
		return fmt.Errorf("%w: %v", entities.ErrValidation, err)
	}

	query := `
		INSERT INTO guild_properties (guild_id, bot_name, server_id, channel_id, channel_category_id, role_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.q.Exec(ctx, query,
		property.GuildID,
		property.BotName,
		property.ServerID,
		property.ChannelID,
		property.ChannelCategoryID,
		property.RoleID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("guild %d: %w", property.GuildID, entities.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to insert guild property for guild %d: %w", property.GuildID, err)
	}

	return nil
}

// UpdateOne merges property into the stored row with the same guild ID
func (s *PostgresPropertyStore) UpdateOne(ctx context.Context, property *entities.GuildProperty) error {
	if err := property.Validate(); err != nil {
		return fmt.Errorf("%w: %v", entities.ErrValidation, err)
	}

	updated, err := updateProperty(ctx, s.q, property)
	if err != nil {
		return err
	}
	if !updated {
		return fmt.Errorf("guild %d: %w", property.GuildID, entities.ErrNotFound)
	}
	return nil
}

// UpdateMany merges every known property inside one transaction.
// Unknown guild IDs are reported, never inserted.
func (s *PostgresPropertyStore) UpdateMany(ctx context.Context, properties []*entities.GuildProperty) (*entities.UpdateReport, error) {
	report := &entities.UpdateReport{}
	if len(properties) == 0 {
		return report, nil
	}

	for _, p := range properties {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", entities.ErrValidation, err)
		}
	}

	err := s.db.WithTransaction(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		report.Updated = nil
		report.Rejected = nil
		for _, p := range properties {
			updated, err := updateProperty(ctx, tx, p)
			if err != nil {
				return err
			}
			if updated {
				report.Updated = append(report.Updated, p.GuildID)
			} else {
				report.Rejected = append(report.Rejected, p.GuildID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update guild properties: %w", err)
	}

	if report.HasRejections() {
		log.WithField("rejected", report.Rejected).Warn("Batch update contained unknown guilds")
	}
	return report, nil
}

func updateProperty(ctx context.Context, q Queryable, p *entities.GuildProperty) (bool, error) {
	tag, err := q.Exec(ctx, updatePropertyQuery,
		p.GuildID,
		p.BotName,
		p.ServerID,
		p.ChannelID,
		p.ChannelCategoryID,
		p.RoleID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update guild property for guild %d: %w", p.GuildID, err)
	}
	return tag.RowsAffected() > 0, nil
}
