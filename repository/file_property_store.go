package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"csmbot/domain/entities"

	log "github.com/sirupsen/logrus"
)

const (
	propertiesDirPerm  = 0o755
	propertiesFilePerm = 0o644
)

// FilePropertyStore keeps all guild properties in one JSON array file.
// Every mutation rewrites the whole file through a temp file and a rename,
// so readers only ever observe a complete snapshot.
type FilePropertyStore struct {
	path string
	mu   sync.RWMutex
}

// NewFilePropertyStore opens the store at path, creating an empty collection if the file is absent
func NewFilePropertyStore(path string) (*FilePropertyStore, error) {
	path = filepath.Clean(path)
	store := &FilePropertyStore{path: path}

	_, err := os.Stat(path)
	switch {
	case err == nil:
		return store, nil
	case errors.Is(err, fs.ErrNotExist):
		if err := writeJSONAtomic(path, []*entities.GuildProperty{}); err != nil {
			return nil, fmt.Errorf("failed to initialize properties file: %w", err)
		}
		log.WithField("path", path).Info("Created empty properties file")
		return store, nil
	default:
		return nil, fmt.Errorf("failed to stat properties file %s: %w", path, err)
	}
}

// LoadAll returns every stored property in file order
func (s *FilePropertyStore) LoadAll(ctx context.Context) ([]*entities.GuildProperty, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readLocked()
}

// Add inserts a new property
func (s *FilePropertyStore) Add(ctx context.Context, property *entities.GuildProperty) error {
	if err := property.Validate(); err != nil {
		return fmt.Errorf("%w: %v", entities.ErrValidation, err)
	}

	return s.mutate(ctx, func(current []*entities.GuildProperty) ([]*entities.GuildProperty, error) {
		if indexOf(current, property.GuildID) >= 0 {
			return nil, fmt.Errorf("guild %d: %w", property.GuildID, entities.ErrDuplicateKey)
		}
		return append(current, property.Clone()), nil
	})
}

// UpdateOne merges property into the stored record with the same guild ID
func (s *FilePropertyStore) UpdateOne(ctx context.Context, property *entities.GuildProperty) error {
	if err := property.Validate(); err != nil {
		return fmt.Errorf("%w: %v", entities.ErrValidation, err)
	}

	return s.mutate(ctx, func(current []*entities.GuildProperty) ([]*entities.GuildProperty, error) {
		i := indexOf(current, property.GuildID)
		if i < 0 {
			return nil, fmt.Errorf("guild %d: %w", property.GuildID, entities.ErrNotFound)
		}
		current[i].MergeFrom(property)
		return current, nil
	})
}

// UpdateMany merges every known property in one rewrite. Unknown guild IDs are rejected
// individually and never inserted. Nothing is written when no record matched.
func (s *FilePropertyStore) UpdateMany(ctx context.Context, properties []*entities.GuildProperty) (*entities.UpdateReport, error) {
	report := &entities.UpdateReport{}
	if len(properties) == 0 {
		return report, nil
	}

	for _, p := range properties {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", entities.ErrValidation, err)
		}
	}

	err := s.mutate(ctx, func(current []*entities.GuildProperty) ([]*entities.GuildProperty, error) {
		for _, p := range properties {
			i := indexOf(current, p.GuildID)
			if i < 0 {
				report.Rejected = append(report.Rejected, p.GuildID)
				continue
			}
			current[i].MergeFrom(p)
			report.Updated = append(report.Updated, p.GuildID)
		}
		if len(report.Updated) == 0 {
			return nil, nil
		}
		return current, nil
	})
	if err != nil {
		return nil, err
	}

	if report.HasRejections() {
		log.WithFields(log.Fields{
			"rejected": report.Rejected,
			"path":     s.path,
		}).Warn("Batch update contained unknown guilds")
	}
	return report, nil
}

// mutate runs one read-modify-replace cycle under the write lock.
// fn returning a nil slice and nil error means there is nothing to write.
func (s *FilePropertyStore) mutate(ctx context.Context, fn func([]*entities.GuildProperty) ([]*entities.GuildProperty, error)) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readLocked()
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	// Last chance to abandon the write before anything becomes visible
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	if err := writeJSONAtomic(s.path, next); err != nil {
		return fmt.Errorf("failed to write properties file: %w", err)
	}
	return nil
}

func (s *FilePropertyStore) readLocked() ([]*entities.GuildProperty, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read properties file %s: %w", s.path, err)
	}
	return decodeProperties(data)
}

// decodeProperties parses the file contents, rejecting malformed or duplicate records
func decodeProperties(data []byte) ([]*entities.GuildProperty, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []*entities.GuildProperty{}, nil
	}

	var properties []*entities.GuildProperty
	if err := json.Unmarshal(data, &properties); err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrStorageCorruption, err)
	}
	if properties == nil {
		// A literal null
		return nil, fmt.Errorf("%w: expected a JSON array", entities.ErrStorageCorruption)
	}

	seen := make(map[int64]struct{}, len(properties))
	for i, p := range properties {
		if p == nil {
			return nil, fmt.Errorf("%w: record %d is null", entities.ErrStorageCorruption, i)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", entities.ErrStorageCorruption, i, err)
		}
		if _, dup := seen[p.GuildID]; dup {
			return nil, fmt.Errorf("%w: guild %d stored twice", entities.ErrStorageCorruption, p.GuildID)
		}
		seen[p.GuildID] = struct{}{}
	}
	return properties, nil
}

func indexOf(properties []*entities.GuildProperty, guildID int64) int {
	for i, p := range properties {
		if p.GuildID == guildID {
			return i
		}
	}
	return -1
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, propertiesDirPerm); err != nil {
		return fmt.Errorf("ensure dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Chmod(propertiesFilePerm); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp for %s: %w", path, err)
	}

	// Persist the rename itself; not every platform allows syncing a directory
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func ensureNotCanceled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
