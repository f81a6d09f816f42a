// Package staging persists the cycle recovery record as a JSON file.
//
// Writes are atomic (write .tmp, fsync, rename) so a crash mid-write leaves
// either the previous record or the new one, never a partial file.
package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/cartsync/backend/internal/domain"
)

// FileStore implements domain.StagingStore on a single JSON file.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileStore creates a store at path. The parent directory is created on
// first save.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger.Named("staging")}
}

// Path returns the record location.
func (s *FileStore) Path() string { return s.path }

// Load reads the record. It returns domain.ErrStagingNotFound when no record
// exists and domain.ErrStagingCorrupt when the file cannot be decoded.
func (s *FileStore) Load(ctx context.Context) (*domain.StagingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrStagingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("staging: read %s: %w", s.path, err)
	}

	var record domain.StagingRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrStagingCorrupt, s.path, err)
	}
	if err := validate(&record); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrStagingCorrupt, s.path, err)
	}

	s.logger.Debug("staging record loaded",
		zap.String("cycle_id", record.CycleID),
		zap.Int("items", len(record.Items)))
	return &record, nil
}

// Save replaces the record atomically.
func (s *FileStore) Save(ctx context.Context, record *domain.StagingRecord) error {
	if record == nil {
		return errors.New("staging: nil record")
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("staging: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("staging: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("staging: create tmp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("staging: write tmp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("staging: sync tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("staging: close tmp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("staging: rename: %w", err)
	}

	s.logger.Debug("staging record saved",
		zap.String("cycle_id", record.CycleID),
		zap.Int("items", len(record.Items)))
	return nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *FileStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("staging: remove %s: %w", s.path, err)
	}
	s.logger.Debug("staging record deleted")
	return nil
}

func validate(r *domain.StagingRecord) error {
	for i, si := range r.Items {
		if si.Item.Name == "" {
			return fmt.Errorf("item %d has no name", i)
		}
		switch si.State {
		case domain.StagedPending, domain.StagedAdded:
		default:
			return fmt.Errorf("item %d has unknown state %q", i, si.State)
		}
	}
	return nil
}
