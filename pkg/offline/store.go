package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dukex/regcycle/pkg/models"
)

// Store persists the queued actions in order. Implementations must survive a process restart.
type Store interface {
	Load(ctx context.Context) ([]*models.OfflineAction, error)
	Save(ctx context.Context, actions []*models.OfflineAction) error
}

// FileStore keeps the whole queue in one JSON file, replaced atomically on every save.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) ([]*models.OfflineAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.OfflineAction{}, nil
		}

		return nil, fmt.Errorf("failed to read offline queue: %w", err)
	}

	var actions []*models.OfflineAction
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal offline queue: %w", err)
	}

	return actions, nil
}

func (s *FileStore) Save(_ context.Context, actions []*models.OfflineAction) error {
	data, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("failed to marshal offline queue: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write offline queue: %w", err)
	}

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write offline queue: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write offline queue: %w", err)
	}

	return nil
}
