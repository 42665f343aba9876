package convstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type fileRecord struct {
	ConversationID string    `json:"conversationId"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// FileStore keeps the value in a small JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing under dir, scoped to baseURL.
func NewFileStore(dir, baseURL string) *FileStore {
	name := strings.ReplaceAll(scopedKey(baseURL), ":", "_") + ".json"
	return &FileStore{path: filepath.Join(dir, name)}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read active conversation: %w", err)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt file is treated as empty; the next Set overwrites it.
		return "", nil
	}
	return rec.ConversationID, nil
}

func (s *FileStore) Set(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(fileRecord{ConversationID: conversationID, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write active conversation: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write active conversation: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear active conversation: %w", err)
	}
	return nil
}

// DefaultDir returns "$XDG_STATE_HOME/supportsync" or the platform equivalent.
func DefaultDir() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "supportsync"), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "supportsync", "state"), nil
}
