// Package blob stores the raw uploaded CSV files. The interface keeps the
// backend swappable; the service ships with a filesystem implementation.
package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/ratepulse/ratepulse/pkg/models"
)

// Store persists raw upload files keyed by their storage path.
type Store interface {
	Put(ctx context.Context, path string, content []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// ObjectPath builds the user-scoped storage path for an upload:
// {user_id}/{entity_type}_{entity_id}_{unix_ms}_{rand}.csv. The random suffix
// keeps re-uploads within the same millisecond from colliding.
func ObjectPath(userID string, owner models.Owner, now time.Time) string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s/%s_%s_%d_%s.csv",
		userID, owner.Kind(), owner.ID(), now.UnixMilli(), hex.EncodeToString(suffix))
}

// FSStore is a filesystem-backed Store rooted at a base directory.
type FSStore struct {
	root   string
	logger ectologger.Logger
}

func NewFSStore(root string, logger ectologger.Logger) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root %s: %w", root, err)
	}
	return &FSStore{root: root, logger: logger}, nil
}

func (s *FSStore) resolve(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(path))
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob path %q", path)
	}
	return filepath.Join(s.root, cleaned), nil
}

func (s *FSStore) Put(ctx context.Context, path string, content []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	if err := os.WriteFile(full, content, 0o644); err != nil {
		s.logger.WithContext(ctx).WithError(err).Errorf("Failed to write blob %s", path)
		return fmt.Errorf("failed to write blob %s: %w", path, err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"path": path,
		"size": len(content),
	}).Debug("Stored blob")
	return nil
}

func (s *FSStore) Get(ctx context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", path, err)
	}
	return content, nil
}

func (s *FSStore) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		s.logger.WithContext(ctx).WithError(err).Errorf("Failed to delete blob %s", path)
		return fmt.Errorf("failed to delete blob %s: %w", path, err)
	}
	return nil
}
