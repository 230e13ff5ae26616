package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FSBackend stores artifacts as files in two directories.
type FSBackend struct {
	ContractsDir string
	ReportsDir   string
}

// NewFSBackend returns a backend writing below the given directories.
func NewFSBackend(contractsDir, reportsDir string) *FSBackend {
	return &FSBackend{ContractsDir: contractsDir, ReportsDir: reportsDir}
}

func (b *FSBackend) dir(kind Kind) (string, error) {
	switch kind {
	case KindContract:
		return b.ContractsDir, nil
	case KindReport:
		return b.ReportsDir, nil
	default:
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}
}

// Put writes data to <dir>/<name>, creating the directory when needed.
func (b *FSBackend) Put(ctx context.Context, kind Kind, name string, data []byte) (string, error) {
	dir, err := b.dir(kind)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s directory %q: %w", kind, dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %q: %w", path, err)
	}
	return path, nil
}

// Exists reports whether <dir>/<name> is present.
func (b *FSBackend) Exists(ctx context.Context, kind Kind, name string) (bool, error) {
	dir, err := b.dir(kind)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(dir, name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
