package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	KeySize     = 32
	keyFileName = "jwt_key"
)

// LoadOrCreateKey returns the signing key stored in dir, generating it on
// first start. The key is fully written to a temporary file and then
// hard-linked into place, so two processes racing on an empty directory
// agree on a single key: the loser's link fails and it reads the winner's.
func LoadOrCreateKey(dir string, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	path := filepath.Join(dir, keyFileName)

	key, err := readKey(path)
	if err == nil {
		logger.Info("loaded existing signing key", "path", path)
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key = make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	tmp, err := os.CreateTemp(dir, keyFileName+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create signing key file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(key); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write signing key: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to sync signing key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close signing key file: %w", err)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			logger.Info("signing key created concurrently, reading it", "path", path)
			return readKey(path)
		}
		return nil, fmt.Errorf("failed to install signing key: %w", err)
	}

	logger.Info("created new signing key", "path", path)
	return key, nil
}

func readKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key file %s is empty", path)
	}
	return key, nil
}
