package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"

	"github.com/d-kuro/crmclient/pkg/constants"
)

// FileSystemStore persists the pair as an oauth2 token JSON file.
type FileSystemStore struct {
	mu      sync.RWMutex
	baseDir string
}

// NewFileSystemStore creates a filesystem-backed credential store.
// If baseDir is empty, ~/.crmclient is used.
func NewFileSystemStore(baseDir string) (*FileSystemStore, error) {
	if baseDir == "" {
		var err error
		baseDir, err = getDefaultStorageDir()
		if err != nil {
			return nil, err
		}
	}

	if err := ensureDir(baseDir); err != nil {
		return nil, err
	}

	return &FileSystemStore{baseDir: baseDir}, nil
}

// Load implements CredentialStore.Load.
func (fs *FileSystemStore) Load(_ context.Context) (*CredentialPair, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	token, err := loadTokenFromFile(fs.getTokenPath())
	if err != nil {
		return nil, err
	}
	return PairFromToken(token), nil
}

// Store implements CredentialStore.Store.
func (fs *FileSystemStore) Store(_ context.Context, pair CredentialPair) error {
	if err := pair.Validate(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	return storeTokenToFile(fs.getTokenPath(), pair.Token())
}

// Clear implements CredentialStore.Clear.
func (fs *FileSystemStore) Clear(_ context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return removeFile(fs.getTokenPath())
}

// HasCredentials implements CredentialStore.HasCredentials.
func (fs *FileSystemStore) HasCredentials(_ context.Context) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fileExists(fs.getTokenPath())
}

// GetStoragePath implements CredentialStore.GetStoragePath.
func (fs *FileSystemStore) GetStoragePath() string {
	return fs.baseDir
}

func (fs *FileSystemStore) getTokenPath() string {
	return filepath.Join(fs.baseDir, constants.TokenFileName)
}

func getDefaultStorageDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, constants.DefaultStorageDir), nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("failed to create directory %s: %w", dir, ErrStoragePermission)
		}
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

func loadTokenFromFile(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("token file does not exist at %s: %w", path, ErrStorageNotFound)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("failed to read token file at %s: %w", path, ErrStoragePermission)
		}
		return nil, fmt.Errorf("failed to read token file at %s: %w", path, err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token JSON at %s: %w", path, ErrStorageCorrupted)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token file at %s has no access token: %w", path, ErrStorageCorrupted)
	}

	return &token, nil
}

// storeTokenToFile writes through a temp file and rename, so readers never
// observe a pair with only one half updated.
func storeTokenToFile(path string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token to JSON for %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := ensureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp token file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := tmp.Chmod(constants.FilePermissions); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token file at %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file at %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace token file at %s: %w", path, err)
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file at %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
