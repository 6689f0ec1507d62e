package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/book-expert/voiceover-service/internal/core"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables consulted when no key is configured or persisted.
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvAPIKey       = "API_KEY"
)

const (
	credentialsFileName = "credentials.toml"
	filePermissions     = 0o600
	dirPermissions      = 0o750
)

type credentialsFile struct {
	GeminiAPIKey string `toml:"gemini_api_key"`
}

// Credentials resolves the API key with the precedence explicit > persisted > environment.
type Credentials struct {
	mu        sync.RWMutex
	explicit  string
	stateDir  string
	lookupEnv func(string) (string, bool)
}

// NewCredentials creates a resolver. explicit may be empty; stateDir may be empty when
// nothing should be persisted.
func NewCredentials(explicit, stateDir string) *Credentials {
	return &Credentials{
		explicit:  strings.TrimSpace(explicit),
		stateDir:  stateDir,
		lookupEnv: os.LookupEnv,
	}
}

// APIKey returns the highest-precedence key or core.ErrMissingCredential.
func (c *Credentials) APIKey() (string, error) {
	c.mu.RLock()
	explicit := c.explicit
	c.mu.RUnlock()

	if explicit != "" {
		return explicit, nil
	}

	persisted, err := c.readPersisted()
	if err != nil {
		return "", err
	}

	if persisted != "" {
		return persisted, nil
	}

	for _, name := range []string{EnvGeminiAPIKey, EnvAPIKey} {
		value, ok := c.lookupEnv(name)
		if ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), nil
		}
	}

	return "", core.ErrMissingCredential
}

// Set makes key the explicit credential and persists it under the state directory.
func (c *Credentials) Set(key string) error {
	key = strings.TrimSpace(key)

	c.mu.Lock()
	c.explicit = key
	c.mu.Unlock()

	if c.stateDir == "" {
		return nil
	}

	data, err := toml.Marshal(credentialsFile{GeminiAPIKey: key})
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	err = os.MkdirAll(c.stateDir, dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create state dir '%s': %w", c.stateDir, err)
	}

	err = os.WriteFile(c.path(), data, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write credentials file '%s': %w", c.path(), err)
	}

	return nil
}

func (c *Credentials) readPersisted() (string, error) {
	if c.stateDir == "" {
		return "", nil
	}

	data, err := os.ReadFile(c.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}

		return "", fmt.Errorf("failed to read credentials file '%s': %w", c.path(), err)
	}

	var file credentialsFile

	err = toml.Unmarshal(data, &file)
	if err != nil {
		return "", fmt.Errorf("failed to parse credentials file '%s': %w", c.path(), err)
	}

	return strings.TrimSpace(file.GeminiAPIKey), nil
}

func (c *Credentials) path() string {
	return filepath.Join(c.stateDir, credentialsFileName)
}
