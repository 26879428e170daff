// -----------------------------------------------------------------------
// Site Credentials - File-backed secret store for web source auth
// -----------------------------------------------------------------------

package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// secretsFile is the on-disk layout: one [auth.<ref>] table per credential set
type secretsFile struct {
	Auth map[string]models.AuthConfig `toml:"auth"`
}

// FileStore resolves site credentials from an operator-managed TOML file
type FileStore struct {
	path   string
	mu     sync.RWMutex
	auth   map[string]models.AuthConfig
	logger arbor.ILogger
}

// NewFileStore loads credentials from path
func NewFileStore(path string, logger arbor.ILogger) (*FileStore, error) {
	store := &FileStore{path: path, logger: logger}
	if err := store.Reload(); err != nil {
		return nil, err
	}
	return store, nil
}

// Reload re-reads the credentials file, replacing the loaded set
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read secrets file %s: %w", s.path, err)
	}

	var file secretsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse secrets file %s: %w", s.path, err)
	}
	for ref, auth := range file.Auth {
		switch auth.Type {
		case "", models.AuthTypeCookie, models.AuthTypeHeader, models.AuthTypeBasic, models.AuthTypeNone:
		default:
			return fmt.Errorf("secret %q has unknown auth type %q", ref, auth.Type)
		}
	}

	s.mu.Lock()
	s.auth = file.Auth
	s.mu.Unlock()

	s.logger.Info().Str("path", s.path).Int("credentials", len(file.Auth)).Msg("Secrets loaded")
	return nil
}

// ResolveAuth returns a copy of the credentials stored under ref
func (s *FileStore) ResolveAuth(_ context.Context, ref string) (*models.AuthConfig, error) {
	s.mu.RLock()
	auth, ok := s.auth[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, models.NewConfigurationError("secret_ref", "secret %q not found", ref)
	}

	resolved := auth
	resolved.Cookies = append([]models.Cookie(nil), auth.Cookies...)
	if auth.Headers != nil {
		resolved.Headers = make(map[string]string, len(auth.Headers))
		for k, v := range auth.Headers {
			resolved.Headers[k] = v
		}
	}
	return &resolved, nil
}

// Resolve returns the credentials a web source fetches with, or nil when
// the source needs none
func Resolve(ctx context.Context, store interfaces.SecretStore, source *models.WebSource) (*models.AuthConfig, error) {
	authType := source.Config.AuthType
	if authType == "" || authType == models.AuthTypeNone {
		return nil, nil
	}
	if store == nil {
		return nil, models.NewConfigurationError("secret_ref", "web source %s requires %s auth but no secret store is configured", source.ID, authType)
	}
	if source.Config.SecretRef == "" {
		return nil, models.NewConfigurationError("secret_ref", "web source %s requires a secret reference", source.ID)
	}

	auth, err := store.ResolveAuth(ctx, source.Config.SecretRef)
	if err != nil {
		var cfgErr *models.ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to resolve credentials for web source %s: %w", source.ID, err)
	}
	if auth.Type == "" {
		auth.Type = authType
	}
	return auth, nil
}
