// Package secrets resolves credentials such as the embedding API key from
// the environment, a local JSON file or a Vault KV v2 mount.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/efebarandurmaz/whetstone/internal/config"
)

// ErrNotFound is returned when no provider holds a key.
var ErrNotFound = errors.New("secret not found")

// Key names a credential.
type Key string

const (
	EmbedAPIKey   Key = "embed_api_key"
	GraphPassword Key = "graph_password"
)

// Provider is a secret backend.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Name() string
}

// Config selects the primary provider. The environment is always consulted
// as a fallback.
type Config struct {
	// Provider is "env", "file" or "vault".
	Provider  string
	EnvPrefix string
	File      *FileConfig
	Vault     *VaultConfig
}

// Manager reads secrets from a primary provider with an environment
// fallback, caching hits.
type Manager struct {
	primary  Provider
	fallback Provider

	mu    sync.RWMutex
	cache map[string]string
}

// NewManager builds a manager. A nil config reads the environment only.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	env := NewEnvProvider(cfg.EnvPrefix)

	var primary Provider
	switch cfg.Provider {
	case "env", "":
		primary = env
	case "file":
		p, err := NewFileProvider(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("file provider: %w", err)
		}
		primary = p
	case "vault":
		p, err := NewVaultProvider(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("vault provider: %w", err)
		}
		primary = p
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}

	m := &Manager{primary: primary, cache: make(map[string]string)}
	if _, isEnv := primary.(*EnvProvider); !isEnv {
		m.fallback = env
	}
	return m, nil
}

// FromConfig builds a manager from the secrets section of the configuration.
func FromConfig(sc config.SecretsConfig) (*Manager, error) {
	cfg := &Config{Provider: sc.Provider, EnvPrefix: config.EnvPrefix + "_"}
	switch sc.Provider {
	case "file":
		cfg.File = &FileConfig{Path: sc.File}
	case "vault":
		cfg.Vault = &VaultConfig{
			Address:    sc.VaultAddress,
			Token:      sc.VaultToken,
			MountPath:  sc.VaultMount,
			SecretPath: sc.VaultPath,
			Timeout:    sc.Timeout,
		}
	}
	return NewManager(cfg)
}

// Name reports the primary provider.
func (m *Manager) Name() string { return m.primary.Name() }

// Get returns the secret for key. A primary failure other than a missing key
// is returned when the fallback has nothing either.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	v, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, primaryErr := m.primary.Get(ctx, key)
	if primaryErr == nil && v != "" {
		m.store(key, v)
		return v, nil
	}
	if m.fallback != nil {
		if fv, err := m.fallback.Get(ctx, key); err == nil && fv != "" {
			m.store(key, fv)
			return fv, nil
		}
	}
	if primaryErr != nil && !errors.Is(primaryErr, ErrNotFound) {
		return "", primaryErr
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// GetOrDefault returns the secret for key, or def when it is missing or
// unreadable.
func (m *Manager) GetOrDefault(ctx context.Context, key, def string) string {
	v, err := m.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

func (m *Manager) store(key, value string) {
	m.mu.Lock()
	m.cache[key] = value
	m.mu.Unlock()
}

// Resolve fills empty credentials in cfg from m. Missing secrets are left
// empty; backend failures are returned.
func Resolve(ctx context.Context, m *Manager, cfg *config.Config) error {
	targets := []struct {
		key Key
		dst *string
	}{
		{EmbedAPIKey, &cfg.Embed.APIKey},
		{GraphPassword, &cfg.Graph.Password},
	}
	for _, t := range targets {
		if *t.dst != "" {
			continue
		}
		v, err := m.Get(ctx, string(t.key))
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return fmt.Errorf("resolve %s: %w", t.key, err)
		default:
			*t.dst = v
		}
	}
	return nil
}

// ResolveConfig builds a manager from cfg.Secrets and resolves cfg with it.
func ResolveConfig(ctx context.Context, cfg *config.Config) error {
	m, err := FromConfig(cfg.Secrets)
	if err != nil {
		return err
	}
	return Resolve(ctx, m, cfg)
}

// EnvProvider reads secrets from environment variables, first with the
// prefix and then without it.
type EnvProvider struct {
	prefix string
}

func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = config.EnvPrefix + "_"
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	name := strings.ToUpper(key)
	if v := os.Getenv(p.prefix + name); v != "" {
		return v, nil
	}
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s%s", ErrNotFound, p.prefix, name)
}
