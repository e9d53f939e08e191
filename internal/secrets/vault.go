package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// VaultConfig addresses one KV v2 secret holding all whetstone keys.
type VaultConfig struct {
	Address string
	Token   string
	// MountPath defaults to "secret", SecretPath to "whetstone".
	MountPath  string
	SecretPath string
	Timeout    time.Duration
}

// VaultProvider reads from HashiCorp Vault. The secret is fetched once and
// its keys served from memory.
type VaultProvider struct {
	cfg    VaultConfig
	client *http.Client

	mu   sync.Mutex
	data map[string]any
}

func NewVaultProvider(cfg *VaultConfig) (*VaultProvider, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, errors.New("vault address required")
	}
	if cfg.Token == "" {
		return nil, errors.New("vault token required")
	}
	c := *cfg
	if c.MountPath == "" {
		c.MountPath = "secret"
	}
	if c.SecretPath == "" {
		c.SecretPath = "whetstone"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return &VaultProvider{cfg: c, client: &http.Client{Timeout: c.Timeout}}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) Get(ctx context.Context, key string) (string, error) {
	data, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	v, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s in vault", ErrNotFound, key)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

func (p *VaultProvider) load(ctx context.Context) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data != nil {
		return p.data, nil
	}

	url := fmt.Sprintf("%s/v1/%s/data/%s", strings.TrimSuffix(p.cfg.Address, "/"), p.cfg.MountPath, p.cfg.SecretPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.cfg.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		p.data = map[string]any{}
		return p.data, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("vault error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode vault response: %w", err)
	}
	p.data = result.Data.Data
	if p.data == nil {
		p.data = map[string]any{}
	}
	return p.data, nil
}
