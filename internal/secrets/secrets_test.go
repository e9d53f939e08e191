package secrets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/efebarandurmaz/whetstone/internal/config"
)

func TestEnvProvider_Get(t *testing.T) {
	t.Setenv("WHETSTONE_EMBED_API_KEY", "prefixed")
	t.Setenv("GRAPH_PASSWORD", "bare")

	p := NewEnvProvider("")
	ctx := context.Background()

	if v, err := p.Get(ctx, "embed_api_key"); err != nil || v != "prefixed" {
		t.Fatalf("got %q, %v", v, err)
	}
	if v, err := p.Get(ctx, "graph_password"); err != nil || v != "bare" {
		t.Fatalf("got %q, %v", v, err)
	}
	if _, err := p.Get(ctx, "nonexistent_secret_xyz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`{"embed_api_key":"sk-file"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := NewFileProvider(&FileConfig{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := p.Get(context.Background(), "embed_api_key"); v != "sk-file" {
		t.Fatalf("got %q", v)
	}
	if _, err := p.Get(context.Background(), "graph_password"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileProvider_MissingFileIsEmpty(t *testing.T) {
	p, err := NewFileProvider(&FileConfig{Path: filepath.Join(t.TempDir(), "none.json")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Get(context.Background(), "embed_api_key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileProvider_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileProvider(&FileConfig{Path: path}); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := NewFileProvider(nil); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func vaultServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("X-Vault-Token") != "tok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/v1/kv/data/whetstone" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestVaultProvider(t *testing.T) {
	srv, calls := vaultServer(t, http.StatusOK, `{"data":{"data":{"embed_api_key":"sk-vault","port":7687}}}`)
	p, err := NewVaultProvider(&VaultConfig{Address: srv.URL + "/", Token: "tok", MountPath: "kv"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if v, err := p.Get(ctx, "embed_api_key"); err != nil || v != "sk-vault" {
		t.Fatalf("got %q, %v", v, err)
	}
	if v, _ := p.Get(ctx, "port"); v != "7687" {
		t.Fatalf("non-string value = %q", v)
	}
	if _, err := p.Get(ctx, "graph_password"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Fatalf("expected one vault request, got %d", n)
	}
}

func TestVaultProvider_Errors(t *testing.T) {
	if _, err := NewVaultProvider(&VaultConfig{Token: "tok"}); err == nil {
		t.Fatal("expected address error")
	}
	if _, err := NewVaultProvider(&VaultConfig{Address: "http://vault"}); err == nil {
		t.Fatal("expected token error")
	}

	srv, _ := vaultServer(t, http.StatusOK, `{}`)
	p, err := NewVaultProvider(&VaultConfig{Address: srv.URL, Token: "wrong", MountPath: "kv"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Get(context.Background(), "embed_api_key")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a backend error, got %v", err)
	}
}

func TestManager_FallsBackToEnv(t *testing.T) {
	t.Setenv("WHETSTONE_GRAPH_PASSWORD", "from-env")
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`{"embed_api_key":"sk-file"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(&Config{Provider: "file", File: &FileConfig{Path: path}})
	if err != nil {
		t.Fatal(err)
	}
	if m.Name() != "file" {
		t.Fatalf("name = %s", m.Name())
	}
	ctx := context.Background()
	if v, _ := m.Get(ctx, "embed_api_key"); v != "sk-file" {
		t.Fatalf("got %q", v)
	}
	if v, _ := m.Get(ctx, "graph_password"); v != "from-env" {
		t.Fatalf("got %q", v)
	}
	if got := m.GetOrDefault(ctx, "missing_xyz", "dflt"); got != "dflt" {
		t.Fatalf("got %q", got)
	}
}

func TestManager_BackendErrorSurfaces(t *testing.T) {
	srv, _ := vaultServer(t, http.StatusInternalServerError, `boom`)
	m, err := NewManager(&Config{Provider: "vault", Vault: &VaultConfig{Address: srv.URL, Token: "tok", MountPath: "kv"}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Get(context.Background(), "embed_api_key_unset_xyz")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected vault error, got %v", err)
	}
}

func TestNewManager_Unknown(t *testing.T) {
	if _, err := NewManager(&Config{Provider: "kms"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestResolve(t *testing.T) {
	srv, _ := vaultServer(t, http.StatusOK, `{"data":{"data":{"embed_api_key":"sk-vault","graph_password":"neo"}}}`)
	cfg := &config.Config{
		Graph: config.GraphConfig{Password: "explicit"},
		Secrets: config.SecretsConfig{
			Provider:     "vault",
			VaultAddress: srv.URL,
			VaultToken:   "tok",
			VaultMount:   "kv",
		},
	}
	if err := ResolveConfig(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Embed.APIKey != "sk-vault" {
		t.Errorf("api key = %q", cfg.Embed.APIKey)
	}
	if cfg.Graph.Password != "explicit" {
		t.Errorf("explicit password overwritten: %q", cfg.Graph.Password)
	}
}

func TestResolve_MissingIsNotAnError(t *testing.T) {
	t.Setenv("WHETSTONE_EMBED_API_KEY", "")
	t.Setenv("EMBED_API_KEY", "")
	cfg := &config.Config{Secrets: config.SecretsConfig{Provider: "file", File: filepath.Join(t.TempDir(), "none.json")}}
	if err := ResolveConfig(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Embed.APIKey != "" {
		t.Errorf("api key = %q", cfg.Embed.APIKey)
	}
}
