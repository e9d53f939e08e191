package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FileConfig points at a flat JSON object of key to value. Intended for
// local development.
type FileConfig struct {
	Path string
}

// FileProvider serves secrets loaded once from a JSON file.
type FileProvider struct {
	data map[string]string
}

// NewFileProvider loads the file. A missing file yields an empty provider.
func NewFileProvider(cfg *FileConfig) (*FileProvider, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, errors.New("file path required")
	}
	p := &FileProvider{data: make(map[string]string)}
	raw, err := os.ReadFile(cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return p, nil
	case err != nil:
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	if err := json.Unmarshal(raw, &p.data); err != nil {
		return nil, fmt.Errorf("parse secrets file %s: %w", cfg.Path, err)
	}
	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(_ context.Context, key string) (string, error) {
	v, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}
