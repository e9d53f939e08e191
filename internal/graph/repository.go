// Package graph records the structure of an indexed repository: which files
// it holds and which code units each file defines.
package graph

import (
	"context"
	"sort"
	"sync"
)

// File is an indexed source file and the units it defines.
type File struct {
	Repo     string `json:"repo" yaml:"repo"`
	Path     string `json:"path" yaml:"path"`
	Language string `json:"language" yaml:"language"`
	Units    []Unit `json:"units" yaml:"units"`
}

// Unit is a code unit as stored in the graph.
type Unit struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Type      string `json:"type" yaml:"type"`
	LineStart int    `json:"line_start,omitempty" yaml:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty" yaml:"line_end,omitempty"`
}

// Repository provides graph storage for indexed files.
type Repository interface {
	// StoreFile upserts a file and replaces the units it defines.
	StoreFile(ctx context.Context, f File) error
	// FileUnits returns the units defined by a file, ordered by line.
	FileUnits(ctx context.Context, repo, path string) ([]Unit, error)
	// DeleteFile removes one file and its units.
	DeleteFile(ctx context.Context, repo, path string) error
	// DeleteRepo removes every file and unit of a repository.
	DeleteRepo(ctx context.Context, repo string) error
	// Close releases resources.
	Close(ctx context.Context) error
}

// Memory is an in-process Repository.
type Memory struct {
	mu    sync.RWMutex
	files map[[2]string]File
}

// NewMemory returns an empty graph.
func NewMemory() *Memory {
	return &Memory{files: make(map[[2]string]File)}
}

func (m *Memory) StoreFile(_ context.Context, f File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.Units = append([]Unit(nil), f.Units...)
	m.files[[2]string{f.Repo, f.Path}] = f
	return nil
}

func (m *Memory) FileUnits(_ context.Context, repo, path string) ([]Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[[2]string{repo, path}]
	if !ok {
		return nil, nil
	}
	units := append([]Unit(nil), f.Units...)
	SortUnits(units)
	return units, nil
}

func (m *Memory) DeleteFile(_ context.Context, repo, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, [2]string{repo, path})
	return nil
}

func (m *Memory) DeleteRepo(_ context.Context, repo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.files {
		if k[0] == repo {
			delete(m.files, k)
		}
	}
	return nil
}

// Files returns the stored paths of a repository in sorted order.
func (m *Memory) Files(repo string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.files {
		if k[0] == repo {
			out = append(out, k[1])
		}
	}
	sort.Strings(out)
	return out
}

func (m *Memory) Close(context.Context) error { return nil }

var _ Repository = (*Memory)(nil)

// SortUnits orders units by start line, then name.
func SortUnits(units []Unit) {
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].LineStart != units[j].LineStart {
			return units[i].LineStart < units[j].LineStart
		}
		return units[i].Name < units[j].Name
	})
}
