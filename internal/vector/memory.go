package vector

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Index with brute-force cosine search. It keeps
// insertion order for Get and for ties in Query.
type Memory struct {
	mu    sync.RWMutex
	order []string
	docs  map[string]Document
}

// NewMemory returns an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (m *Memory) Query(ctx context.Context, vec []float32, k int, filter *Filter) (*QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		doc  Document
		dist float64
	}
	var hits []scored
	for _, id := range m.order {
		d := m.docs[id]
		if !filter.Match(d.Metadata) {
			continue
		}
		hits = append(hits, scored{d, CosineDistance(vec, d.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}

	res := &QueryResult{}
	for _, h := range hits {
		res.IDs = append(res.IDs, h.doc.ID)
		res.Distances = append(res.Distances, h.dist)
		res.Documents = append(res.Documents, h.doc.Content)
		res.Metadatas = append(res.Metadatas, h.doc.Metadata)
	}
	return res, nil
}

func (m *Memory) Get(ctx context.Context, filter *Filter, limit int) (*GetResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := &GetResult{}
	for _, id := range m.order {
		d := m.docs[id]
		if !filter.Match(d.Metadata) {
			continue
		}
		res.IDs = append(res.IDs, d.ID)
		res.Documents = append(res.Documents, d.Content)
		res.Metadatas = append(res.Metadatas, d.Metadata)
		if limit > 0 && len(res.IDs) >= limit {
			break
		}
	}
	return res, nil
}

func (m *Memory) Add(ctx context.Context, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		if _, exists := m.docs[d.ID]; !exists {
			m.order = append(m.order, d.ID)
		}
		m.docs[d.ID] = d
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.docs[id]; ok {
			drop[id] = true
			delete(m.docs, id)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	m.order = kept
	return nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), nil
}

func (m *Memory) Close() error { return nil }

var _ Index = (*Memory)(nil)
