package cache

import (
	"sync"
	"time"

	"github.com/MrWong99/aide/pkg/provider/embeddings"
	"github.com/MrWong99/aide/pkg/types"
)

// DefaultSemanticThreshold is the minimum cosine similarity for a semantic
// hit.
const DefaultSemanticThreshold = 0.92

// DefaultSemanticCapacity bounds the in-process vector table.
const DefaultSemanticCapacity = 512

// semanticIndex is the similarity tier: an in-process vector table keyed by
// raw query text. Lookup is a linear cosine scan; at the configured capacity
// that stays well under a millisecond, so no approximate index is kept.
// Eviction is oldest-insertion-order.
type semanticIndex struct {
	mu        sync.Mutex
	entries   []semanticEntry // insertion order, oldest first
	capacity  int
	threshold float64
	model     string
}

type semanticEntry struct {
	query     string
	embedding []float32
	response  types.Response
	expiresAt time.Time
}

func newSemanticIndex(capacity int, threshold float64, model string) *semanticIndex {
	if capacity <= 0 {
		capacity = DefaultSemanticCapacity
	}
	if threshold <= 0 {
		threshold = DefaultSemanticThreshold
	}
	return &semanticIndex{
		capacity:  capacity,
		threshold: threshold,
		model:     model,
	}
}

// add stores the query vector and its response. Vectors from a different
// embedding model than the index was built for are rejected silently; they
// live in a different space.
func (s *semanticIndex) add(query string, embedding []float32, model string, resp types.Response, expiresAt time.Time) {
	if len(embedding) == 0 || model != s.model {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replace in place when the exact query text is already indexed.
	for i := range s.entries {
		if s.entries[i].query == query {
			s.entries[i] = semanticEntry{query: query, embedding: embedding, response: resp, expiresAt: expiresAt}
			return
		}
	}

	s.entries = append(s.entries, semanticEntry{
		query:     query,
		embedding: embedding,
		response:  resp,
		expiresAt: expiresAt,
	})
	if len(s.entries) > s.capacity {
		s.entries = s.entries[1:]
	}
}

// search returns the closest live entry's response when its cosine
// similarity reaches the threshold.
func (s *semanticIndex) search(embedding []float32, now time.Time) (*types.Response, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := -1
	bestSim := 0.0
	for i := range s.entries {
		e := &s.entries[i]
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			continue
		}
		sim := embeddings.CosineSimilarity(embedding, e.embedding)
		if sim >= s.threshold && sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if best < 0 {
		return nil, 0, false
	}

	resp := s.entries[best].response
	return &resp, bestSim, true
}

// clear drops every indexed entry. Category invalidation clears wholesale
// because the index is keyed by raw text, not category.
func (s *semanticIndex) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// len returns the number of indexed entries.
func (s *semanticIndex) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
