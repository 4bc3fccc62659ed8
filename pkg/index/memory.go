package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/xhad/sage/internal/models"
	"github.com/xhad/sage/internal/types"
)

const (
	// DefaultTopK is the result count used when callers have no opinion.
	DefaultTopK = 5
	// SimilarityThreshold is the hard relevance floor; results at or below
	// it are never returned.
	SimilarityThreshold = 0.7
)

// Memory is an in-process vector index: one record list per collection,
// exact cosine similarity by linear scan. Collections are independent;
// operations on different collections never block each other.
type Memory struct {
	embedder types.Embedder

	mu          sync.Mutex // guards the collections map and dim
	dim         int
	collections map[string]*collection
}

type collection struct {
	mu      sync.RWMutex
	records []models.VectorRecord
}

func NewMemory(embedder types.Embedder) *Memory {
	return &Memory{
		embedder:    embedder,
		collections: make(map[string]*collection),
	}
}

func (m *Memory) collection(id string, create bool) *collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok && create {
		c = &collection{}
		m.collections[id] = c
	}
	return c
}

// AddRecords embeds each chunk's text and appends the resulting records to
// the collection. All embeddings happen before the collection is touched, so
// a provider failure leaves the index unmodified. Duplicate ids are not
// deduplicated; re-adding is the caller's mistake.
func (m *Memory) AddRecords(ctx context.Context, collectionID string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	if err := m.checkDimensions(vectors); err != nil {
		return err
	}

	records := make([]models.VectorRecord, len(chunks))
	for i, ch := range chunks {
		records[i] = models.VectorRecord{
			ID:       ch.ID,
			Vector:   vectors[i],
			Text:     ch.Text,
			Metadata: ch.Metadata,
		}
	}

	c := m.collection(collectionID, true)
	c.mu.Lock()
	c.records = append(c.records, records...)
	c.mu.Unlock()
	return nil
}

// DeleteRecords removes records by id. Unknown ids are ignored.
func (m *Memory) DeleteRecords(ctx context.Context, collectionID string, ids []string) error {
	c := m.collection(collectionID, false)
	if c == nil || len(ids) == 0 {
		return nil
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	c.mu.Lock()
	kept := c.records[:0]
	for _, rec := range c.records {
		if _, gone := drop[rec.ID]; !gone {
			kept = append(kept, rec)
		}
	}
	c.records = kept
	c.mu.Unlock()
	return nil
}

// ClearCollection drops the entire collection. Searching it afterwards
// returns empty results, not an error.
func (m *Memory) ClearCollection(ctx context.Context, collectionID string) error {
	m.mu.Lock()
	delete(m.collections, collectionID)
	m.mu.Unlock()
	return nil
}

// Search embeds the query and scans the collection, returning at most topK
// results above the similarity threshold, ordered by descending similarity.
func (m *Memory) Search(ctx context.Context, collectionID, query string, topK int) ([]models.RetrievalResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	c := m.collection(collectionID, false)
	if c == nil {
		return nil, nil
	}

	queryVec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	results := make([]models.RetrievalResult, 0, len(c.records))
	for _, rec := range c.records {
		results = append(results, models.RetrievalResult{
			Text:          rec.Text,
			Similarity:    Cosine(queryVec, rec.Vector),
			DocumentName:  rec.Metadata.DocumentName,
			SequenceIndex: rec.Metadata.SequenceIndex,
		})
	}
	c.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if topK < len(results) {
		results = results[:topK]
	}

	filtered := results[:0]
	for _, r := range results {
		if r.Similarity > SimilarityThreshold {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// Count reports how many records a collection holds.
func (m *Memory) Count(collectionID string) int {
	c := m.collection(collectionID, false)
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (m *Memory) checkDimensions(vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vectors {
		if m.dim == 0 {
			m.dim = len(v)
			continue
		}
		if len(v) != m.dim {
			return fmt.Errorf("vector dimension mismatch: got %d, index holds %d", len(v), m.dim)
		}
	}
	return nil
}

// Cosine computes cosine similarity between two vectors, range [-1, 1].
// A zero vector on either side yields 0.
func Cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float32
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
