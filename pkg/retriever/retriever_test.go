package retriever_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/sage/internal/models"
	"github.com/xhad/sage/pkg/retriever"
)

// cannedIndex returns fixed per-collection results and records the topK it
// was asked for.
type cannedIndex struct {
	results map[string][]models.RetrievalResult
	topKs   []int
	fail    bool
}

func (c *cannedIndex) AddRecords(ctx context.Context, collectionID string, chunks []models.Chunk) error {
	return nil
}

func (c *cannedIndex) DeleteRecords(ctx context.Context, collectionID string, ids []string) error {
	return nil
}

func (c *cannedIndex) ClearCollection(ctx context.Context, collectionID string) error {
	return nil
}

func (c *cannedIndex) Search(ctx context.Context, collectionID, query string, topK int) ([]models.RetrievalResult, error) {
	if c.fail {
		return nil, errors.New("search exploded")
	}
	c.topKs = append(c.topKs, topK)
	return c.results[collectionID], nil
}

func TestRetrieveMergesAndRanksAcrossCollections(t *testing.T) {
	idx := &cannedIndex{results: map[string][]models.RetrievalResult{
		"A": {{Text: "v1", Similarity: 0.9, DocumentName: "a.md", SequenceIndex: 0}},
		"B": {{Text: "v2", Similarity: 0.8, DocumentName: "b.md", SequenceIndex: 4}},
	}}
	r := retriever.New(idx)

	block, sources, err := r.Retrieve(context.Background(), []string{"A", "B"}, "query", 3, 5)
	require.NoError(t, err)

	require.Len(t, sources, 2)
	assert.Equal(t, "a.md", sources[0].DocumentName)
	assert.Equal(t, "b.md", sources[1].DocumentName)
	assert.Equal(t, float32(0.9), sources[0].Similarity)
	assert.Equal(t, 4, sources[1].SequenceIndex)

	assert.Equal(t, "[1] v1\n\n[2] v2", block)
	assert.Equal(t, []int{3, 3}, idx.topKs)
}

func TestRetrieveFinalKCut(t *testing.T) {
	idx := &cannedIndex{results: map[string][]models.RetrievalResult{
		"A": {
			{Text: "a1", Similarity: 0.95},
			{Text: "a2", Similarity: 0.85},
		},
		"B": {
			{Text: "b1", Similarity: 0.9},
			{Text: "b2", Similarity: 0.8},
		},
	}}
	r := retriever.New(idx)

	block, sources, err := r.Retrieve(context.Background(), []string{"A", "B"}, "query", 3, 3)
	require.NoError(t, err)
	require.Len(t, sources, 3)

	assert.True(t, strings.HasPrefix(block, "[1] a1"))
	assert.Contains(t, block, "[2] b1")
	assert.Contains(t, block, "[3] a2")
	assert.NotContains(t, block, "b2")
}

func TestRetrieveStableOnTies(t *testing.T) {
	idx := &cannedIndex{results: map[string][]models.RetrievalResult{
		"A": {{Text: "first", Similarity: 0.8}},
		"B": {{Text: "second", Similarity: 0.8}},
	}}
	r := retriever.New(idx)

	block, _, err := r.Retrieve(context.Background(), []string{"A", "B"}, "query", 3, 5)
	require.NoError(t, err)
	assert.Equal(t, "[1] first\n\n[2] second", block)
}

func TestRetrieveNoCollections(t *testing.T) {
	r := retriever.New(&cannedIndex{})

	block, sources, err := r.Retrieve(context.Background(), nil, "query", 3, 5)
	require.NoError(t, err)
	assert.Empty(t, block)
	assert.Empty(t, sources)
}

func TestRetrieveNothingClearsThreshold(t *testing.T) {
	idx := &cannedIndex{results: map[string][]models.RetrievalResult{}}
	r := retriever.New(idx)

	block, sources, err := r.Retrieve(context.Background(), []string{"A", "B"}, "query", 3, 5)
	require.NoError(t, err)
	assert.Empty(t, block)
	assert.Empty(t, sources)
}

func TestRetrieveSearchError(t *testing.T) {
	r := retriever.New(&cannedIndex{fail: true})

	_, _, err := r.Retrieve(context.Background(), []string{"A"}, "query", 3, 5)
	assert.Error(t, err)
}
