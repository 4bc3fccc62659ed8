package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xhad/sage/internal/models"
	"github.com/xhad/sage/internal/types"
)

const (
	DefaultPerCollectionK = 3
	DefaultFinalK         = 5
)

// Retriever queries the vector index per collection, merges and re-ranks the
// hits, and renders them into one grounding context block with citation
// indices. The numbering it assigns is the citation contract the model is
// instructed to use; nothing downstream may renumber it.
type Retriever struct {
	index types.VectorIndex
}

func New(index types.VectorIndex) *Retriever {
	return &Retriever{index: index}
}

// Retrieve returns the rendered context block and the sources it cites, in
// rank order. An empty contextBlock means no collection produced a result
// above the relevance threshold.
func (r *Retriever) Retrieve(ctx context.Context, collectionIDs []string, query string, perCollectionK, finalK int) (string, []models.Source, error) {
	if len(collectionIDs) == 0 {
		return "", nil, nil
	}
	if perCollectionK <= 0 {
		perCollectionK = DefaultPerCollectionK
	}
	if finalK <= 0 {
		finalK = DefaultFinalK
	}

	var merged []models.RetrievalResult
	for _, id := range collectionIDs {
		results, err := r.index.Search(ctx, id, query, perCollectionK)
		if err != nil {
			return "", nil, fmt.Errorf("search failed for collection %s: %w", id, err)
		}
		merged = append(merged, results...)
	}

	// stable: ties keep their per-collection order
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if finalK < len(merged) {
		merged = merged[:finalK]
	}

	if len(merged) == 0 {
		return "", nil, nil
	}

	var block strings.Builder
	sources := make([]models.Source, len(merged))
	for i, res := range merged {
		if i > 0 {
			block.WriteString("\n\n")
		}
		fmt.Fprintf(&block, "[%d] %s", i+1, res.Text)

		sources[i] = models.Source{
			DocumentName:  res.DocumentName,
			SequenceIndex: res.SequenceIndex,
			Similarity:    res.Similarity,
		}
	}

	return block.String(), sources, nil
}
