package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/sage/pkg/chunker"
	"github.com/xhad/sage/pkg/extract"
	"github.com/xhad/sage/pkg/index"
	"github.com/xhad/sage/pkg/store"
)

// flatEmbedder maps every text to the same unit vector so every stored
// chunk matches every query.
type flatEmbedder struct{}

func (flatEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (e flatEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func newTestIngester(t *testing.T) (*Ingester, *store.MemoryStore, *index.Memory, string) {
	t.Helper()
	st := store.NewMemoryStore()
	idx := index.NewMemory(flatEmbedder{})
	in := New(st, idx, extract.NewRegistry(), chunker.New(1000, 200), nil)

	kb, err := st.CreateKnowledgeBase(context.Background(), "alice", "docs", "")
	require.NoError(t, err)
	return in, st, idx, kb.ID
}

func TestIngestFile(t *testing.T) {
	in, st, idx, kbID := newTestIngester(t)
	ctx := context.Background()

	var lastIndexed, lastTotal int
	doc, count, err := in.IngestFile(ctx, "alice", kbID, "/tmp/guide.txt", []byte("short document text"), func(indexed, total int) {
		lastIndexed, lastTotal = indexed, total
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "guide.txt", doc.Name)
	assert.Equal(t, "txt", doc.FileType)

	stored, ok := st.Document(doc.ID)
	require.True(t, ok)
	assert.Equal(t, "short document text", stored.Content)

	assert.Equal(t, 1, idx.Count(kbID))
	assert.Equal(t, lastTotal, lastIndexed)
	assert.Equal(t, count, lastTotal)

	results, err := idx.Search(ctx, kbID, "anything", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "guide.txt", results[0].DocumentName)
}

func TestIngestCapsContent(t *testing.T) {
	in, st, idx, kbID := newTestIngester(t)

	big := strings.Repeat("a", MaxContentChars+5000)
	doc, count, err := in.IngestFile(context.Background(), "alice", kbID, "big.txt", []byte(big), nil)
	require.NoError(t, err)

	stored, ok := st.Document(doc.ID)
	require.True(t, ok)
	assert.Len(t, stored.Content, MaxContentChars)
	assert.Greater(t, count, 1)
	assert.Equal(t, count, idx.Count(kbID))
}

func TestIngestUnsupportedFile(t *testing.T) {
	in, _, _, kbID := newTestIngester(t)
	_, _, err := in.IngestFile(context.Background(), "alice", kbID, "deck.pptx", []byte("x"), nil)
	assert.ErrorIs(t, err, extract.ErrUnsupportedFileType)
}

func TestIngestRequiresOwnedKnowledgeBase(t *testing.T) {
	in, _, _, kbID := newTestIngester(t)
	_, _, err := in.IngestFile(context.Background(), "mallory", kbID, "a.txt", []byte("text"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngestEmptyText(t *testing.T) {
	in, _, _, kbID := newTestIngester(t)
	_, _, err := in.IngestFile(context.Background(), "alice", kbID, "blank.txt", []byte("   \n  "), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text content")
}

func TestDeleteDocumentEvictsIndex(t *testing.T) {
	in, _, idx, kbID := newTestIngester(t)
	ctx := context.Background()

	doc, _, err := in.IngestFile(ctx, "alice", kbID, "a.txt", []byte("some text to index"), nil)
	require.NoError(t, err)
	require.Equal(t, 1, idx.Count(kbID))

	require.NoError(t, in.DeleteDocument(ctx, kbID, doc.ID))
	assert.Equal(t, 0, idx.Count(kbID))
}

func TestDeleteKnowledgeBaseClearsIndex(t *testing.T) {
	in, st, idx, kbID := newTestIngester(t)
	ctx := context.Background()

	_, _, err := in.IngestFile(ctx, "alice", kbID, "a.txt", []byte("some text"), nil)
	require.NoError(t, err)

	require.NoError(t, in.DeleteKnowledgeBase(ctx, kbID))
	assert.Equal(t, 0, idx.Count(kbID))
	_, err = st.GetKnowledgeBase(ctx, kbID, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
