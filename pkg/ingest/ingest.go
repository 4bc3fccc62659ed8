// Package ingest runs the document pipeline: extract text, persist the
// document and its chunks, and add the chunks to the vector index. It also
// owns the inverse path, evicting index records when documents go away.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xhad/sage/internal/logger"
	"github.com/xhad/sage/internal/models"
	"github.com/xhad/sage/internal/types"
	"github.com/xhad/sage/pkg/chunker"
	"github.com/xhad/sage/pkg/extract"
)

// MaxContentChars bounds how much of a document's text is kept and chunked.
const MaxContentChars = 100000

const indexBatchSize = 32

// ProgressFunc reports indexing progress as chunks land in the index.
type ProgressFunc func(indexed, total int)

type Ingester struct {
	store    types.DocumentStore
	index    types.VectorIndex
	registry *extract.Registry
	chunker  *chunker.Chunker
	log      *logger.Logger
}

func New(store types.DocumentStore, index types.VectorIndex, registry *extract.Registry, ch *chunker.Chunker, log *logger.Logger) *Ingester {
	if log == nil {
		log = logger.Discard()
	}
	return &Ingester{
		store:    store,
		index:    index,
		registry: registry,
		chunker:  ch,
		log:      log,
	}
}

// IngestFile extracts, stores, chunks, and indexes one uploaded file into
// the given knowledge base. The knowledge base must belong to userID.
func (in *Ingester) IngestFile(ctx context.Context, userID, kbID, filename string, data []byte, progress ProgressFunc) (*models.Document, int, error) {
	text, err := in.registry.Extract(filename, data)
	if err != nil {
		return nil, 0, err
	}

	doc := &models.Document{
		Name:     filepath.Base(filename),
		FileType: strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."),
		FileSize: len(data),
	}
	chunkCount, err := in.ingest(ctx, userID, kbID, doc, text, progress)
	if err != nil {
		return nil, 0, err
	}
	return doc, chunkCount, nil
}

// IngestText indexes already-extracted text, e.g. a fetched web page.
func (in *Ingester) IngestText(ctx context.Context, userID, kbID, name, text string, progress ProgressFunc) (*models.Document, int, error) {
	doc := &models.Document{
		Name:     name,
		FileType: "text",
		FileSize: len(text),
	}
	chunkCount, err := in.ingest(ctx, userID, kbID, doc, text, progress)
	if err != nil {
		return nil, 0, err
	}
	return doc, chunkCount, nil
}

func (in *Ingester) ingest(ctx context.Context, userID, kbID string, doc *models.Document, text string, progress ProgressFunc) (int, error) {
	kb, err := in.store.GetKnowledgeBase(ctx, kbID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load knowledge base: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("document %s has no text content", doc.Name)
	}
	if runes := []rune(text); len(runes) > MaxContentChars {
		text = string(runes[:MaxContentChars])
	}

	doc.CollectionID = kb.ID
	doc.Content = text
	docID, err := in.store.SaveDocument(ctx, doc)
	if err != nil {
		return 0, err
	}

	chunks := in.chunker.ChunkDocument(kb.ID, docID, doc.Name, text)
	if _, err := in.store.SaveChunks(ctx, chunks); err != nil {
		return 0, err
	}

	for start := 0; start < len(chunks); start += indexBatchSize {
		end := start + indexBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := in.index.AddRecords(ctx, kb.ID, chunks[start:end]); err != nil {
			return 0, fmt.Errorf("failed to index chunks: %w", err)
		}
		if progress != nil {
			progress(end, len(chunks))
		}
	}

	in.log.Info("ingested %s: %d chunks into %s", doc.Name, len(chunks), kb.Name)
	return len(chunks), nil
}

// DeleteDocument removes a document's rows and evicts its chunks from the
// index.
func (in *Ingester) DeleteDocument(ctx context.Context, kbID, documentID string) error {
	chunkIDs, err := in.store.DeleteDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if len(chunkIDs) == 0 {
		return nil
	}
	if err := in.index.DeleteRecords(ctx, kbID, chunkIDs); err != nil {
		return fmt.Errorf("failed to remove index records: %w", err)
	}
	return nil
}

// DeleteKnowledgeBase removes a knowledge base, its documents, and its
// entire index collection.
func (in *Ingester) DeleteKnowledgeBase(ctx context.Context, kbID string) error {
	if err := in.store.DeleteKnowledgeBase(ctx, kbID); err != nil {
		return err
	}
	if err := in.index.ClearCollection(ctx, kbID); err != nil {
		return fmt.Errorf("failed to clear index collection: %w", err)
	}
	return nil
}
