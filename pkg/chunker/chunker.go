package chunker

import (
	"strings"

	"github.com/xhad/sage/internal/models"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// Chunker splits extracted document text into overlapping, boundary-aware
// segments sized for embedding.
type Chunker struct {
	chunkSize int
	overlap   int
}

func New(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	// overlap >= chunkSize would stall the window
	if overlap >= chunkSize {
		overlap = chunkSize / 2
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// Split walks the text in windows of chunkSize characters, snapping each
// window end to the nearest sentence terminator or newline found within
// overlap distance of the nominal end. Consecutive chunks share up to
// overlap characters. Blank windows are dropped.
func (c *Chunker) Split(text string) []string {
	var chunks []string

	start := 0
	for start < len(text) {
		end := start + c.chunkSize
		if end > len(text) {
			end = len(text)
		}

		windowEnd := end
		if end < len(text) {
			searchFrom := end - c.overlap
			if searchFrom < start {
				searchFrom = start
			}
			if br := nextBoundary(text, searchFrom); br > start && br < end+c.overlap {
				windowEnd = br + 1
			}
		}

		if piece := strings.TrimSpace(text[start:windowEnd]); piece != "" {
			chunks = append(chunks, piece)
		}

		if windowEnd >= len(text) {
			break
		}

		next := windowEnd - c.overlap
		if next <= start {
			// the boundary snap or a large overlap pulled the window
			// backwards; move past the window instead of looping on it
			next = windowEnd
		}
		start = next
	}

	return chunks
}

// ChunkDocument splits a document's text and wraps each piece in a Chunk
// carrying the citation metadata the retrieval layer reports.
func (c *Chunker) ChunkDocument(collectionID, documentID, documentName, text string) []models.Chunk {
	pieces := c.Split(text)

	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{
			CollectionID:  collectionID,
			DocumentID:    documentID,
			Text:          piece,
			SequenceIndex: i,
			Metadata: models.ChunkMetadata{
				DocumentName:  documentName,
				SequenceIndex: i,
				TotalChunks:   len(pieces),
			},
		}
	}
	return chunks
}

// nextBoundary returns the index of the first sentence terminator or newline
// at or after from, or -1 if the rest of the text has neither.
func nextBoundary(text string, from int) int {
	dot := strings.IndexByte(text[from:], '.')
	nl := strings.IndexByte(text[from:], '\n')

	br := -1
	if dot >= 0 {
		br = from + dot
	}
	if nl >= 0 && (br < 0 || from+nl < br) {
		br = from + nl
	}
	return br
}
