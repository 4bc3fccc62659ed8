package types

import (
	"context"

	"github.com/xhad/sage/internal/models"
)

// Embedder converts text into fixed-dimension vectors. Implementations own
// the truncation policy; callers must not assume the full text was embedded.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex stores embedded chunks per collection and answers cosine
// similarity queries. Search results come back ordered by descending
// similarity with the index's relevance threshold already applied.
type VectorIndex interface {
	AddRecords(ctx context.Context, collectionID string, chunks []models.Chunk) error
	DeleteRecords(ctx context.Context, collectionID string, ids []string) error
	ClearCollection(ctx context.Context, collectionID string) error
	Search(ctx context.Context, collectionID, query string, topK int) ([]models.RetrievalResult, error)
}

// Retriever merges searches across collections into one grounding context
// block with citation numbering. An empty context block means nothing
// cleared the threshold.
type Retriever interface {
	Retrieve(ctx context.Context, collectionIDs []string, query string, perCollectionK, finalK int) (contextBlock string, sources []models.Source, err error)
}

// StreamModel is a streaming text generator. fn is invoked once per chunk in
// arrival order; returning an error from fn aborts the generation. The full
// response text is returned on clean completion.
type StreamModel interface {
	StreamText(ctx context.Context, system string, msgs []models.ChatMessage, fn func(ctx context.Context, chunk []byte) error) (string, error)
}

// ModelFactory builds a StreamModel for a model configuration, selected by
// its provider tag.
type ModelFactory interface {
	ModelFor(cfg *models.ModelConfig) (StreamModel, error)
}

// ConversationStore is the persistence contract the chat core needs.
// ResolveModelConfig returns (nil, nil) when the user has no matching or
// default model.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error)
	SaveUserMessage(ctx context.Context, conversationID, text string) error
	SaveAssistantMessage(ctx context.Context, conversationID, text string, sources []models.Source) error
	LoadRecentHistory(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	ResolveModelConfig(ctx context.Context, userID, modelID string) (*models.ModelConfig, error)
}

// DocumentStore persists knowledge base documents and their chunk rows.
type DocumentStore interface {
	GetKnowledgeBase(ctx context.Context, kbID, userID string) (*models.KnowledgeBase, error)
	SaveDocument(ctx context.Context, doc *models.Document) (string, error)
	SaveChunks(ctx context.Context, chunks []models.Chunk) ([]string, error)
	DeleteDocument(ctx context.Context, documentID string) (chunkIDs []string, err error)
	DeleteKnowledgeBase(ctx context.Context, kbID string) error
}
