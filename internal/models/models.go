package models

import "time"

// Chunk is a bounded slice of a document's text, the unit of embedding and
// retrieval. Chunks are immutable once created and die with their document.
type Chunk struct {
	ID            string
	CollectionID  string
	DocumentID    string
	Text          string
	SequenceIndex int
	Metadata      ChunkMetadata
}

// ChunkMetadata travels with a chunk into the vector index and back out as a
// citation source.
type ChunkMetadata struct {
	DocumentName  string `json:"documentName"`
	SequenceIndex int    `json:"chunkIndex"`
	TotalChunks   int    `json:"totalChunks"`
}

// VectorRecord is an embedded chunk living inside one collection's index.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata ChunkMetadata
}

// RetrievalResult is one scored hit from a similarity search. Ephemeral,
// never persisted.
type RetrievalResult struct {
	Text          string
	Similarity    float32
	DocumentName  string
	SequenceIndex int
}

// Source is the persisted citation form of a retrieval result, stored
// alongside the assistant message that cited it.
type Source struct {
	DocumentName  string  `json:"documentName"`
	SequenceIndex int     `json:"chunkIndex"`
	Similarity    float32 `json:"similarity"`
}

// Message is one row of a conversation transcript.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Sources        []Source
	CreatedAt      time.Time
}

// ChatMessage is the transient prompt form of a message, what actually goes
// to the model provider.
type ChatMessage struct {
	Role    string
	Content string
}

type Conversation struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
}

// ModelConfig describes one configured model provider endpoint for a user.
type ModelConfig struct {
	ID          string
	UserID      string
	Name        string
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	IsDefault   bool
}

type KnowledgeBase struct {
	ID          string
	UserID      string
	Name        string
	Description string
	CreatedAt   time.Time
}

type Document struct {
	ID           string
	CollectionID string
	Name         string
	Content      string
	FileType     string
	FileSize     int
	CreatedAt    time.Time
}

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
