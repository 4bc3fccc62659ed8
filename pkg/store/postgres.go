// Package store persists conversations, messages, model configurations,
// knowledge bases, and documents. Postgres backs production use; the memory
// store backs tests and single-process setups.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xhad/sage/internal/models"
)

// ErrNotFound signals a lookup for a row that does not exist or is not
// owned by the requesting user.
var ErrNotFound = errors.New("not found")

type PostgresConfig struct {
	ConnString string
}

// Postgres implements the conversation and document stores on pgx.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(config PostgresConfig) (*Postgres, error) {
	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	s := &Postgres{pool: pool}
	if err := s.initialize(); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) initialize() error {
	ctx := context.Background()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			sources JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx
			ON messages (conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS model_configs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			api_key TEXT,
			base_url TEXT,
			temperature DOUBLE PRECISION NOT NULL DEFAULT 0.7,
			max_tokens INTEGER NOT NULL DEFAULT 2000,
			is_default BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_bases (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			collection_id TEXT NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			content TEXT,
			file_type TEXT,
			file_size INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			collection_id TEXT NOT NULL,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			sequence_index INTEGER NOT NULL,
			metadata JSONB
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %v", err)
		}
	}
	return nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at) VALUES ($1, $2, $3, $4)`,
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Postgres) GetConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at FROM conversations WHERE id = $1 AND user_id = $2`,
		conversationID, userID).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

func (s *Postgres) SaveUserMessage(ctx context.Context, conversationID, text string) error {
	return s.insertMessage(ctx, conversationID, models.RoleUser, text, nil)
}

func (s *Postgres) SaveAssistantMessage(ctx context.Context, conversationID, text string, sources []models.Source) error {
	return s.insertMessage(ctx, conversationID, models.RoleAssistant, text, sources)
}

func (s *Postgres) insertMessage(ctx context.Context, conversationID, role, text string, sources []models.Source) error {
	var sourcesJSON []byte
	if len(sources) > 0 {
		var err error
		sourcesJSON, err = json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("failed to encode sources: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, sources, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), conversationID, role, text, sourcesJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save %s message: %w", role, err)
	}
	return nil
}

// LoadRecentHistory returns the last limit messages of a conversation in
// chronological order.
func (s *Postgres) LoadRecentHistory(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, sources, created_at
		 FROM (
			SELECT * FROM messages WHERE conversation_id = $1
			ORDER BY created_at DESC LIMIT $2
		 ) recent
		 ORDER BY created_at ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		var sourcesJSON []byte
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &sourcesJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &msg.Sources); err != nil {
				return nil, fmt.Errorf("failed to decode sources: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ResolveModelConfig returns the named config when modelID is set, the
// user's default otherwise. (nil, nil) means no model is configured.
func (s *Postgres) ResolveModelConfig(ctx context.Context, userID, modelID string) (*models.ModelConfig, error) {
	query := `SELECT id, user_id, name, provider, model, api_key, base_url, temperature, max_tokens, is_default
		FROM model_configs WHERE user_id = $1 AND is_default ORDER BY id LIMIT 1`
	args := []any{userID}
	if modelID != "" {
		query = `SELECT id, user_id, name, provider, model, api_key, base_url, temperature, max_tokens, is_default
			FROM model_configs WHERE user_id = $1 AND id = $2`
		args = append(args, modelID)
	}

	var cfg models.ModelConfig
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&cfg.ID, &cfg.UserID, &cfg.Name, &cfg.Provider, &cfg.Model,
		&cfg.APIKey, &cfg.BaseURL, &cfg.Temperature, &cfg.MaxTokens, &cfg.IsDefault)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model config: %w", err)
	}
	return &cfg, nil
}

// SaveModelConfig inserts or updates a model configuration.
func (s *Postgres) SaveModelConfig(ctx context.Context, cfg *models.ModelConfig) (string, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO model_configs (id, user_id, name, provider, model, api_key, base_url, temperature, max_tokens, is_default)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, provider = EXCLUDED.provider, model = EXCLUDED.model,
			api_key = EXCLUDED.api_key, base_url = EXCLUDED.base_url,
			temperature = EXCLUDED.temperature, max_tokens = EXCLUDED.max_tokens,
			is_default = EXCLUDED.is_default`,
		cfg.ID, cfg.UserID, cfg.Name, cfg.Provider, cfg.Model,
		cfg.APIKey, cfg.BaseURL, cfg.Temperature, cfg.MaxTokens, cfg.IsDefault)
	if err != nil {
		return "", fmt.Errorf("failed to save model config: %w", err)
	}
	return cfg.ID, nil
}

func (s *Postgres) GetKnowledgeBase(ctx context.Context, kbID, userID string) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, description, created_at FROM knowledge_bases WHERE id = $1 AND user_id = $2`,
		kbID, userID).Scan(&kb.ID, &kb.UserID, &kb.Name, &kb.Description, &kb.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}
	return &kb, nil
}

// CreateKnowledgeBase registers a new named collection for a user.
func (s *Postgres) CreateKnowledgeBase(ctx context.Context, userID, name, description string) (*models.KnowledgeBase, error) {
	kb := &models.KnowledgeBase{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO knowledge_bases (id, user_id, name, description, created_at) VALUES ($1, $2, $3, $4, $5)`,
		kb.ID, kb.UserID, kb.Name, kb.Description, kb.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge base: %w", err)
	}
	return kb, nil
}

func (s *Postgres) SaveDocument(ctx context.Context, doc *models.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, collection_id, name, content, file_type, file_size, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.CollectionID, doc.Name, doc.Content, doc.FileType, doc.FileSize, doc.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to save document: %w", err)
	}
	return doc.ID, nil
}

func (s *Postgres) SaveChunks(ctx context.Context, chunks []models.Chunk) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]string, 0, len(chunks))
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = uuid.New().String()
		}
		metadataJSON, err := json.Marshal(chunks[i].Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode chunk metadata: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO chunks (id, collection_id, document_id, content, sequence_index, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			chunks[i].ID, chunks[i].CollectionID, chunks[i].DocumentID,
			chunks[i].Text, chunks[i].SequenceIndex, metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to save chunk %d: %w", i, err)
		}
		ids = append(ids, chunks[i].ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit chunks: %w", err)
	}
	return ids, nil
}

// DeleteDocument removes a document and its chunks, returning the deleted
// chunk ids so the caller can evict them from the vector index.
func (s *Postgres) DeleteDocument(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return nil, fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID); err != nil {
		return nil, fmt.Errorf("failed to delete document: %w", err)
	}
	return ids, nil
}

func (s *Postgres) DeleteKnowledgeBase(ctx context.Context, kbID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE collection_id = $1`, kbID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, kbID); err != nil {
		return fmt.Errorf("failed to delete knowledge base: %w", err)
	}
	return nil
}
