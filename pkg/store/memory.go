package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/sage/internal/models"
)

// MemoryStore keeps all rows in process. It implements the same interfaces
// as Postgres and is safe for concurrent use.
type MemoryStore struct {
	mu             sync.RWMutex
	conversations  map[string]*models.Conversation
	messages       map[string][]models.Message
	modelConfigs   map[string]*models.ModelConfig
	knowledgeBases map[string]*models.KnowledgeBase
	documents      map[string]*models.Document
	chunks         map[string]models.Chunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations:  make(map[string]*models.Conversation),
		messages:       make(map[string][]models.Message),
		modelConfigs:   make(map[string]*models.ModelConfig),
		knowledgeBases: make(map[string]*models.KnowledgeBase),
		documents:      make(map[string]*models.Document),
		chunks:         make(map[string]models.Chunk),
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, userID, title string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := &models.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now(),
	}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID, userID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok || conv.UserID != userID {
		return nil, ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) SaveUserMessage(_ context.Context, conversationID, text string) error {
	s.appendMessage(conversationID, models.RoleUser, text, nil)
	return nil
}

func (s *MemoryStore) SaveAssistantMessage(_ context.Context, conversationID, text string, sources []models.Source) error {
	s.appendMessage(conversationID, models.RoleAssistant, text, sources)
	return nil
}

func (s *MemoryStore) appendMessage(conversationID, role, text string, sources []models.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = append(s.messages[conversationID], models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        text,
		Sources:        sources,
		CreatedAt:      time.Now(),
	})
}

func (s *MemoryStore) LoadRecentHistory(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Messages returns the full transcript of a conversation. Test helper.
func (s *MemoryStore) Messages(conversationID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out
}

func (s *MemoryStore) ResolveModelConfig(_ context.Context, userID, modelID string) (*models.ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if modelID != "" {
		cfg, ok := s.modelConfigs[modelID]
		if !ok || cfg.UserID != userID {
			return nil, nil
		}
		copied := *cfg
		return &copied, nil
	}
	for _, cfg := range s.modelConfigs {
		if cfg.UserID == userID && cfg.IsDefault {
			copied := *cfg
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) SaveModelConfig(_ context.Context, cfg *models.ModelConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	copied := *cfg
	s.modelConfigs[cfg.ID] = &copied
	return cfg.ID, nil
}

func (s *MemoryStore) GetKnowledgeBase(_ context.Context, kbID, userID string) (*models.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kb, ok := s.knowledgeBases[kbID]
	if !ok || kb.UserID != userID {
		return nil, ErrNotFound
	}
	copied := *kb
	return &copied, nil
}

func (s *MemoryStore) CreateKnowledgeBase(_ context.Context, userID, name, description string) (*models.KnowledgeBase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kb := &models.KnowledgeBase{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now(),
	}
	s.knowledgeBases[kb.ID] = kb
	copied := *kb
	return &copied, nil
}

func (s *MemoryStore) SaveDocument(_ context.Context, doc *models.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	copied := *doc
	s.documents[doc.ID] = &copied
	return doc.ID, nil
}

// Document returns a stored document by id. Test helper.
func (s *MemoryStore) Document(documentID string) (*models.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return nil, false
	}
	copied := *doc
	return &copied, true
}

func (s *MemoryStore) SaveChunks(_ context.Context, chunks []models.Chunk) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(chunks))
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = uuid.New().String()
		}
		s.chunks[chunks[i].ID] = chunks[i]
		ids = append(ids, chunks[i].ID)
	}
	return ids, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, documentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, chunk := range s.chunks {
		if chunk.DocumentID == documentID {
			ids = append(ids, id)
			delete(s.chunks, id)
		}
	}
	delete(s.documents, documentID)
	return ids, nil
}

func (s *MemoryStore) DeleteKnowledgeBase(_ context.Context, kbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, chunk := range s.chunks {
		if chunk.CollectionID == kbID {
			delete(s.chunks, id)
		}
	}
	for id, doc := range s.documents {
		if doc.CollectionID == kbID {
			delete(s.documents, id)
		}
	}
	delete(s.knowledgeBases, kbID)
	return nil
}
