package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/sage/internal/models"
	"github.com/xhad/sage/internal/types"
)

var (
	_ types.ConversationStore = (*MemoryStore)(nil)
	_ types.DocumentStore     = (*MemoryStore)(nil)
	_ types.ConversationStore = (*Postgres)(nil)
	_ types.DocumentStore     = (*Postgres)(nil)
)

func TestConversationOwnership(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "Hello there")
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", got.Title)

	_, err = s.GetConversation(ctx, conv.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetConversation(ctx, "missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryLimitAndOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "t")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveUserMessage(ctx, conv.ID, string(rune('a'+i))))
	}

	msgs, err := s.LoadRecentHistory(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "c", msgs[0].Content)
	assert.Equal(t, "e", msgs[2].Content)
}

func TestAssistantMessageKeepsSources(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "t")
	require.NoError(t, err)

	sources := []models.Source{{DocumentName: "guide.md", SequenceIndex: 2, Similarity: 0.91}}
	require.NoError(t, s.SaveAssistantMessage(ctx, conv.ID, "answer", sources))

	msgs, err := s.LoadRecentHistory(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Equal(t, sources, msgs[0].Sources)
}

func TestResolveModelConfig(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cfg, err := s.ResolveModelConfig(ctx, "alice", "")
	require.NoError(t, err)
	assert.Nil(t, cfg, "no config registered yet")

	defID, err := s.SaveModelConfig(ctx, &models.ModelConfig{
		UserID: "alice", Name: "default", Provider: "ollama", Model: "mistral", IsDefault: true,
	})
	require.NoError(t, err)
	otherID, err := s.SaveModelConfig(ctx, &models.ModelConfig{
		UserID: "alice", Name: "fast", Provider: "openai", Model: "gpt-4o-mini",
	})
	require.NoError(t, err)

	cfg, err = s.ResolveModelConfig(ctx, "alice", "")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, defID, cfg.ID)

	cfg, err = s.ResolveModelConfig(ctx, "alice", otherID)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "openai", cfg.Provider)

	cfg, err = s.ResolveModelConfig(ctx, "bob", otherID)
	require.NoError(t, err)
	assert.Nil(t, cfg, "configs are per user")
}

func TestDocumentLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	kb, err := s.CreateKnowledgeBase(ctx, "alice", "docs", "")
	require.NoError(t, err)

	docID, err := s.SaveDocument(ctx, &models.Document{CollectionID: kb.ID, Name: "guide.md", Content: "text"})
	require.NoError(t, err)

	ids, err := s.SaveChunks(ctx, []models.Chunk{
		{CollectionID: kb.ID, DocumentID: docID, Text: "one", SequenceIndex: 0},
		{CollectionID: kb.ID, DocumentID: docID, Text: "two", SequenceIndex: 1},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	deleted, err := s.DeleteDocument(ctx, docID)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, deleted)

	_, ok := s.Document(docID)
	assert.False(t, ok)
}

func TestDeleteKnowledgeBase(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	kb, err := s.CreateKnowledgeBase(ctx, "alice", "docs", "everything")
	require.NoError(t, err)

	docID, err := s.SaveDocument(ctx, &models.Document{CollectionID: kb.ID, Name: "a.txt"})
	require.NoError(t, err)
	_, err = s.SaveChunks(ctx, []models.Chunk{{CollectionID: kb.ID, DocumentID: docID, Text: "x"}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteKnowledgeBase(ctx, kb.ID))

	_, err = s.GetKnowledgeBase(ctx, kb.ID, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok := s.Document(docID)
	assert.False(t, ok)
}
