package main

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/sage/internal/models"
	"github.com/xhad/sage/internal/types"
	"github.com/xhad/sage/pkg/chat"
	"github.com/xhad/sage/pkg/store"
)

// blockingModel streams nothing and holds the turn open until its
// context is cancelled.
type blockingModel struct{}

func (m *blockingModel) StreamText(ctx context.Context, system string, msgs []models.ChatMessage, fn func(ctx context.Context, chunk []byte) error) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type blockingFactory struct{}

func (f *blockingFactory) ModelFor(cfg *models.ModelConfig) (types.StreamModel, error) {
	return &blockingModel{}, nil
}

type noRetriever struct{}

func (r *noRetriever) Retrieve(ctx context.Context, collectionIDs []string, query string, perCollectionK, finalK int) (string, []models.Source, error) {
	return "", nil, nil
}

func newInterruptSession(t *testing.T) (*chat.Session, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	_, err := mem.SaveModelConfig(context.Background(), &models.ModelConfig{
		UserID:    localUser,
		Name:      "cli",
		Provider:  "ollama",
		Model:     "llama3",
		IsDefault: true,
	})
	require.NoError(t, err)
	return chat.NewSession(mem, &noRetriever{}, &blockingFactory{}, nil, chat.Config{}), mem
}

func TestInterruptCancelsInFlightTurn(t *testing.T) {
	session, mem := newInterruptSession(t)

	turn, err := session.Send(context.Background(), localUser, "hello", chat.SendOptions{})
	require.NoError(t, err)

	var active = turn
	take := func() *chat.Turn {
		cur := active
		active = nil
		return cur
	}
	exited := make(chan struct{})

	sigs := make(chan os.Signal, 1)
	go cancelOnInterrupt(sigs, take, func() { close(exited) })

	sigs <- os.Interrupt
	for chunk := range turn.Chunks() {
		_ = chunk
	}
	err = turn.Wait()
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, chat.StatusAborted, turn.Status())

	// only the user message made it to the store
	msgs := mem.Messages(turn.ConversationID)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)

	// a second interrupt finds no turn and exits
	sigs <- os.Interrupt
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("expected exit after interrupt with no active turn")
	}
}

func TestInterruptWithoutActiveTurnExits(t *testing.T) {
	exited := make(chan struct{})
	sigs := make(chan os.Signal, 1)
	go cancelOnInterrupt(sigs, func() *chat.Turn { return nil }, func() { close(exited) })

	sigs <- os.Interrupt
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("expected exit when no turn is in flight")
	}
}
