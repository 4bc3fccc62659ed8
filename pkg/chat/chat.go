// Package chat runs streaming conversation turns: persist the user message,
// gather retrieval context, stream the model response, and persist the
// outcome. One turn per session may be in flight at a time.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xhad/sage/internal/logger"
	"github.com/xhad/sage/internal/models"
	"github.com/xhad/sage/internal/types"
)

var (
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrTurnInProgress = errors.New("a turn is already in progress")
	ErrNoModel        = errors.New("no model configured")
)

// Status is a turn's position in its lifecycle. A turn moves forward only;
// Completed, Aborted, and Errored are terminal.
type Status string

const (
	StatusAwaitingModel Status = "awaiting_model"
	StatusStreaming     Status = "streaming"
	StatusCompleted     Status = "completed"
	StatusAborted       Status = "aborted"
	StatusErrored       Status = "errored"
)

const (
	defaultHistoryLimit = 20
	titleMaxChars       = 50
)

type Config struct {
	HistoryLimit   int
	PerCollectionK int
	FinalK         int
}

// Session coordinates turns for one user-facing chat client.
type Session struct {
	store     types.ConversationStore
	retriever types.Retriever
	factory   types.ModelFactory
	log       *logger.Logger

	historyLimit   int
	perCollectionK int
	finalK         int

	mu     sync.Mutex
	active *Turn
}

func NewSession(store types.ConversationStore, retriever types.Retriever, factory types.ModelFactory, log *logger.Logger, config Config) *Session {
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = defaultHistoryLimit
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Session{
		store:          store,
		retriever:      retriever,
		factory:        factory,
		log:            log,
		historyLimit:   config.HistoryLimit,
		perCollectionK: config.PerCollectionK,
		finalK:         config.FinalK,
	}
}

// SendOptions selects the conversation, model, and knowledge bases for a
// turn. Zero values mean: start a new conversation, use the default model,
// skip retrieval.
type SendOptions struct {
	ConversationID   string
	ModelID          string
	KnowledgeBaseIDs []string
}

// Send runs the synchronous part of a turn (persist user message, load
// history, resolve model, retrieve context) and starts streaming in the
// background. The returned Turn exposes the fragment channel and outcome.
//
// Cancelling ctx or calling Turn.Cancel aborts the stream; an aborted turn
// persists no assistant message.
func (s *Session) Send(ctx context.Context, userID, text string, opts SendOptions) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	// reserve the slot; replaced with the real turn below
	placeholder := &Turn{}
	s.active = placeholder
	s.mu.Unlock()

	turn, err := s.beginTurn(ctx, userID, text, opts)

	s.mu.Lock()
	if err != nil {
		s.active = nil
	} else {
		s.active = turn
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	go s.stream(turn)
	return turn, nil
}

func (s *Session) beginTurn(ctx context.Context, userID, text string, opts SendOptions) (*Turn, error) {
	conv, err := s.resolveConversation(ctx, userID, text, opts.ConversationID)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveUserMessage(ctx, conv.ID, text); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	history, err := s.store.LoadRecentHistory(ctx, conv.ID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	modelCfg, err := s.store.ResolveModelConfig(ctx, userID, opts.ModelID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model config: %w", err)
	}
	if modelCfg == nil {
		return nil, ErrNoModel
	}

	model, err := s.factory.ModelFor(modelCfg)
	if err != nil {
		return nil, err
	}

	var contextBlock string
	var sources []models.Source
	if len(opts.KnowledgeBaseIDs) > 0 {
		contextBlock, sources, err = s.retriever.Retrieve(ctx, opts.KnowledgeBaseIDs, text, s.perCollectionK, s.finalK)
		if err != nil {
			return nil, fmt.Errorf("retrieval failed: %w", err)
		}
	}

	msgs := make([]models.ChatMessage, 0, len(history))
	for _, msg := range history {
		msgs = append(msgs, models.ChatMessage{Role: msg.Role, Content: msg.Content})
	}

	turnCtx, cancel := context.WithCancel(ctx)
	return &Turn{
		ConversationID: conv.ID,
		model:          model,
		system:         systemPrompt(contextBlock),
		msgs:           msgs,
		sources:        sources,
		status:         StatusAwaitingModel,
		chunks:         make(chan string, 16),
		done:           make(chan struct{}),
		ctx:            turnCtx,
		cancel:         cancel,
	}, nil
}

func (s *Session) resolveConversation(ctx context.Context, userID, text, conversationID string) (*models.Conversation, error) {
	if conversationID != "" {
		conv, err := s.store.GetConversation(ctx, conversationID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
		return conv, nil
	}
	conv, err := s.store.CreateConversation(ctx, userID, conversationTitle(text))
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// conversationTitle derives a new conversation's title from its first
// message.
func conversationTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleMaxChars {
		return text
	}
	return string(runes[:titleMaxChars]) + "..."
}

func systemPrompt(contextBlock string) string {
	if contextBlock == "" {
		return "You are a helpful assistant."
	}
	return fmt.Sprintf(`You are a helpful assistant. Answer using the numbered context entries below. Cite the entries you rely on with bracketed numbers such as [1] or [2]. If the context does not contain the answer, say so.

Context:
%s`, contextBlock)
}

// stream runs a turn's model call to its terminal state.
func (s *Session) stream(t *Turn) {
	defer func() {
		close(t.chunks)
		close(t.done)
		t.cancel()
		s.mu.Lock()
		if s.active == t {
			s.active = nil
		}
		s.mu.Unlock()
	}()

	full, err := t.model.StreamText(t.ctx, t.system, t.msgs, func(ctx context.Context, chunk []byte) error {
		t.setStatus(StatusStreaming)
		select {
		case t.chunks <- string(chunk):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	switch {
	case t.ctx.Err() != nil:
		// cancelled; leave the conversation exactly one message ahead
		t.finish(StatusAborted, full, context.Canceled)
		s.log.Info("turn aborted: conversation=%s", t.ConversationID)
	case err != nil:
		t.finish(StatusErrored, full, err)
		s.log.Error("turn failed: conversation=%s err=%v", t.ConversationID, err)
		errText := fmt.Sprintf("The model returned an error: %s", err.Error())
		if saveErr := s.store.SaveAssistantMessage(context.Background(), t.ConversationID, errText, nil); saveErr != nil {
			s.log.Error("failed to persist error message: %v", saveErr)
		}
	default:
		if saveErr := s.store.SaveAssistantMessage(context.Background(), t.ConversationID, full, t.sources); saveErr != nil {
			t.finish(StatusErrored, full, saveErr)
			s.log.Error("failed to persist assistant message: %v", saveErr)
			return
		}
		t.finish(StatusCompleted, full, nil)
	}
}

// Turn is one in-flight or finished exchange.
type Turn struct {
	ConversationID string

	model  types.StreamModel
	system string
	msgs   []models.ChatMessage

	chunks chan string
	done   chan struct{}

	ctx        context.Context
	cancel     context.CancelFunc
	cancelOnce sync.Once

	mu      sync.Mutex
	status  Status
	text    string
	sources []models.Source
	err     error
}

// Chunks yields response fragments in arrival order. The channel closes
// when the turn reaches a terminal state.
func (t *Turn) Chunks() <-chan string {
	return t.chunks
}

// Cancel aborts the stream. Safe to call more than once; calls after the
// turn finished are no-ops.
func (t *Turn) Cancel() {
	t.cancelOnce.Do(func() {
		select {
		case <-t.done:
		default:
			t.cancel()
		}
	})
}

// Wait blocks until the turn is terminal and returns its error, if any.
func (t *Turn) Wait() error {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Turn) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Result returns the accumulated response text and the sources cited by it.
// Meaningful once the turn is terminal.
func (t *Turn) Result() (string, []models.Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text, t.sources
}

func (t *Turn) setStatus(status Status) {
	t.mu.Lock()
	if t.status != StatusCompleted && t.status != StatusAborted && t.status != StatusErrored {
		t.status = status
	}
	t.mu.Unlock()
}

func (t *Turn) finish(status Status, text string, err error) {
	t.mu.Lock()
	t.status = status
	t.text = text
	t.err = err
	if status != StatusCompleted {
		t.sources = nil
	}
	t.mu.Unlock()
}
