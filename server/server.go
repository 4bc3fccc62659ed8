// Package server exposes the chat and knowledge base pipeline over HTTP and
// WebSocket. Streaming chat responses use the data stream line protocol;
// everything else answers with a JSON envelope.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/xhad/sage/internal/logger"
	"github.com/xhad/sage/internal/models"
	"github.com/xhad/sage/internal/types"
	"github.com/xhad/sage/pkg/aistream"
	"github.com/xhad/sage/pkg/chat"
	"github.com/xhad/sage/pkg/ingest"
	"github.com/xhad/sage/pkg/store"
	"github.com/xhad/sage/pkg/webloader"
)

// KnowledgeBaseStore is the document store surface the server needs,
// including collection management.
type KnowledgeBaseStore interface {
	types.DocumentStore
	CreateKnowledgeBase(ctx context.Context, userID, name, description string) (*models.KnowledgeBase, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

const maxUploadBytes = 10 << 20

type Config struct {
	Port           string
	HistoryLimit   int
	PerCollectionK int
	FinalK         int
}

// Server wires the stores, retriever, and model factory into HTTP handlers.
// Each chat request gets its own session, so concurrent conversations do
// not serialize on one turn slot.
type Server struct {
	config    Config
	convs     types.ConversationStore
	docs      KnowledgeBaseStore
	retriever types.Retriever
	factory   types.ModelFactory
	ingester  *ingest.Ingester
	loader    *webloader.Loader
	log       *logger.Logger
}

func New(config Config, convs types.ConversationStore, docs KnowledgeBaseStore, retriever types.Retriever, factory types.ModelFactory, ingester *ingest.Ingester, loader *webloader.Loader, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		config:    config,
		convs:     convs,
		docs:      docs,
		retriever: retriever,
		factory:   factory,
		ingester:  ingester,
		loader:    loader,
		log:       log,
	}
}

func (s *Server) newSession() *chat.Session {
	return chat.NewSession(s.convs, s.retriever, s.factory, s.log, chat.Config{
		HistoryLimit:   s.config.HistoryLimit,
		PerCollectionK: s.config.PerCollectionK,
		FinalK:         s.config.FinalK,
	})
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /api/knowledge-bases", s.handleCreateKB)
	mux.HandleFunc("DELETE /api/knowledge-bases/{id}", s.handleDeleteKB)
	mux.HandleFunc("POST /api/knowledge-bases/{id}/documents", s.handleUpload)
	mux.HandleFunc("POST /api/knowledge-bases/{id}/pages", s.handleLoadPage)
	mux.HandleFunc("DELETE /api/knowledge-bases/{id}/documents/{docID}", s.handleDeleteDocument)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func (s *Server) ListenAndServe() error {
	port := s.config.Port
	if port == "" {
		port = "8080"
	}
	s.log.Info("listening on :%s", port)
	return http.ListenAndServe(":"+port, s.Handler())
}

// userID identifies the caller. Single-tenant deployments fall back to a
// fixed local user.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "local"
}

type chatRequest struct {
	Message          string   `json:"message"`
	ConversationID   string   `json:"conversationId,omitempty"`
	ModelID          string   `json:"modelId,omitempty"`
	KnowledgeBaseIDs []string `json:"knowledgeBaseIds,omitempty"`
}

// handleChat streams one turn as data stream lines. Errors before the first
// fragment are reported as a JSON envelope; later failures become an error
// frame in the stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	turn, err := s.newSession().Send(r.Context(), userID(r), req.Message, chat.SendOptions{
		ConversationID:   req.ConversationID,
		ModelID:          req.ModelID,
		KnowledgeBaseIDs: req.KnowledgeBaseIDs,
	})
	if err != nil {
		writeEnvelope(w, statusFor(err), err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Conversation-Id", turn.ConversationID)
	flusher, _ := w.(http.Flusher)

	sw := aistream.NewWriter(w)
	for chunk := range turn.Chunks() {
		if err := sw.WriteText(chunk); err != nil {
			turn.Cancel()
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := turn.Wait(); err != nil && turn.Status() == chat.StatusErrored {
		sw.WriteError(err.Error())
	}
	if flusher != nil {
		flusher.Flush()
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNoModel):
		return http.StatusPreconditionFailed
	case errors.Is(err, chat.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCreateKB(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeEnvelope(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	kb, err := s.docs.CreateKnowledgeBase(r.Context(), userID(r), req.Name, req.Description)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeEnvelope(w, 0, "created", map[string]string{"id": kb.ID})
}

func (s *Server) handleDeleteKB(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("id")
	if _, err := s.docs.GetKnowledgeBase(r.Context(), kbID, userID(r)); err != nil {
		writeEnvelope(w, http.StatusNotFound, "knowledge base not found", nil)
		return
	}
	if err := s.ingester.DeleteKnowledgeBase(r.Context(), kbID); err != nil {
		writeEnvelope(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeEnvelope(w, 0, "deleted", nil)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("id")

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, "file field is required", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	doc, chunkCount, err := s.ingester.IngestFile(r.Context(), userID(r), kbID, header.Filename, data, nil)
	if err != nil {
		writeEnvelope(w, ingestStatus(err), err.Error(), nil)
		return
	}
	writeEnvelope(w, 0, "ingested", map[string]any{
		"documentId": doc.ID,
		"chunks":     chunkCount,
	})
}

func (s *Server) handleLoadPage(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("id")
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeEnvelope(w, http.StatusBadRequest, "url is required", nil)
		return
	}

	page, err := s.loader.Load(r.Context(), req.URL)
	if err != nil {
		writeEnvelope(w, http.StatusBadGateway, err.Error(), nil)
		return
	}

	name := page.Title
	if name == "" {
		name = page.URL
	}
	doc, chunkCount, err := s.ingester.IngestText(r.Context(), userID(r), kbID, name, page.Content, nil)
	if err != nil {
		writeEnvelope(w, ingestStatus(err), err.Error(), nil)
		return
	}
	writeEnvelope(w, 0, "ingested", map[string]any{
		"documentId": doc.ID,
		"chunks":     chunkCount,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("id")
	if _, err := s.docs.GetKnowledgeBase(r.Context(), kbID, userID(r)); err != nil {
		writeEnvelope(w, http.StatusNotFound, "knowledge base not found", nil)
		return
	}
	if err := s.ingester.DeleteDocument(r.Context(), kbID, r.PathValue("docID")); err != nil {
		writeEnvelope(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeEnvelope(w, 0, "deleted", nil)
}

func ingestStatus(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusUnprocessableEntity
}

// writeEnvelope sends the {statusCode, msg, data} body. statusCode 0 means
// success and is carried as HTTP 200.
func writeEnvelope(w http.ResponseWriter, statusCode int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	httpStatus := statusCode
	if statusCode == 0 {
		httpStatus = http.StatusOK
	}
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(aistream.Envelope{
		StatusCode: statusCode,
		Msg:        msg,
		Data:       data,
	})
}
