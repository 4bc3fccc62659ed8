package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/xhad/sage/pkg/chat"
)

// Message is the websocket frame for both directions. Client types are
// "chat" and "cancel"; server types are "stream", "done", "aborted", and
// "error".
type Message struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msgType, content string, data any) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = b
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(Message{Type: msgType, Content: content, Data: raw})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	wc := &wsConn{conn: conn}
	session := s.newSession()
	user := userID(r)

	var turnMu sync.Mutex
	var current *chat.Turn

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "chat":
			var opts chatRequest
			if len(msg.Data) > 0 {
				if err := json.Unmarshal(msg.Data, &opts); err != nil {
					wc.send("error", "invalid chat options", nil)
					continue
				}
			}

			turn, err := session.Send(r.Context(), user, msg.Content, chat.SendOptions{
				ConversationID:   opts.ConversationID,
				ModelID:          opts.ModelID,
				KnowledgeBaseIDs: opts.KnowledgeBaseIDs,
			})
			if err != nil {
				wc.send("error", err.Error(), nil)
				continue
			}

			turnMu.Lock()
			current = turn
			turnMu.Unlock()

			go s.relayTurn(wc, turn)
		case "cancel":
			turnMu.Lock()
			if current != nil {
				current.Cancel()
			}
			turnMu.Unlock()
		default:
			wc.send("error", "unknown message type: "+msg.Type, nil)
		}
	}

	// reader is gone, stop any in-flight turn
	turnMu.Lock()
	if current != nil {
		current.Cancel()
	}
	turnMu.Unlock()
}

func (s *Server) relayTurn(wc *wsConn, turn *chat.Turn) {
	for chunk := range turn.Chunks() {
		if err := wc.send("stream", chunk, nil); err != nil {
			turn.Cancel()
			break
		}
	}

	err := turn.Wait()
	switch turn.Status() {
	case chat.StatusCompleted:
		_, sources := turn.Result()
		wc.send("done", "", map[string]any{
			"conversationId": turn.ConversationID,
			"sources":        sources,
		})
	case chat.StatusAborted:
		wc.send("aborted", "", map[string]any{
			"conversationId": turn.ConversationID,
		})
	default:
		content := "stream failed"
		if err != nil {
			content = err.Error()
		}
		wc.send("error", content, nil)
	}
}
