package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xhad/sage/internal/models"
	"github.com/xhad/sage/pkg/aistream"
)

// RemoteModel streams chat completions from an HTTP endpoint that speaks
// the data stream line protocol. Non-streaming error responses arrive as a
// JSON envelope body instead.
type RemoteModel struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewRemoteModel(endpoint, apiKey string) *RemoteModel {
	return &RemoteModel{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

type remoteRequest struct {
	System   string               `json:"system,omitempty"`
	Messages []models.ChatMessage `json:"messages"`
}

func (m *RemoteModel) StreamText(ctx context.Context, system string, msgs []models.ChatMessage, fn func(ctx context.Context, chunk []byte) error) (string, error) {
	body, err := json.Marshal(remoteRequest{System: system, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		env, err := aistream.DecodeEnvelope(resp.Body)
		if err != nil {
			return "", err
		}
		if err := env.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("unexpected non-streaming response")
	}

	var sb strings.Builder
	dec := aistream.NewDecoder(resp.Body)
	for {
		frag, err := dec.Next()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(frag)
		if fn != nil {
			if err := fn(ctx, []byte(frag)); err != nil {
				return sb.String(), err
			}
		}
	}
}
