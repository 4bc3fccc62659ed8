// Package aistream implements the line-oriented data stream protocol used
// for chat responses: lines prefixed "0:" carry a JSON-quoted text fragment,
// lines prefixed "3:" carry a JSON-quoted error message that terminates the
// stream. Anything else is ignored; the protocol is external and parsed
// defensively.
package aistream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	textPrefix  = "0:"
	errorPrefix = "3:"
)

// StreamError is an explicit error frame received from the stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("model stream error: %s", e.Message)
}

// Decoder reads data-stream lines incrementally.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: sc}
}

// Next returns the next text fragment. It returns io.EOF on clean end of
// stream and *StreamError when an error frame arrives; no further fragments
// follow an error frame. Lines with unknown prefixes are skipped, not fatal.
func (d *Decoder) Next() (string, error) {
	for d.scanner.Scan() {
		line := d.scanner.Text()
		switch {
		case strings.HasPrefix(line, textPrefix):
			return unquote(line[len(textPrefix):]), nil
		case strings.HasPrefix(line, errorPrefix):
			return "", &StreamError{Message: unquote(line[len(errorPrefix):])}
		default:
			// unknown frame type, ignore
		}
	}
	if err := d.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// unquote decodes a JSON-quoted payload, falling back to stripping the
// surrounding quotes when the payload is not valid JSON.
func unquote(s string) string {
	var out string
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out
	}
	return strings.TrimSuffix(strings.TrimPrefix(s, `"`), `"`)
}

// Writer emits data-stream lines.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteText emits one text fragment frame.
func (w *Writer) WriteText(text string) error {
	return w.writeFrame(textPrefix, text)
}

// WriteError emits an error frame. By protocol, nothing should follow it.
func (w *Writer) WriteError(msg string) error {
	return w.writeFrame(errorPrefix, msg)
}

func (w *Writer) writeFrame(prefix, payload string) error {
	quoted, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w.w, "%s%s\n", prefix, quoted)
	return err
}

// Envelope is the non-streaming JSON response body used when a data stream
// is not available. A non-zero StatusCode signals an error with Msg as the
// human-readable reason.
type Envelope struct {
	StatusCode int         `json:"statusCode"`
	Msg        string      `json:"msg"`
	Data       interface{} `json:"data,omitempty"`
}

func DecodeEnvelope(r io.Reader) (*Envelope, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response envelope: %w", err)
	}
	return &env, nil
}

// Err returns the envelope's error, if it carries one.
func (e *Envelope) Err() error {
	if e.StatusCode != 0 {
		return &StreamError{Message: e.Msg}
	}
	return nil
}
