package aistream

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, d *Decoder) (string, error) {
	t.Helper()
	var sb strings.Builder
	for {
		frag, err := d.Next()
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(frag)
	}
}

func TestDecoderAssemblesTextFrames(t *testing.T) {
	d := NewDecoder(strings.NewReader("0:\"Hel\"\n0:\"lo\"\n"))
	got, err := drain(t, d)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "Hello", got)
}

func TestDecoderErrorFrame(t *testing.T) {
	d := NewDecoder(strings.NewReader("0:\"partial\"\n3:\"overloaded\"\n0:\"never seen\"\n"))

	frag, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "partial", frag)

	_, err = d.Next()
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "overloaded", streamErr.Message)
}

func TestDecoderSkipsUnknownFrames(t *testing.T) {
	d := NewDecoder(strings.NewReader("8:{\"meta\":1}\n0:\"ok\"\nnoise\n"))
	got, err := drain(t, d)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "ok", got)
}

func TestDecoderUnquoteFallback(t *testing.T) {
	// payload with a stray interior quote is not valid JSON; fall back to
	// trimming the surrounding quotes
	d := NewDecoder(strings.NewReader(`0:"he said "hi""` + "\n"))
	frag, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, `he said "hi"`, frag)
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteText("line one\nwith newline"))
	require.NoError(t, w.WriteText("two"))
	require.NoError(t, w.WriteError("boom"))

	d := NewDecoder(&buf)
	frag, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "line one\nwith newline", frag)
	frag, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, "two", frag)

	_, err = d.Next()
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "boom", streamErr.Message)
}

func TestEnvelope(t *testing.T) {
	env, err := DecodeEnvelope(strings.NewReader(`{"statusCode":500,"msg":"model not configured"}`))
	require.NoError(t, err)
	require.Error(t, env.Err())
	assert.Contains(t, env.Err().Error(), "model not configured")

	env, err = DecodeEnvelope(strings.NewReader(`{"statusCode":0,"msg":"ok","data":{"id":"abc"}}`))
	require.NoError(t, err)
	assert.NoError(t, env.Err())

	_, err = DecodeEnvelope(strings.NewReader("not json"))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF))
}
