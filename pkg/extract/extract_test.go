package extract

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainTextPassthrough(t *testing.T) {
	r := NewRegistry()
	text, err := r.Extract("notes.txt", []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	text, err = r.Extract("README.md", []byte("# Title\n\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", text)
}

func TestInvalidUTF8Dropped(t *testing.T) {
	r := NewRegistry()
	text, err := r.Extract("notes.txt", []byte("ab\xffcd"))
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(text))
	assert.Equal(t, "abcd", text)
}

func TestHTMLStripped(t *testing.T) {
	r := NewRegistry()
	html := `<html><head><title>t</title><style>p{color:red}</style></head>
<body><script>alert(1)</script><h1>Heading</h1><p>Some   body text.</p></body></html>`
	text, err := r.Extract("page.html", []byte(html))
	require.NoError(t, err)
	assert.Contains(t, text, "Heading")
	assert.Contains(t, text, "Some body text.")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color:red")
}

func TestUnsupportedExtension(t *testing.T) {
	r := NewRegistry()
	_, err := r.Extract("slides.pptx", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
	assert.False(t, r.Supported("slides.pptx"))
}

func TestRegisterCustomExtractor(t *testing.T) {
	r := NewRegistry()
	r.Register(".csv", func(data []byte) (string, error) {
		return "csv:" + string(data), nil
	})
	require.True(t, r.Supported("data.CSV"))
	text, err := r.Extract("data.csv", []byte("a,b"))
	require.NoError(t, err)
	assert.Equal(t, "csv:a,b", text)
}
