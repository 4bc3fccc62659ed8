package webloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadExtractsMainContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title> Docs </title></head>
<body><nav>Home About</nav>
<main>
<h1>Getting   Started</h1>
<p>Install the thing.</p>
</main>
<footer>Privacy Policy</footer></body></html>`))
	}))
	defer srv.Close()

	page, err := New().Load(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Docs", page.Title)
	assert.Equal(t, "Getting Started Install the thing.", page.Content)
	assert.NotContains(t, page.Content, "Home About")
}

func TestLoadFallsBackToBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>plain body text</p></body></html>`))
	}))
	defer srv.Close()

	page, err := New().Load(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "plain body text", page.Content)
}

func TestLoadNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := New().Load(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestLoadEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><script>only()</script></body></html>`))
	}))
	defer srv.Close()

	_, err := New().Load(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text content")
}

func TestLoadUserAgentHeader(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`<html><body>ok</body></html>`))
	}))
	defer srv.Close()

	l := NewWithConfig(LoaderConfig{UserAgent: "sage-loader/1.0"})
	_, err := l.Load(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "sage-loader/1.0", gotUA)
}
