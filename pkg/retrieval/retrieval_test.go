package retrieval

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticReader struct {
	text string
	err  error
}

func (s staticReader) ReadText(ctx context.Context, url string) (string, error) {
	return s.text, s.err
}

func TestChunk(t *testing.T) {
	t.Run("packs lines", func(t *testing.T) {
		chunks := Chunk("aaa\nbbb\n\nccc", 7)
		assert.Equal(t, []string{"aaa\nbbb", "ccc"}, chunks)
	})

	t.Run("splits long lines on words", func(t *testing.T) {
		chunks := Chunk("one two three four", 9)
		assert.Equal(t, []string{"one two", "three", "four"}, chunks)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Chunk(" \n ", 10))
	})
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"book", "flight", "paris"}, Terms("Please book the flight to Paris, the flight!"))
}

func TestSelect(t *testing.T) {
	chunks := []string{
		"intro about nothing",
		"flight booking to paris",
		"weather report",
		"paris hotels",
	}

	t.Run("everything fits", func(t *testing.T) {
		assert.Equal(t, chunks, Select(chunks, "paris", 1000))
	})

	t.Run("top chunks in document order", func(t *testing.T) {
		got := Select(chunks, "book a flight to paris", 30)
		assert.Equal(t, []string{"flight booking to paris"}, got)

		got = Select(chunks, "paris", 40)
		assert.Equal(t, []string{"flight booking to paris", "paris hotels"}, got)
	})
}

func TestRetriever(t *testing.T) {
	t.Run("requires reader", func(t *testing.T) {
		_, err := New(Config{})
		assert.Error(t, err)
	})

	t.Run("returns relevant text", func(t *testing.T) {
		page := strings.Repeat("filler line\n", 50) + "checkout requires a coupon code\n"
		r, err := New(Config{Reader: staticReader{text: page}, ChunkSize: 40, MaxChars: 60, Logger: zerolog.Nop()})
		require.NoError(t, err)

		got, err := r.Retrieve(context.Background(), "https://x.test", "apply the coupon at checkout")

		require.NoError(t, err)
		assert.Contains(t, got, "coupon code")
	})

	t.Run("reader failure", func(t *testing.T) {
		r, err := New(Config{Reader: staticReader{err: errors.New("boom")}, Logger: zerolog.Nop()})
		require.NoError(t, err)

		_, err = r.Retrieve(context.Background(), "https://x.test", "q")
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("empty page", func(t *testing.T) {
		r, err := New(Config{Reader: staticReader{text: "  "}, Logger: zerolog.Nop()})
		require.NoError(t, err)

		_, err = r.Retrieve(context.Background(), "https://x.test", "q")
		assert.ErrorContains(t, err, "no text")
	})
}

func TestHTTPReader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<html><head><title>T</title><style>p{}</style></head>
<body><h1>Guide</h1><p>Step   one.</p><script>var x = 1;</script><ul><li>a</li><li>b</li></ul></body></html>`))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("just text"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	reader := NewHTTPReader(5 * time.Second)

	text, err := reader.ReadText(context.Background(), server.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, "Guide\nStep one.\na\nb", text)

	text, err = reader.ReadText(context.Background(), server.URL+"/plain")
	require.NoError(t, err)
	assert.Equal(t, "just text", text)

	_, err = reader.ReadText(context.Background(), server.URL+"/missing")
	assert.ErrorContains(t, err, "status 404")
}
