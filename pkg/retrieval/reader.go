package retrieval

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DefaultMaxBytes caps how much of a page is downloaded.
const DefaultMaxBytes = 4 << 20

// HTTPReader fetches a page over HTTP and converts HTML to plain text.
type HTTPReader struct {
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
}

// NewHTTPReader creates a reader with the given request timeout.
func NewHTTPReader(timeout time.Duration) *HTTPReader {
	return &HTTPReader{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: "triad/1.0",
		MaxBytes:  DefaultMaxBytes,
	}
}

func (r *HTTPReader) ReadText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	limit := r.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	body := io.LimitReader(resp.Body, limit)

	if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "html") {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", url, err)
		}
		return string(data), nil
	}

	doc, err := html.Parse(body)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", url, err)
	}
	return HTMLText(doc), nil
}

var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true,
	"template": true, "svg": true, "iframe": true,
}

var blocks = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "table": true, "section": true, "article": true, "header": true,
	"footer": true, "pre": true, "blockquote": true, "hr": true, "dd": true, "dt": true,
}

// HTMLText returns the visible text of an HTML tree with one line per block.
func HTMLText(doc *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.Data] {
			sb.WriteString("\n")
		}
	}
	walk(doc)

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
