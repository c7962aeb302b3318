// Package retrieval pre-loads task context from a web page: the page text
// is split into chunks and the chunks most relevant to the instruction are
// returned.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
)

const (
	DefaultChunkSize = 1000
	DefaultMaxChars  = 8000
)

// Reader returns the text of the page at url.
type Reader interface {
	ReadText(ctx context.Context, url string) (string, error)
}

// Config configures a Retriever.
type Config struct {
	Reader    Reader
	ChunkSize int
	// MaxChars bounds the returned context. Pages that fit are returned whole.
	MaxChars int
	Logger   zerolog.Logger
}

// Retriever selects relevant page text for an instruction.
type Retriever struct {
	reader    Reader
	chunkSize int
	maxChars  int
	logger    zerolog.Logger
}

// New creates a Retriever.
func New(cfg Config) (*Retriever, error) {
	if cfg.Reader == nil {
		return nil, errors.New("retrieval: reader is required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	return &Retriever{
		reader:    cfg.Reader,
		chunkSize: cfg.ChunkSize,
		maxChars:  cfg.MaxChars,
		logger:    cfg.Logger,
	}, nil
}

// Retrieve reads url and returns the text most relevant to query.
func (r *Retriever) Retrieve(ctx context.Context, url, query string) (string, error) {
	text, err := r.reader.ReadText(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to read context page: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("context page %s has no text", url)
	}

	chunks := Chunk(text, r.chunkSize)
	selected := Select(chunks, query, r.maxChars)

	r.logger.Info().
		Str("url", url).
		Int("chars", len(text)).
		Int("chunks", len(chunks)).
		Int("selected", len(selected)).
		Msg("Context retrieved")

	return strings.Join(selected, "\n"), nil
}

// Chunk splits text on line boundaries into pieces of at most size bytes.
// A single longer line is split on word boundaries.
func Chunk(text string, size int) []string {
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	add := func(piece string) {
		if cur.Len() > 0 && cur.Len()+1+len(piece) > size {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(piece)
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) <= size {
			add(line)
			continue
		}
		flush()
		var part strings.Builder
		for _, word := range strings.Fields(line) {
			if part.Len() > 0 && part.Len()+1+len(word) > size {
				chunks = append(chunks, part.String())
				part.Reset()
			}
			if part.Len() > 0 {
				part.WriteString(" ")
			}
			part.WriteString(word)
		}
		if part.Len() > 0 {
			chunks = append(chunks, part.String())
		}
	}
	flush()
	return chunks
}

// Select returns the highest scoring chunks whose total length fits in
// maxChars, in document order. When everything fits, all chunks are kept.
func Select(chunks []string, query string, maxChars int) []string {
	total := 0
	for _, c := range chunks {
		total += len(c) + 1
	}
	if total <= maxChars {
		return chunks
	}

	terms := Terms(query)
	type scored struct {
		index int
		score int
	}
	ranked := make([]scored, len(chunks))
	for i, c := range chunks {
		ranked[i] = scored{index: i, score: Score(c, terms)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	var picked []int
	used := 0
	for _, s := range ranked {
		size := len(chunks[s.index]) + 1
		if used+size > maxChars {
			continue
		}
		picked = append(picked, s.index)
		used += size
	}
	sort.Ints(picked)

	out := make([]string, 0, len(picked))
	for _, i := range picked {
		out = append(out, chunks[i])
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "into": true, "are": true, "was": true, "you": true, "your": true,
	"please": true, "then": true, "what": true, "how": true, "can": true, "will": true,
}

// Terms returns the distinct lowercase words of query worth matching.
func Terms(query string) []string {
	seen := map[string]bool{}
	var terms []string
	for _, w := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(w) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

// Score counts term occurrences in chunk.
func Score(chunk string, terms []string) int {
	lower := strings.ToLower(chunk)
	score := 0
	for _, t := range terms {
		score += strings.Count(lower, t)
	}
	return score
}
