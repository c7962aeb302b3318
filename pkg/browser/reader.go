package browser

import "context"

// PageReader returns the visible text of a web page.
type PageReader interface {
	ReadText(ctx context.Context, url string) (string, error)
}

var _ PageReader = (*RodDriver)(nil)

// GuardedReader validates URLs before delegating to another reader.
type GuardedReader struct {
	Reader    PageReader
	Validator *SecurityValidator
}

func (g GuardedReader) ReadText(ctx context.Context, url string) (string, error) {
	if g.Validator != nil {
		if err := g.Validator.ValidateURL(url); err != nil {
			return "", err
		}
	}
	return g.Reader.ReadText(ctx, url)
}
