// Package paginate drives a twitter.Source across its cursors.
package paginate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xiaobinji/RSSHub/internal/twitter"
)

// DefaultMaxPages is used when a Walker has no ceiling set.
const DefaultMaxPages = 1

// Walker collects the items of a source, page by page.
type Walker struct {
	// MaxPages is the ceiling on data pages fetched per walk. The probe page
	// of a two-phase source doesn't count.
	MaxPages int
}

// Walk fetches src for ident until it is exhausted or the page ceiling is
// hit. Nothing is returned on error: a failed walk is retried from scratch.
func (w Walker) Walk(ctx context.Context, src twitter.Source, ident twitter.ID, params twitter.Params) ([]twitter.Item, error) {
	maxPages := w.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	q := twitter.Query{Identity: ident, Params: params}
	if p, ok := src.(twitter.Prober); ok {
		cursor, err := FindCursor(ctx, src, q, p.ProbeCursor())
		if err != nil {
			return nil, err
		}
		q.Cursor = cursor
	}

	var (
		items []twitter.Item
		seen  = map[string]struct{}{}
	)
	for page := 1; ; page++ {
		if q.Cursor != "" {
			seen[q.Cursor] = struct{}{}
		}

		p, err := src.Fetch(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("error fetching %s page %d: %w", src.Name(), page, err)
		}
		items = append(items, p.Items...)

		next := p.Cursors[twitter.CursorBottom]
		switch _, repeated := seen[next]; {
		case len(p.Items) == 0, next == "", repeated:
			return items, nil
		case page >= maxPages:
			slog.DebugContext(ctx, "page ceiling reached", "source", src.Name(), "pages", page)
			return items, nil
		}
		q.Cursor = next
	}
}

// FindCursor fetches the first page of src and returns the cursor of the
// given kind.
func FindCursor(ctx context.Context, src twitter.Source, q twitter.Query, kind twitter.CursorKind) (string, error) {
	q.Cursor = ""
	p, err := src.Fetch(ctx, q)
	if err != nil {
		return "", fmt.Errorf("error probing %s: %w", src.Name(), err)
	}

	cursor, ok := p.Cursors[kind]
	if !ok || cursor == "" {
		return "", fmt.Errorf("%s probe missing %s cursor: %w", src.Name(), kind, twitter.ErrCursorNotFound)
	}

	return cursor, nil
}
