package table

import (
	"context"

	"github.com/pkg/errors"
)

// ErrIteratorDone is returned by Next after the last page.
var ErrIteratorDone = errors.New("iterator done")

// Iterator pages through the keys under a prefix. Pages are read lazily and
// see writes made between calls; there is no snapshot.
type Iterator struct {
	t      *Table
	prefix string
	cursor string
	done   bool
	opts   iteratorOpts
}

type IteratorOption func(*iteratorOpts)

type iteratorOpts struct {
	startCursor string
	limit       int
}

// WithStartCursor resumes iteration from a cursor returned by an earlier page.
func WithStartCursor(cursor string) IteratorOption {
	return func(o *iteratorOpts) {
		o.startCursor = cursor
	}
}

func WithPageLimit(n int) IteratorOption {
	return func(o *iteratorOpts) {
		o.limit = n
	}
}

// Page is one batch of an Iterator.
type Page struct {
	Items []ListItem
	// Cursor resumes iteration after this page. Empty on the last page.
	Cursor string
	IsDone bool
}

// Iterator returns an iterator over the keys under prefix. An empty prefix
// iterates the data keys.
func (t *Table) Iterator(prefix string, opts ...IteratorOption) *Iterator {
	it := &Iterator{t: t, prefix: prefix}
	for _, opt := range opts {
		opt(&it.opts)
	}
	it.cursor = it.opts.startCursor
	return it
}

// Next reads the next page. The page that reports IsDone may still hold items.
func (it *Iterator) Next(ctx context.Context) (*Page, error) {
	if it.done {
		return nil, ErrIteratorDone
	}
	res, err := it.t.List(ctx, ListOptions{
		Prefix: it.prefix,
		Cursor: it.cursor,
		Limit:  it.opts.limit,
	})
	if err != nil {
		return nil, err
	}
	it.cursor = res.Cursor
	it.done = res.Cursor == ""
	return &Page{
		Items:  res.Items,
		Cursor: res.Cursor,
		IsDone: it.done,
	}, nil
}

func (it *Iterator) Done() bool {
	return it.done
}

// Cursor returns the cursor the next call to Next starts from.
func (it *Iterator) Cursor() string {
	return it.cursor
}

// All reads the remaining pages into one slice.
func (it *Iterator) All(ctx context.Context) ([]ListItem, error) {
	var all []ListItem
	for !it.done {
		page, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
	}
	return all, nil
}
