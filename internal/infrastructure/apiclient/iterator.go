package apiclient

import (
	"context"
	"strconv"
	"strings"

	"github.com/erp/syncengine/internal/domain/integration"
)

// Cursor encodings. Offset cursors are produced by offset pagination, next
// cursors carry a provider-native token.
const (
	offsetCursorPrefix = "offset:"
	nextCursorPrefix   = "next:"
)

// OffsetCursor encodes an offset position
func OffsetCursor(offset int) string { return offsetCursorPrefix + strconv.Itoa(offset) }

// NativeCursor encodes a provider-native cursor
func NativeCursor(token string) string { return nextCursorPrefix + token }

// DecodeCursor splits an encoded cursor. An empty cursor is offset 0.
func DecodeCursor(cursor string) (offset int, native string, err error) {
	switch {
	case cursor == "":
		return 0, "", nil
	case strings.HasPrefix(cursor, nextCursorPrefix):
		return 0, strings.TrimPrefix(cursor, nextCursorPrefix), nil
	case strings.HasPrefix(cursor, offsetCursorPrefix):
		n, convErr := strconv.Atoi(strings.TrimPrefix(cursor, offsetCursorPrefix))
		if convErr != nil || n < 0 {
			return 0, "", integration.NewValidationError("cursor", "invalid offset cursor "+cursor)
		}
		return n, "", nil
	default:
		return 0, "", integration.NewValidationError("cursor", "unrecognized cursor "+cursor)
	}
}

// PageFetcher fetches the page at cursor
type PageFetcher func(ctx context.Context, cursor string) (*integration.Page, error)

// Iterator walks pages lazily. It stops when the provider reports no more
// pages, a page comes back empty, or a fetch fails; it cannot be restarted.
type Iterator struct {
	fetch  PageFetcher
	cursor string
	page   *integration.Page
	err    error
	done   bool
	pages  int
}

var _ integration.PageIterator = (*Iterator)(nil)

// NewIterator creates an iterator starting at startCursor
func NewIterator(fetch PageFetcher, startCursor string) *Iterator {
	return &Iterator{fetch: fetch, cursor: startCursor}
}

// Next fetches the next page
func (it *Iterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.fail(err)
		return false
	}
	page, err := it.fetch(ctx, it.cursor)
	if err != nil {
		it.fail(err)
		return false
	}
	if page == nil || len(page.Items) == 0 {
		it.done = true
		it.page = nil
		return false
	}
	it.pages++
	it.page = page
	if !page.HasMore || page.NextCursor == "" || page.NextCursor == it.cursor {
		it.done = true
		page.HasMore = false
	} else {
		it.cursor = page.NextCursor
	}
	return true
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.done = true
	it.page = nil
}

// Page returns the current page
func (it *Iterator) Page() *integration.Page { return it.page }

// Err returns the error that stopped iteration
func (it *Iterator) Err() error { return it.err }

// Pages returns how many pages were fetched
func (it *Iterator) Pages() int { return it.pages }

// Cursor returns the cursor the next call to Next fetches from
func (it *Iterator) Cursor() string { return it.cursor }
