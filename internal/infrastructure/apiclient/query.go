package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/erp/syncengine/internal/domain/integration"
)

type queryRequest struct {
	Q      string `json:"q"`
	Cursor string `json:"cursor,omitempty"`
}

type queryEnvelope struct {
	Items        []json.RawMessage `json:"items"`
	HasMore      bool              `json:"hasMore"`
	TotalResults *int              `json:"totalResults"`
	NextCursor   string            `json:"nextCursor"`
}

// Query runs a query-language statement and returns one page. nativeCursor
// is passed through to providers that paginate with tokens.
func (c *Client) Query(ctx context.Context, q string, nativeCursor string) (*integration.Page, error) {
	if c.cfg.QueryPath == "" {
		return nil, integration.NewValidationError("query_path", "client has no query endpoint")
	}
	resp, err := c.Do(ctx, Request{
		Method:  http.MethodPost,
		Path:    c.cfg.QueryPath,
		Body:    queryRequest{Q: q, Cursor: nativeCursor},
		Cost:    CostQuery,
		Headers: map[string]string{"Prefer": "transient"},
	})
	if err != nil {
		return nil, err
	}
	var env queryEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, &integration.IntegrationError{Code: "INVALID_RESPONSE", Message: "query response is not a page envelope", Status: resp.Status, Err: err}
	}
	page := &integration.Page{Total: -1, HasMore: env.HasMore}
	page.Items = make([]integration.RawItem, len(env.Items))
	for i, item := range env.Items {
		page.Items[i] = integration.RawItem(item)
	}
	if env.TotalResults != nil {
		page.Total = *env.TotalResults
	}
	if env.NextCursor != "" {
		page.NextCursor = NativeCursor(env.NextCursor)
	}
	return page, nil
}

// SearchRecords queries table with structured conditions. Invalid tables,
// columns or values fail before any network call.
func (c *Client) SearchRecords(ctx context.Context, table string, conditions map[string]any, opts QueryOptions) (*integration.Page, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}
	q, err := BuildQuery("SELECT * FROM "+table, conditions, opts)
	if err != nil {
		return nil, err
	}
	return c.Query(ctx, q, "")
}

// Iterate pages through query with LIMIT/OFFSET, or with the provider's
// native cursor once one is returned. query must not carry LIMIT or OFFSET.
func (c *Client) Iterate(query string, pageSize int, startCursor string) *Iterator {
	pageSize = ClampLimit(pageSize)
	return NewIterator(func(ctx context.Context, cursor string) (*integration.Page, error) {
		if limitPattern.MatchString(query) || offsetPattern.MatchString(query) {
			return nil, integration.NewValidationError("query", "paginated queries must not contain LIMIT or OFFSET")
		}
		offset, native, err := DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		q := query
		if native == "" {
			if q, err = BuildQuery(query, nil, QueryOptions{Limit: Limit(pageSize), Offset: offset}); err != nil {
				return nil, err
			}
		}
		page, err := c.Query(ctx, q, native)
		if err != nil {
			return nil, err
		}
		if page.NextCursor == "" && page.HasMore {
			page.NextCursor = OffsetCursor(offset + len(page.Items))
		}
		return page, nil
	}, startCursor)
}

// CollectOptions bounds CollectAll
type CollectOptions struct {
	// MaxResults caps the number of items, 0 means unbounded
	MaxResults int
	PageSize   int
}

// CollectAll drains Iterate into a slice
func (c *Client) CollectAll(ctx context.Context, query string, opts CollectOptions) ([]integration.RawItem, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}
	if opts.MaxResults > 0 && opts.MaxResults < opts.PageSize {
		opts.PageSize = opts.MaxResults
	}
	it := c.Iterate(query, opts.PageSize, "")
	var out []integration.RawItem
	for it.Next(ctx) {
		for _, item := range it.Page().Items {
			out = append(out, item)
			if opts.MaxResults > 0 && len(out) >= opts.MaxResults {
				return out, nil
			}
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Record CRUD
// ---------------------------------------------------------------------------

func (c *Client) recordPath(recordType, id string) (string, error) {
	if c.cfg.RecordPath == "" {
		return "", integration.NewValidationError("record_path", "client has no record endpoint")
	}
	if err := ValidateIdentifier(recordType); err != nil {
		return "", err
	}
	p := strings.TrimRight(c.cfg.RecordPath, "/") + "/" + recordType
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p, nil
}

// GetRecord fetches one record
func (c *Client) GetRecord(ctx context.Context, recordType, id string) (json.RawMessage, error) {
	if id == "" {
		return nil, integration.NewValidationError("id", "is required")
	}
	p, err := c.recordPath(recordType, id)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: p})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body), nil
}

// CreateRecord creates a record and returns its id, taken from the Location
// header or the response body.
func (c *Client) CreateRecord(ctx context.Context, recordType string, body any) (string, error) {
	p, err := c.recordPath(recordType, "")
	if err != nil {
		return "", err
	}
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: p, Body: body})
	if err != nil {
		return "", err
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		return path.Base(loc), nil
	}
	var created struct {
		ID json.RawMessage `json:"id"`
	}
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &created) == nil && len(created.ID) > 0 {
		return strings.Trim(string(created.ID), `"`), nil
	}
	return "", fmt.Errorf("apiclient: create %s returned no record id", recordType)
}

// UpdateRecord patches a record
func (c *Client) UpdateRecord(ctx context.Context, recordType, id string, body any) error {
	if id == "" {
		return integration.NewValidationError("id", "is required")
	}
	p, err := c.recordPath(recordType, id)
	if err != nil {
		return err
	}
	_, err = c.Do(ctx, Request{Method: http.MethodPatch, Path: p, Body: body})
	return err
}

// DeleteRecord deletes a record
func (c *Client) DeleteRecord(ctx context.Context, recordType, id string) error {
	if id == "" {
		return integration.NewValidationError("id", "is required")
	}
	p, err := c.recordPath(recordType, id)
	if err != nil {
		return err
	}
	_, err = c.Do(ctx, Request{Method: http.MethodDelete, Path: p})
	return err
}
