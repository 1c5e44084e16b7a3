// Package paginate implements bounded result-set pagination for list
// endpoints. It supports two mutually exclusive addressing modes per call:
// numeric offsets and opaque cursors handed back from a previous page.
//
// All limits are clamped server-side regardless of client input: page sizes
// to [1,1000], start offsets to [0,10000] and total counts to a 10000-row
// scan, so no request performs unbounded work.
package paginate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	// MaxLimit caps the page size.
	MaxLimit = 1000

	// MaxStart caps the offset a client may skip to.
	MaxStart = 10000

	// MaxTotalScan caps how many rows a calctotal count may visit. Beyond
	// it the reported total is a floor value, not an exact count.
	MaxTotalScan = 10000

	// DefaultLimit is the page size when the caller configures none.
	DefaultLimit = 10
)

// Source is an ordered, query-like data source. Implementations must return
// items in a stable order for cursors to be meaningful, and produce cursors
// with EncodeOffsetCursor so they encode absolute positions in that order.
type Source[T any] interface {
	// FetchOffset returns up to limit items starting at offset.
	FetchOffset(ctx context.Context, offset, limit int) ([]T, error)

	// FetchCursor resumes the ordered fetch at cursor and returns the
	// items plus the cursor for the following position. An empty cursor
	// starts from the beginning.
	FetchCursor(ctx context.Context, cursor string, limit int) (items []T, next string, err error)

	// Count counts matching items, visiting at most max of them.
	Count(ctx context.Context, max int) (int, error)
}

// Page is the computed result of one Paginate call. It is ephemeral and
// recomputed per request. Field names follow the wire format list endpoints
// expose.
type Page[T any] struct {
	Objects     []T    `json:"objects"`
	MoreObjects bool   `json:"more_objects"`
	PrevObjects bool   `json:"prev_objects"`
	PrevStart   int    `json:"prev_start"`
	NextStart   int    `json:"next_start"`
	Cursor      string `json:"cursor,omitempty"`
	CursorStart int    `json:"cursor_start,omitempty"`
	Limit       int    `json:"limit"`
	StartOffset int    `json:"start_offset"`
	Total       *int   `json:"total,omitempty"`
	NextQS      string `json:"next_qs,omitempty"`
	PrevQS      string `json:"prev_qs,omitempty"`
}

// Request carries the caller-controlled pagination parameters, already
// clamped by ParseRequest or Normalize.
type Request struct {
	// Start is the numeric offset (offset mode).
	Start int

	// Limit is the requested page size.
	Limit int

	// Cursor, when non-empty, selects cursor mode and Start is ignored.
	Cursor string

	// CursorStart is the absolute offset the cursor page begins at, echoed
	// back by clients so offset bookkeeping survives cursor navigation.
	CursorStart int

	// CalcTotal requests the (capped) total count.
	CalcTotal bool

	// Query holds all caller query parameters, used to build the next/prev
	// navigation query strings.
	Query url.Values
}

// ParseRequest extracts pagination parameters from an HTTP request,
// clamping everything to the server-side bounds.
func ParseRequest(r *http.Request, defaultLimit int) Request {
	q := r.URL.Query()
	return Request{
		Start:       clamp(intParam(q, "start", 0), 0, MaxStart),
		Limit:       clamp(intParam(q, "limit", defaultLimit), 1, MaxLimit),
		Cursor:      q.Get("cursor"),
		CursorStart: clamp(intParam(q, "cursor_start", 0), 0, MaxStart),
		CalcTotal:   q.Get("calctotal") == "true" || q.Get("calctotal") == "True" || q.Get("calctotal") == "1",
		Query:       q,
	}
}

// Paginator computes pages over a Source.
type Paginator[T any] struct {
	source       Source[T]
	defaultLimit int
}

// New creates a Paginator. defaultLimit <= 0 selects DefaultLimit.
func New[T any](source Source[T], defaultLimit int) *Paginator[T] {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Paginator[T]{source: source, defaultLimit: defaultLimit}
}

// Paginate computes one page. Cursor mode is selected by a non-empty
// req.Cursor; otherwise offset mode is used.
func (p *Paginator[T]) Paginate(ctx context.Context, req Request) (*Page[T], error) {
	req = p.normalize(req)

	var page *Page[T]
	var err error
	if req.Cursor != "" {
		page, err = p.cursorPage(ctx, req)
	} else {
		page, err = p.offsetPage(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	if req.CalcTotal {
		total, err := p.source.Count(ctx, MaxTotalScan)
		if err != nil {
			return nil, fmt.Errorf("counting objects: %w", err)
		}
		page.Total = &total
	}

	page.NextQS = navQuery(req.Query, page, true, req.Cursor != "")
	page.PrevQS = navQuery(req.Query, page, false, req.Cursor != "")
	return page, nil
}

// offsetPage fetches limit items at start. "More" is determined by a
// single-item existence probe past the page, not a full count.
func (p *Paginator[T]) offsetPage(ctx context.Context, req Request) (*Page[T], error) {
	items, err := p.source.FetchOffset(ctx, req.Start, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("fetching page at %d: %w", req.Start, err)
	}

	probe, err := p.source.FetchOffset(ctx, req.Start+len(items), 1)
	if err != nil {
		return nil, fmt.Errorf("probing for more objects: %w", err)
	}

	page := &Page[T]{
		Objects:     items,
		MoreObjects: len(probe) > 0,
		PrevObjects: req.Start > 0,
		PrevStart:   max(req.Start-req.Limit-1, 0),
		NextStart:   req.Start + len(items),
		Limit:       req.Limit,
		StartOffset: req.Start,
	}
	if page.MoreObjects {
		// Every page with more results also hands out a resume cursor, so
		// clients can switch to cursor navigation from any offset page.
		page.Cursor = EncodeOffsetCursor(page.NextStart)
		page.CursorStart = page.NextStart
	}
	return page, nil
}

// cursorPage resumes at the opaque cursor. "More" uses the same single-item
// existence probe as offset mode, fetched at the returned resume cursor, so
// a final page that is exactly full never reports a spurious next page.
func (p *Paginator[T]) cursorPage(ctx context.Context, req Request) (*Page[T], error) {
	items, next, err := p.source.FetchCursor(ctx, req.Cursor, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("fetching page at cursor: %w", err)
	}

	more := false
	if next != "" {
		probe, _, err := p.source.FetchCursor(ctx, next, 1)
		if err != nil {
			return nil, fmt.Errorf("probing for more objects: %w", err)
		}
		more = len(probe) > 0
	}
	page := &Page[T]{
		Objects:     items,
		MoreObjects: more,
		PrevObjects: req.CursorStart > 0,
		PrevStart:   max(req.CursorStart-req.Limit-1, 0),
		NextStart:   req.CursorStart + len(items),
		Limit:       req.Limit,
		StartOffset: req.CursorStart,
	}
	if more {
		page.Cursor = next
		page.CursorStart = req.CursorStart + len(items)
	}
	return page, nil
}

func (p *Paginator[T]) normalize(req Request) Request {
	if req.Limit <= 0 {
		req.Limit = p.defaultLimit
	}
	req.Limit = clamp(req.Limit, 1, MaxLimit)
	req.Start = clamp(req.Start, 0, MaxStart)
	if req.CursorStart < 0 {
		req.CursorStart = 0
	}
	if req.Query == nil {
		req.Query = url.Values{}
	}
	return req
}

// navQuery builds the navigation query string for the next or previous
// page, preserving every caller parameter except the pagination controls
// themselves so stateful filters survive pagination. Navigation stays in the
// addressing mode the caller used: cursor-mode requests get cursor links,
// offset-mode requests get start links even though their pages also expose a
// resume cursor.
func navQuery[T any](query url.Values, page *Page[T], next, cursorMode bool) string {
	if next && !page.MoreObjects {
		return ""
	}
	if !next && !page.PrevObjects {
		return ""
	}

	out := url.Values{}
	for key, values := range query {
		switch key {
		case "start", "cursor", "cursor_start":
			continue
		}
		out[key] = values
	}

	if next {
		if cursorMode && page.Cursor != "" {
			out.Set("cursor", page.Cursor)
			out.Set("cursor_start", strconv.Itoa(page.CursorStart))
		} else {
			out.Set("start", strconv.Itoa(page.NextStart))
		}
	} else {
		out.Set("start", strconv.Itoa(page.PrevStart))
	}
	return out.Encode()
}

func intParam(q url.Values, key string, def int) int {
	raw := q.Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func clamp(n, lo, hi int) int {
	return min(max(n, lo), hi)
}
