package paginate

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
)

// SliceSource adapts an in-memory slice to the Source interface. Cursors
// encode the resume position, opaque to clients.
type SliceSource[T any] struct {
	items []T
}

// NewSliceSource creates a Source over items. The slice is not copied; the
// caller must not mutate it while pages are being served.
func NewSliceSource[T any](items []T) *SliceSource[T] {
	return &SliceSource[T]{items: items}
}

// FetchOffset returns up to limit items starting at offset.
func (s *SliceSource[T]) FetchOffset(_ context.Context, offset, limit int) ([]T, error) {
	if offset < 0 || limit <= 0 || offset >= len(s.items) {
		return nil, nil
	}
	end := min(offset+limit, len(s.items))
	return s.items[offset:end:end], nil
}

// FetchCursor resumes at the position the cursor encodes.
func (s *SliceSource[T]) FetchCursor(ctx context.Context, cursor string, limit int) ([]T, string, error) {
	offset := 0
	if cursor != "" {
		var err error
		offset, err = DecodeOffsetCursor(cursor)
		if err != nil {
			return nil, "", err
		}
	}
	items, err := s.FetchOffset(ctx, offset, limit)
	if err != nil {
		return nil, "", err
	}
	return items, EncodeOffsetCursor(offset + len(items)), nil
}

// Count counts items, visiting at most max.
func (s *SliceSource[T]) Count(_ context.Context, max int) (int, error) {
	return min(len(s.items), max), nil
}

// EncodeOffsetCursor encodes a resume offset as an opaque cursor token.
func EncodeOffsetCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// DecodeOffsetCursor decodes a cursor produced by EncodeOffsetCursor.
func DecodeOffsetCursor(cursor string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("undecodable cursor: %w", err)
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid cursor position %q", raw)
	}
	return offset, nil
}

// Verify interface compliance.
var _ Source[int] = (*SliceSource[int])(nil)
