package paginate

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// SQLSource adapts a squirrel SELECT to the Source interface. The builder
// must carry a deterministic ORDER BY; cursors encode resume offsets into
// that ordering.
type SQLSource[T any] struct {
	db      *sql.DB
	builder sq.SelectBuilder
	scan    func(*sql.Rows) (T, error)
}

// NewSQLSource creates a Source executing builder against db, converting
// each row through scan.
func NewSQLSource[T any](db *sql.DB, builder sq.SelectBuilder, scan func(*sql.Rows) (T, error)) *SQLSource[T] {
	return &SQLSource[T]{db: db, builder: builder, scan: scan}
}

// FetchOffset returns up to limit rows starting at offset.
func (s *SQLSource[T]) FetchOffset(ctx context.Context, offset, limit int) ([]T, error) {
	if offset < 0 || limit <= 0 {
		return nil, nil
	}
	query, args, err := s.builder.
		Offset(uint64(offset)).
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building page query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying page: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []T
	for rows.Next() {
		item, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return items, nil
}

// FetchCursor resumes at the position the cursor encodes.
func (s *SQLSource[T]) FetchCursor(ctx context.Context, cursor string, limit int) ([]T, string, error) {
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

// Count counts matching rows, visiting at most max of them.
func (s *SQLSource[T]) Count(ctx context.Context, max int) (int, error) {
	query, args, err := sq.Select("COUNT(*)").
		FromSelect(s.builder.Limit(uint64(max)), "capped").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows: %w", err)
	}
	return count, nil
}

// Verify interface compliance.
var _ Source[int] = (*SQLSource[int])(nil)
