package paginate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testItems(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return items
}

func testPaginator(n int) *Paginator[int] {
	return New(NewSliceSource(testItems(n)), DefaultLimit)
}

func TestOffsetFirstPage(t *testing.T) {
	p := testPaginator(10)

	page, err := p.Paginate(context.Background(), Request{Start: 0, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, page.Objects)
	assert.True(t, page.MoreObjects)
	assert.False(t, page.PrevObjects)
	assert.Equal(t, 0, page.PrevStart)
	assert.Equal(t, 3, page.NextStart)
	assert.Equal(t, 0, page.StartOffset)
}

func TestOffsetMiddlePage(t *testing.T) {
	p := testPaginator(10)

	page, err := p.Paginate(context.Background(), Request{Start: 3, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, page.Objects)
	assert.True(t, page.MoreObjects)
	assert.True(t, page.PrevObjects)
	// prev_start = max(start-limit-1, 0)
	assert.Equal(t, 0, page.PrevStart)
	assert.Equal(t, 6, page.NextStart)
}

func TestOffsetLastPartialPage(t *testing.T) {
	p := testPaginator(10)

	page, err := p.Paginate(context.Background(), Request{Start: 8, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{8, 9}, page.Objects)
	assert.False(t, page.MoreObjects, "nothing exists past the last item")
	assert.True(t, page.PrevObjects)
	assert.Equal(t, 4, page.PrevStart)
	assert.Equal(t, 10, page.NextStart)
}

func TestOffsetExactBoundary(t *testing.T) {
	// Exactly limit items left: the page is full but more_objects is false.
	p := testPaginator(6)

	page, err := p.Paginate(context.Background(), Request{Start: 3, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, page.Objects)
	assert.False(t, page.MoreObjects)
}

func TestOffsetPastEnd(t *testing.T) {
	p := testPaginator(5)

	page, err := p.Paginate(context.Background(), Request{Start: 100, Limit: 3})
	require.NoError(t, err)
	assert.Empty(t, page.Objects)
	assert.False(t, page.MoreObjects)
	assert.True(t, page.PrevObjects)
}

func TestEmptySource(t *testing.T) {
	p := testPaginator(0)

	page, err := p.Paginate(context.Background(), Request{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Objects)
	assert.False(t, page.MoreObjects)
	assert.False(t, page.PrevObjects)
	assert.Empty(t, page.NextQS)
	assert.Empty(t, page.PrevQS)
}

func TestClamps(t *testing.T) {
	p := testPaginator(10)

	t.Run("limit clamped to MaxLimit", func(t *testing.T) {
		page, err := p.Paginate(context.Background(), Request{Limit: 100000})
		require.NoError(t, err)
		assert.Equal(t, MaxLimit, page.Limit)
	})

	t.Run("negative start clamped to zero", func(t *testing.T) {
		page, err := p.Paginate(context.Background(), Request{Start: -5, Limit: 3})
		require.NoError(t, err)
		assert.Equal(t, 0, page.StartOffset)
	})

	t.Run("start clamped to MaxStart", func(t *testing.T) {
		page, err := p.Paginate(context.Background(), Request{Start: 99999, Limit: 3})
		require.NoError(t, err)
		assert.Equal(t, MaxStart, page.StartOffset)
	})

	t.Run("zero limit takes default", func(t *testing.T) {
		page, err := p.Paginate(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, DefaultLimit, page.Limit)
	})
}

func TestCursorIterationVisitsAllExactlyOnce(t *testing.T) {
	// Starts like a real client would: a plain first request with no cursor,
	// then follows the cursor each page hands back.
	const total = 25
	p := testPaginator(total)
	ctx := context.Background()

	var collected []int
	req := Request{Limit: 4}
	for i := 0; i < 20; i++ { // bounded; must terminate well before this
		page, err := p.Paginate(ctx, req)
		require.NoError(t, err)
		collected = append(collected, page.Objects...)
		if !page.MoreObjects {
			assert.Empty(t, page.Cursor)
			break
		}
		require.NotEmpty(t, page.Cursor)
		req = Request{Limit: 4, Cursor: page.Cursor, CursorStart: page.CursorStart}
	}

	assert.Equal(t, testItems(total), collected)
}

func TestOffsetPageHandsOutResumeCursor(t *testing.T) {
	p := testPaginator(10)
	ctx := context.Background()

	first, err := p.Paginate(ctx, Request{Limit: 4})
	require.NoError(t, err)
	require.True(t, first.MoreObjects)
	require.NotEmpty(t, first.Cursor, "offset pages with more results must offer a cursor")
	assert.Equal(t, first.NextStart, first.CursorStart)

	// The cursor resumes exactly where the offset page left off.
	second, err := p.Paginate(ctx, Request{Limit: 4, Cursor: first.Cursor, CursorStart: first.CursorStart})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5, 6, 7}, second.Objects)

	last, err := p.Paginate(ctx, Request{Start: 8, Limit: 4})
	require.NoError(t, err)
	assert.False(t, last.MoreObjects)
	assert.Empty(t, last.Cursor, "the final page offers no cursor")
}

func TestCursorExactMultipleEndsWithoutEmptyPage(t *testing.T) {
	// Item count an exact multiple of the page size: the final cursor page is
	// full, yet must not promise another (empty) page.
	p := testPaginator(8)
	ctx := context.Background()

	first, err := p.Paginate(ctx, Request{Limit: 4})
	require.NoError(t, err)
	require.True(t, first.MoreObjects)

	second, err := p.Paginate(ctx, Request{Limit: 4, Cursor: first.Cursor, CursorStart: first.CursorStart})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5, 6, 7}, second.Objects)
	assert.False(t, second.MoreObjects)
	assert.Empty(t, second.Cursor)
	assert.Empty(t, second.NextQS)
}

func TestCursorPageBookkeeping(t *testing.T) {
	p := testPaginator(10)
	ctx := context.Background()

	first, err := p.Paginate(ctx, Request{Limit: 4})
	require.NoError(t, err)

	second, err := p.Paginate(ctx, Request{Limit: 4, Cursor: EncodeOffsetCursor(4), CursorStart: 4})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5, 6, 7}, second.Objects)
	assert.True(t, second.PrevObjects)
	assert.Equal(t, 4, second.StartOffset)
	assert.Equal(t, 8, second.NextStart)
	assert.NotEqual(t, first.Cursor, second.Cursor)
}

func TestCursorInvalid(t *testing.T) {
	p := testPaginator(10)

	_, err := p.Paginate(context.Background(), Request{Cursor: "!!!", Limit: 3})
	assert.Error(t, err)
}

func TestCalcTotal(t *testing.T) {
	t.Run("small set exact", func(t *testing.T) {
		p := testPaginator(42)
		page, err := p.Paginate(context.Background(), Request{Limit: 5, CalcTotal: true})
		require.NoError(t, err)
		require.NotNil(t, page.Total)
		assert.Equal(t, 42, *page.Total)
	})

	t.Run("capped at MaxTotalScan", func(t *testing.T) {
		p := testPaginator(MaxTotalScan + 500)
		page, err := p.Paginate(context.Background(), Request{Limit: 5, CalcTotal: true})
		require.NoError(t, err)
		require.NotNil(t, page.Total)
		assert.Equal(t, MaxTotalScan, *page.Total)
	})

	t.Run("absent unless requested", func(t *testing.T) {
		p := testPaginator(5)
		page, err := p.Paginate(context.Background(), Request{Limit: 5})
		require.NoError(t, err)
		assert.Nil(t, page.Total)
	})
}

func TestParseRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet,
		"/things?start=20&limit=50&calctotal=true&flavor=blue", http.NoBody)

	req := ParseRequest(r, DefaultLimit)
	assert.Equal(t, 20, req.Start)
	assert.Equal(t, 50, req.Limit)
	assert.True(t, req.CalcTotal)
	assert.Equal(t, "blue", req.Query.Get("flavor"))

	t.Run("clamps applied", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/things?start=99999&limit=100000", http.NoBody)
		req := ParseRequest(r, DefaultLimit)
		assert.Equal(t, MaxStart, req.Start)
		assert.Equal(t, MaxLimit, req.Limit)
	})

	t.Run("garbage ignored", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/things?start=abc&limit=-7", http.NoBody)
		req := ParseRequest(r, DefaultLimit)
		assert.Equal(t, 0, req.Start)
		assert.Equal(t, 1, req.Limit)
	})

	t.Run("calctotal spellings", func(t *testing.T) {
		for _, v := range []string{"true", "True", "1"} {
			r := httptest.NewRequest(http.MethodGet, "/things?calctotal="+v, http.NoBody)
			assert.True(t, ParseRequest(r, DefaultLimit).CalcTotal, v)
		}
		r := httptest.NewRequest(http.MethodGet, "/things?calctotal=false", http.NoBody)
		assert.False(t, ParseRequest(r, DefaultLimit).CalcTotal)
	})
}

func TestNavQueryPreservesForeignParams(t *testing.T) {
	p := testPaginator(20)

	query := url.Values{}
	query.Set("flavor", "blue")
	query.Set("start", "5")

	page, err := p.Paginate(context.Background(), Request{Start: 5, Limit: 5, Query: query})
	require.NoError(t, err)

	next, err := url.ParseQuery(page.NextQS)
	require.NoError(t, err)
	assert.Equal(t, "blue", next.Get("flavor"))
	assert.Equal(t, "10", next.Get("start"))

	prev, err := url.ParseQuery(page.PrevQS)
	require.NoError(t, err)
	assert.Equal(t, "blue", prev.Get("flavor"))
	assert.Equal(t, "0", prev.Get("start"))
}

func TestNavQueryCursorMode(t *testing.T) {
	p := testPaginator(20)

	page, err := p.Paginate(context.Background(), Request{Limit: 5, Cursor: EncodeOffsetCursor(0)})
	require.NoError(t, err)
	require.True(t, page.MoreObjects)

	next, err := url.ParseQuery(page.NextQS)
	require.NoError(t, err)
	assert.Equal(t, page.Cursor, next.Get("cursor"))
	assert.Equal(t, fmt.Sprint(page.CursorStart), next.Get("cursor_start"))
	assert.Empty(t, next.Get("start"))
}

func TestOffsetCursorCodec(t *testing.T) {
	for _, offset := range []int{0, 1, 42, 10000} {
		token := EncodeOffsetCursor(offset)
		got, err := DecodeOffsetCursor(token)
		require.NoError(t, err)
		assert.Equal(t, offset, got)
	}

	_, err := DecodeOffsetCursor("%%%")
	assert.Error(t, err)

	// Negative offsets never decode.
	_, err = DecodeOffsetCursor(EncodeOffsetCursor(-1))
	assert.Error(t, err)
}
