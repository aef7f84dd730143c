package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// queryPage builds one page of query results. A non-empty next marks the
// response as having more pages behind that cursor.
func queryPage(next string, ids ...string) *notionapi.DatabaseQueryResponse {
	resp := &notionapi.DatabaseQueryResponse{}
	for _, id := range ids {
		resp.Results = append(resp.Results, notionapi.Page{ID: notionapi.ObjectID(id)})
	}
	if next != "" {
		resp.HasMore = true
		resp.NextCursor = notionapi.Cursor(next)
	}
	return resp
}

// atCursor matches the query request for the page at the given cursor;
// the empty cursor is the first page.
func atCursor(cursor string) any {
	return mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == notionapi.Cursor(cursor)
	})
}

func TestQueryAll_SinglePage(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-hoods", atCursor("")).
		Return(queryPage("", "page-ballard", "page-fremont"), nil).Once()

	pages, err := QueryAll(ctx, mc, "db-hoods", nil)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, notionapi.ObjectID("page-ballard"), pages[0].ID)
	mc.AssertExpectations(t)
}

func TestQueryAll_FollowsCursors(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-hoods", atCursor("")).
		Return(queryPage("after-fremont", "page-ballard", "page-fremont"), nil).Once()
	mc.On("QueryDatabase", ctx, "db-hoods", atCursor("after-fremont")).
		Return(queryPage("", "page-wallingford"), nil).Once()

	pages, err := QueryAll(ctx, mc, "db-hoods", nil)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, notionapi.ObjectID("page-wallingford"), pages[2].ID)
	mc.AssertExpectations(t)
}

func TestQueryAll_CarriesFilterAcrossPages(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()

	seattleAt := func(cursor string) any {
		return mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
			pf, ok := req.Filter.(notionapi.PropertyFilter)
			if !ok || pf.Property != "City" || pf.Select == nil || pf.Select.Equals != "Seattle" {
				return false
			}
			return req.StartCursor == notionapi.Cursor(cursor) && req.PageSize == 50
		})
	}

	mc.On("QueryDatabase", ctx, "db-hoods", seattleAt("")).
		Return(queryPage("after-ballard", "page-ballard"), nil).Once()
	mc.On("QueryDatabase", ctx, "db-hoods", seattleAt("after-ballard")).
		Return(queryPage("", "page-fremont"), nil).Once()

	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "City",
			Select:   &notionapi.SelectFilterCondition{Equals: "Seattle"},
		},
		PageSize: 50,
	}

	pages, err := QueryAll(ctx, mc, "db-hoods", filter)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	mc.AssertExpectations(t)
}

func TestQueryAll_Error(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-hoods", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(nil, assert.AnError).Once()

	pages, err := QueryAll(ctx, mc, "db-hoods", nil)
	require.Error(t, err)
	assert.Nil(t, pages)
	assert.Contains(t, err.Error(), "query all page")
	mc.AssertExpectations(t)
}

func TestQueryAll_ErrorMidPagination(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-hoods", atCursor("")).
		Return(queryPage("after-ballard", "page-ballard"), nil).Once()
	mc.On("QueryDatabase", ctx, "db-hoods", atCursor("after-ballard")).
		Return(nil, assert.AnError).Once()

	pages, err := QueryAll(ctx, mc, "db-hoods", nil)
	require.Error(t, err)
	assert.Nil(t, pages)
	mc.AssertExpectations(t)
}

func TestQueryAll_CancelledBeforeFirstRequest(t *testing.T) {
	// No expectations: a dead context must not reach the API at all.
	mc := new(mockClient)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pages, err := QueryAll(ctx, mc, "db-hoods", nil)
	require.Error(t, err)
	assert.Nil(t, pages)
	mc.AssertExpectations(t)
}

func TestFindPageByTitle_Found(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()

	byName := mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		if !ok {
			return false
		}
		return pf.Property == "Name" && pf.RichText != nil && pf.RichText.Equals == "Ballard"
	})
	mc.On("QueryDatabase", ctx, "db-hoods", byName).
		Return(queryPage("", "page-ballard"), nil).Once()

	page, err := FindPageByTitle(ctx, mc, "db-hoods", "Name", "Ballard")
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, notionapi.ObjectID("page-ballard"), page.ID)
	mc.AssertExpectations(t)
}

func TestFindPageByTitle_NotFound(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-hoods", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(queryPage(""), nil).Once()

	page, err := FindPageByTitle(ctx, mc, "db-hoods", "Name", "Nowhere")
	require.NoError(t, err)
	assert.Nil(t, page)
	mc.AssertExpectations(t)
}

func TestFindPageByTitle_Error(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-hoods", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(nil, assert.AnError).Once()

	page, err := FindPageByTitle(ctx, mc, "db-hoods", "Name", "Ballard")
	require.Error(t, err)
	assert.Nil(t, page)
	assert.Contains(t, err.Error(), "notion: find page by title")
	mc.AssertExpectations(t)
}
