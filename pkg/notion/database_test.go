package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func leadPages(ids ...string) []notionapi.Page {
	pages := make([]notionapi.Page, len(ids))
	for i, id := range ids {
		pages[i].ID = notionapi.ObjectID(id)
	}
	return pages
}

func morePages(next string, ids ...string) *notionapi.DatabaseQueryResponse {
	return &notionapi.DatabaseQueryResponse{
		Results:    leadPages(ids...),
		HasMore:    true,
		NextCursor: notionapi.Cursor(next),
	}
}

func lastPages(ids ...string) *notionapi.DatabaseQueryResponse {
	return &notionapi.DatabaseQueryResponse{Results: leadPages(ids...)}
}

// expectQuery pins one QueryDatabase call, keyed on the start cursor so a
// multi-page walk can bind each hop to its response.
func expectQuery(mc *MockClient, dbID string, cursor notionapi.Cursor, resp *notionapi.DatabaseQueryResponse, err error) {
	mc.On("QueryDatabase", mock.Anything, dbID, mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == cursor
	})).Return(resp, err).Once()
}

func TestQueryAll_SinglePage(t *testing.T) {
	mc := new(MockClient)
	expectQuery(mc, "leads-db", "", lastPages("lead-1", "lead-2"), nil)

	pages, err := QueryAll(context.Background(), mc, "leads-db", nil)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, notionapi.ObjectID("lead-1"), pages[0].ID)
	mc.AssertExpectations(t)
}

func TestQueryAll_WalksEveryCursor(t *testing.T) {
	mc := new(MockClient)
	expectQuery(mc, "leads-db", "", morePages("c1", "lead-1"), nil)
	expectQuery(mc, "leads-db", "c1", morePages("c2", "lead-2"), nil)
	expectQuery(mc, "leads-db", "c2", lastPages("lead-3"), nil)

	pages, err := QueryAll(context.Background(), mc, "leads-db", nil)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, notionapi.ObjectID("lead-1"), pages[0].ID)
	assert.Equal(t, notionapi.ObjectID("lead-2"), pages[1].ID)
	assert.Equal(t, notionapi.ObjectID("lead-3"), pages[2].ID)
	mc.AssertExpectations(t)
}

func TestQueryAll_FilterRidesAlong(t *testing.T) {
	mc := new(MockClient)

	match := func(cursor notionapi.Cursor) any {
		return mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
			pf, ok := req.Filter.(notionapi.PropertyFilter)
			return ok && pf.Property == "Status" && pf.Status != nil &&
				pf.Status.Equals == "New" &&
				req.PageSize == 50 &&
				req.StartCursor == cursor
		})
	}
	mc.On("QueryDatabase", mock.Anything, "leads-db", match("")).
		Return(morePages("c2", "lead-1"), nil).Once()
	mc.On("QueryDatabase", mock.Anything, "leads-db", match("c2")).
		Return(lastPages("lead-2"), nil).Once()

	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status:   &notionapi.StatusFilterCondition{Equals: "New"},
		},
		PageSize: 50,
	}

	pages, err := QueryAll(context.Background(), mc, "leads-db", filter)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	mc.AssertExpectations(t)
}

func TestQueryAll_FirstPageError(t *testing.T) {
	mc := new(MockClient)
	expectQuery(mc, "leads-db", "", nil, assert.AnError)

	pages, err := QueryAll(context.Background(), mc, "leads-db", nil)
	require.Error(t, err)
	assert.Nil(t, pages)
	assert.Contains(t, err.Error(), "query all page")
	mc.AssertExpectations(t)
}

func TestQueryAll_LaterPageError(t *testing.T) {
	mc := new(MockClient)
	expectQuery(mc, "leads-db", "", morePages("c1", "lead-1"), nil)
	expectQuery(mc, "leads-db", "c1", nil, assert.AnError)

	pages, err := QueryAll(context.Background(), mc, "leads-db", nil)
	require.Error(t, err)
	assert.Nil(t, pages)
	mc.AssertExpectations(t)
}

func TestQueryAll_ContextCancelled(t *testing.T) {
	mc := new(MockClient)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// No expectations registered: cancellation must short-circuit before
	// any API call goes out.
	pages, err := QueryAll(ctx, mc, "leads-db", nil)
	require.Error(t, err)
	assert.Nil(t, pages)
	mc.AssertExpectations(t)
}

func TestCloneQuery(t *testing.T) {
	t.Run("nil base", func(t *testing.T) {
		req := cloneQuery(nil, "c1")
		assert.Equal(t, notionapi.Cursor("c1"), req.StartCursor)
		assert.Nil(t, req.Filter)
	})

	t.Run("copies filter sorts and page size", func(t *testing.T) {
		base := &notionapi.DatabaseQueryRequest{
			Filter:   notionapi.PropertyFilter{Property: "Status"},
			Sorts:    []notionapi.SortObject{{Property: "Name", Direction: notionapi.SortOrderASC}},
			PageSize: 25,
		}
		req := cloneQuery(base, "")
		assert.Equal(t, base.Filter, req.Filter)
		assert.Equal(t, base.Sorts, req.Sorts)
		assert.Equal(t, 25, req.PageSize)
		assert.Equal(t, notionapi.Cursor(""), req.StartCursor)
	})
}
