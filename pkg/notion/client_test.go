package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// mockClient stands in for the Notion API across the package tests.
type mockClient struct {
	mock.Mock
}

var _ Client = (*mockClient)(nil)

func (m *mockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	resp, _ := args.Get(0).(*notionapi.DatabaseQueryResponse)
	return resp, args.Error(1)
}

func (m *mockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	page, _ := args.Get(0).(*notionapi.Page)
	return page, args.Error(1)
}

func (m *mockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	page, _ := args.Get(0).(*notionapi.Page)
	return page, args.Error(1)
}

func TestNewClient_DefaultThrottle(t *testing.T) {
	c := NewClient("secret-token")
	ac, ok := c.(*apiClient)
	require.True(t, ok)
	require.NotNil(t, ac.limiter)
	assert.Equal(t, rate.Limit(defaultRPS), ac.limiter.Limit())
	assert.Equal(t, 1, ac.limiter.Burst())
}

func TestWithRateLimit_Override(t *testing.T) {
	c := NewClient("secret-token", WithRateLimit(10))
	ac := c.(*apiClient)
	require.NotNil(t, ac.limiter)
	assert.Equal(t, rate.Limit(10), ac.limiter.Limit())
	assert.Equal(t, 10, ac.limiter.Burst())
}

func TestWithRateLimit_Disabled(t *testing.T) {
	c := NewClient("secret-token", WithRateLimit(0))
	ac := c.(*apiClient)
	assert.Nil(t, ac.limiter)
}

func TestWithRateLimit_FractionalRate(t *testing.T) {
	// A rate below one request per second still needs a burst of one to
	// admit any call at all.
	c := NewClient("secret-token", WithRateLimit(0.5))
	ac := c.(*apiClient)
	require.NotNil(t, ac.limiter)
	assert.Equal(t, rate.Limit(0.5), ac.limiter.Limit())
	assert.Equal(t, 1, ac.limiter.Burst())
}

func TestWait_NoLimiter(t *testing.T) {
	ac := &apiClient{}
	assert.NoError(t, ac.wait(context.Background()))
}

func TestWait_CancelledContext(t *testing.T) {
	ac := &apiClient{limiter: rate.NewLimiter(1, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ac.wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: rate limit")
}

// The pagination and publish tests program the mock with Return(nil, err)
// for failure paths, so the mock has to map that nil onto typed nil
// pointers rather than panicking on the type assertion.
func TestMockClient_NilReturns(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-err", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(nil, assert.AnError)
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(nil, assert.AnError)
	mc.On("UpdatePage", ctx, "page-err", mock.AnythingOfType("*notionapi.PageUpdateRequest")).
		Return(nil, assert.AnError)

	resp, err := mc.QueryDatabase(ctx, "db-err", &notionapi.DatabaseQueryRequest{})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, assert.AnError)

	page, err := mc.CreatePage(ctx, &notionapi.PageCreateRequest{})
	assert.Nil(t, page)
	assert.ErrorIs(t, err, assert.AnError)

	page, err = mc.UpdatePage(ctx, "page-err", &notionapi.PageUpdateRequest{})
	assert.Nil(t, page)
	assert.ErrorIs(t, err, assert.AnError)

	mc.AssertExpectations(t)
}

func TestMockClient_RoundTrip(t *testing.T) {
	mc := new(mockClient)
	ctx := context.Background()

	want := &notionapi.Page{ID: "page-ballard"}
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(want, nil)

	page, err := mc.CreatePage(ctx, &notionapi.PageCreateRequest{})
	require.NoError(t, err)
	assert.Equal(t, notionapi.ObjectID("page-ballard"), page.ID)
	mc.AssertExpectations(t)
}
