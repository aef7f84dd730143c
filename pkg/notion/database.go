package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll walks a database query to completion and returns every matching
// page. Each request for the next page is issued in the background while
// the current page of results is consumed, so pagination costs roughly one
// round trip regardless of how the caller paces the loop.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	type result struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}

	fetch := func(req *notionapi.DatabaseQueryRequest) chan result {
		ch := make(chan result, 1)
		go func() {
			resp, err := c.QueryDatabase(ctx, dbID, req)
			ch <- result{resp: resp, err: err}
		}()
		return ch
	}

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "notion: query all cancelled")
	}

	var all []notionapi.Page
	pending := fetch(pageRequest(filter, nil))
	for {
		var res result
		select {
		case res = <-pending:
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "notion: query all cancelled")
		}
		if res.err != nil {
			return nil, eris.Wrap(res.err, "notion: query all page")
		}

		all = append(all, res.resp.Results...)
		if !res.resp.HasMore {
			return all, nil
		}
		pending = fetch(pageRequest(filter, res.resp))
	}
}

// pageRequest builds the query for one page of results, carrying over the
// caller's filter, sorts and page size. A nil prev means the first page.
func pageRequest(filter *notionapi.DatabaseQueryRequest, prev *notionapi.DatabaseQueryResponse) *notionapi.DatabaseQueryRequest {
	req := &notionapi.DatabaseQueryRequest{}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}
	if prev != nil {
		req.StartCursor = prev.NextCursor
	}
	return req
}

// FindPageByTitle returns the first page whose title property equals name,
// or nil when nothing matches. Title columns answer rich_text filter
// conditions in the Notion query API.
func FindPageByTitle(ctx context.Context, c Client, dbID, titleProp, name string) (*notionapi.Page, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: titleProp,
			RichText: &notionapi.TextFilterCondition{
				Equals: name,
			},
		},
	}

	pages, err := QueryAll(ctx, c, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "notion: find page by title")
	}
	if len(pages) == 0 {
		return nil, nil
	}
	return &pages[0], nil
}
