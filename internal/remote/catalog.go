package remote

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dshills/refcache/pkg/types"
)

// ListRequest is one page request against the catalog listing endpoint
type ListRequest struct {
	Page     int
	PageSize int
	Search   string
}

// ListResponse is the catalog listing payload
type ListResponse struct {
	Data  []types.ReferenceRecord `json:"data"`
	Total int                     `json:"total"`
}

// CatalogClient talks to the materials and works listing endpoints
type CatalogClient struct {
	c *client
}

// ListMaterials fetches one page of materials
func (cc *CatalogClient) ListMaterials(ctx context.Context, req ListRequest) (*ListResponse, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(req.Page))
	if req.PageSize > 0 {
		query.Set("pageSize", strconv.Itoa(req.PageSize))
	}
	if req.Search != "" {
		query.Set("search", req.Search)
	}

	var resp ListResponse
	if err := cc.c.doJSON(ctx, http.MethodGet, "/materials", query, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		resp.Data = []types.ReferenceRecord{}
	}
	return &resp, nil
}

// FetchAll pulls the whole catalog in a single bulk page of up to max
// records. It is the fetch side of a full-replace sync.
func (cc *CatalogClient) FetchAll(ctx context.Context, max int) ([]types.ReferenceRecord, error) {
	resp, err := cc.ListMaterials(ctx, ListRequest{Page: 1, PageSize: max})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Query serves browse and search pages remotely when the local replica is
// unavailable
func (cc *CatalogClient) Query(ctx context.Context, raw string, page, pageSize int) (*types.SearchResultPage, error) {
	resp, err := cc.ListMaterials(ctx, ListRequest{Page: page, PageSize: pageSize, Search: raw})
	if err != nil {
		return nil, err
	}
	return &types.SearchResultPage{
		Items:      resp.Data,
		TotalCount: resp.Total,
		Mode:       types.ModePaginated,
	}, nil
}

// ListWorks fetches the works catalog
func (cc *CatalogClient) ListWorks(ctx context.Context) ([]types.WorkItem, error) {
	var resp struct {
		Data []types.WorkItem `json:"data"`
	}
	if err := cc.c.doJSON(ctx, http.MethodGet, "/works", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		resp.Data = []types.WorkItem{}
	}
	return resp.Data, nil
}
