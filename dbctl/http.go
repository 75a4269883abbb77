package dbctl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/INLOpen/nexusvault/core"
)

// HTTPControl drives the node's admin HTTP endpoint:
//
//	POST /admin/snapshot?tag=<tag>
//	POST /admin/refresh?keyspace=<ks>&cf=<cf>
//	POST /admin/clear_snapshot?tag=<tag>
type HTTPControl struct {
	baseURL string
	client  *http.Client
}

func NewHTTPControl(baseURL string, timeout time.Duration) *HTTPControl {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPControl{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

var _ Control = (*HTTPControl)(nil)

func (c *HTTPControl) post(ctx context.Context, path string, params url.Values) error {
	op := "dbctl." + path
	u := fmt.Sprintf("%s/admin/%s?%s", c.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return core.NewError(core.KindDBControl, op, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return core.NewError(core.KindDBControl, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return core.Errorf(core.KindDBControl, op, "status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (c *HTTPControl) Snapshot(ctx context.Context, tag string) error {
	return c.post(ctx, "snapshot", url.Values{"tag": {tag}})
}

func (c *HTTPControl) Refresh(ctx context.Context, keyspace, columnFamily string) error {
	return c.post(ctx, "refresh", url.Values{"keyspace": {keyspace}, "cf": {columnFamily}})
}

func (c *HTTPControl) ClearSnapshot(ctx context.Context, tag string) error {
	return c.post(ctx, "clear_snapshot", url.Values{"tag": {tag}})
}
