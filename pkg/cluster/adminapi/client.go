// Package adminapi implements cluster.Topology and cluster.Notifier against
// the Caldera master's admin REST API.
package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/calderadb/quotad/pkg/cluster"
	"github.com/calderadb/quotad/pkg/quota"
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	base   string
	client *http.Client
}

var (
	_ cluster.Topology = (*Client)(nil)
	_ cluster.Notifier = (*Client)(nil)
)

func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("admin API URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("admin API URL %q: missing scheme or host", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

func tablePath(table quota.TableName, suffix string) string {
	return fmt.Sprintf("/api/v1/tables/%s/%s/%s",
		url.PathEscape(table.Namespace), url.PathEscape(table.Qualifier), suffix)
}

// TableRegions returns all regions currently belonging to table.
func (c *Client) TableRegions(ctx context.Context, table quota.TableName) ([]quota.Region, error) {
	var body struct {
		Regions []string `json:"regions"`
	}
	if err := c.do(ctx, http.MethodGet, tablePath(table, "regions"), nil, &body); err != nil {
		return nil, err
	}
	regions := make([]quota.Region, 0, len(body.Regions))
	for _, id := range body.Regions {
		regions = append(regions, quota.Region{Table: table, ID: id})
	}
	return regions, nil
}

// NamespaceTables returns all tables in namespace.
func (c *Client) NamespaceTables(ctx context.Context, namespace string) ([]quota.TableName, error) {
	var body struct {
		Tables []string `json:"tables"`
	}
	path := fmt.Sprintf("/api/v1/namespaces/%s/tables", url.PathEscape(namespace))
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	tables := make([]quota.TableName, 0, len(body.Tables))
	for _, name := range body.Tables {
		table, err := quota.ParseTableName(name)
		if err != nil {
			return nil, fmt.Errorf("namespace %q member: %w", namespace, err)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// EnforceViolationPolicy puts policy into effect on table.  The master
// treats re-applying an active policy as a no-op, so the call is idempotent.
func (c *Client) EnforceViolationPolicy(ctx context.Context, table quota.TableName, policy quota.Policy) error {
	body := struct {
		Policy quota.Policy `json:"policy"`
	}{Policy: policy}
	return c.do(ctx, http.MethodPut, tablePath(table, "quota-enforcement"), body, nil)
}

// ClearViolationPolicy lifts any violation policy in effect on table.
func (c *Client) ClearViolationPolicy(ctx context.Context, table quota.TableName) error {
	return c.do(ctx, http.MethodDelete, tablePath(table, "quota-enforcement"), nil, nil)
}
