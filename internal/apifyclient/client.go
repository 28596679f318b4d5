// Package apifyclient is the HTTP client for the remote job platform (spec §4.7's "remote
// job" target). Grounded on the teacher's general policy-chain HTTP approach
// (svrcore/svrcore.go) generalized from an inbound server framework to an outbound client,
// with transient-failure retries wired via github.com/cenkalti/backoff/v4 the way the rest
// of the retrieval pack reaches for it around flaky network calls.
package apifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/apify/apify-mcp-server-sub001/internal/catalog"
)

// Client talks to the remote job platform's REST API.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// New returns a Client. apiToken may be empty only for documentation-only, unauthenticated
// calls (spec §6 "allowUnauthMode").
func New(baseURL, apiToken string) *Client {
	return &Client{baseURL: baseURL, apiToken: apiToken, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// CallOptions bounds a single run's resource usage (spec §4.7 "Memory option policy").
type CallOptions struct {
	MemoryMbytes     *int
	TimeoutSeconds   *int
	PlatformMaxMbytes int
}

// ClampedMemoryMbytes applies spec §4.7's clamp: requested memory in [128, platformMax];
// the job's own default when unset; never exceeding platformMax.
func (o CallOptions) ClampedMemoryMbytes(jobDefault int) int {
	if o.MemoryMbytes == nil {
		return min(jobDefault, o.PlatformMaxMbytes)
	}
	m := *o.MemoryMbytes
	if m < 128 {
		m = 128
	}
	if m > o.PlatformMaxMbytes {
		m = o.PlatformMaxMbytes
	}
	return m
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Run is the subset of a remote job run's state the Execution Engine needs.
type Run struct {
	ID            string
	DatasetID     string
	Status        string
	StatusMessage string
}

// StartRun starts a remote job with validated input, returning its run handle
// (spec §4.7 step 1).
func (c *Client) StartRun(ctx context.Context, actorFullName string, input map[string]interface{}, opts CallOptions) (*Run, error) {
	var run Run
	err := c.doJSON(ctx, http.MethodPost, "/v2/acts/"+actorFullName+"/runs", input, &run)
	return &run, err
}

// GetRun fetches the current run status (also implements progress.RunStatusFetcher via
// the thin adapter in internal/actorrun).
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	err := c.doJSON(ctx, http.MethodGet, "/v2/actor-runs/"+runID, nil, &run)
	return &run, err
}

// AbortRun issues a best-effort abort (spec §4.7 step 3: "Failures of the abort RPC itself
// are logged but swallowed" — the caller, not this method, decides to swallow).
func (c *Client) AbortRun(ctx context.Context, runID string, graceful bool) error {
	path := fmt.Sprintf("/v2/actor-runs/%s/abort?gracePeriodSecs=%s", runID, boolToGrace(graceful))
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

func boolToGrace(graceful bool) string {
	if graceful {
		return "30"
	}
	return "0"
}

// DatasetPage is one page of dataset items.
type DatasetPage struct {
	Items  []map[string]interface{}
	Offset int
	Total  int
}

// ListDatasetItems fetches one page of a run's result dataset (spec §4.7 step 4).
func (c *Client) ListDatasetItems(ctx context.Context, datasetID string, offset, limit int) (DatasetPage, error) {
	path := fmt.Sprintf("/v2/datasets/%s/items?offset=%d&limit=%d", datasetID, offset, limit)
	var items []map[string]interface{}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &items); err != nil {
		return DatasetPage{}, err
	}
	return DatasetPage{Items: items, Offset: offset, Total: offset + len(items)}, nil
}

// StorageView describes the display/transformation hints the Execution Engine projects
// preview items onto (spec §4.7 step 6: "fields present in transformation.fields or
// display.properties").
type StorageView struct {
	Transformation struct {
		Fields []string `json:"fields"`
	} `json:"transformation"`
	Display struct {
		Properties map[string]interface{} `json:"properties"`
	} `json:"display"`
}

// GetDefaultBuildViews fetches the job's default build's declared storage views
// (spec §4.7 step 4).
func (c *Client) GetDefaultBuildViews(ctx context.Context, actorFullName string) (map[string]StorageView, error) {
	var build struct {
		Views map[string]StorageView `json:"views"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v2/acts/"+actorFullName+"/builds/default", nil, &build)
	return build.Views, err
}

// StoreListing is one search hit from the Actor store (spec §7 "a pointer to the recovery
// tool (store-search, fetch-actor-details)").
type StoreListing struct {
	FullName    string `json:"fullName"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Username    string `json:"username"`
}

// SearchActors queries the Actor store's search endpoint, backing the store-search /
// store-search-internal tools.
func (c *Client) SearchActors(ctx context.Context, term string, limit int) ([]StoreListing, error) {
	path := fmt.Sprintf("/v2/store?search=%s&limit=%d", url.QueryEscape(term), limit)
	var page struct {
		Data struct {
			Items []StoreListing `json:"items"`
		} `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return page.Data.Items, nil
}

// DocPage is one documentation article, returned by docs-search and fetch-apify-docs.
type DocPage struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SearchApifyDocs queries the documentation search index.
func (c *Client) SearchApifyDocs(ctx context.Context, term string, limit int) ([]DocPage, error) {
	path := fmt.Sprintf("/v2/docs/search?query=%s&limit=%d", url.QueryEscape(term), limit)
	var results []DocPage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// FetchApifyDocs fetches one documentation page by path.
func (c *Client) FetchApifyDocs(ctx context.Context, docPath string) (*DocPage, error) {
	var page DocPage
	if err := c.doJSON(ctx, http.MethodGet, "/v2/docs/page?path="+url.QueryEscape(docPath), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FetchDefinition implements catalog.ActorDefinitionFetcher.
func (c *Client) FetchDefinition(ctx context.Context, identifier string) (*catalog.ActorDefinition, error) {
	var def struct {
		Name          string                 `json:"name"`
		Title         string                 `json:"title"`
		Description   string                 `json:"description"`
		InputSchema   map[string]interface{} `json:"inputSchema"`
		DefaultMemory *int                   `json:"defaultRunOptions.memoryMbytes"`
		WebServerPath string                 `json:"webServerMcpPath"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v2/acts/"+identifier, nil, &def); err != nil {
		return nil, err
	}
	return &catalog.ActorDefinition{
		FullName:      identifier,
		Title:         def.Title,
		Description:   def.Description,
		InputSchema:   def.InputSchema,
		MemoryMbytes:  def.DefaultMemory,
		WebServerPath: def.WebServerPath,
	}, nil
}

// doJSON issues one request with exponential-backoff retry on transient failures (network
// errors and 5xx), grounded in the pack's use of cenkalti/backoff for exactly this shape
// of "retry a flaky outbound call" problem. 4xx responses are never retried: they are user
// errors the dispatcher must classify as soft_fail, not transient failures to paper over.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var buf []byte
	if body != nil {
		var err error
		buf, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(buf))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // network error: retry
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(&StatusError{Code: resp.StatusCode, Body: readAll(resp.Body)})
		}
		if resp.StatusCode >= 500 {
			return &StatusError{Code: resp.StatusCode, Body: readAll(resp.Body)} // retry
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}, policy)
}

func readAll(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 64*1024))
	return string(b)
}

// StatusError carries the platform's HTTP status so the dispatcher can classify it
// (spec §7: 4xx -> soft_fail, 5xx -> failed).
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string { return fmt.Sprintf("apifyclient: http %d: %s", e.Code, e.Body) }

// IsClientError reports whether e is a 4xx (spec §4.6 "HTTP 4xx ... soft_fail").
func (e *StatusError) IsClientError() bool { return e.Code >= 400 && e.Code < 500 }
