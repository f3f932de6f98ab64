// Package searchclient is a thin wrapper over the OpenSearch-compatible
// REST and bulk APIs: index lifecycle, single-document get/update, and
// bulk upsert.
package searchclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/segmentio/encoding/json"
	"github.com/sha1n/index-bridge/internal/config"
)

// ErrTransport mirrors repoclient.ErrTransport for the search engine side
// of the pipeline: network, TLS, and non-2xx failures collapse to one kind.
var ErrTransport = errors.New("search transport error")

// HTTPDoer is the same seam used by repoclient, so both clients can share
// a fake in tests without depending on each other.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the search engine's REST client.
type Client struct {
	baseURL string
	doer    HTTPDoer
}

// New builds a Client for the given search settings using the standard
// library's pooled transport; TLS material is loaded the same way the
// repository transport loads it.
func New(cfg config.SearchSettings) (*Client, error) {
	httpClient := &http.Client{}
	if cfg.Protocol == config.SearchProtocolHTTPS {
		tlsClient, err := newTLSClient(cfg)
		if err != nil {
			return nil, err
		}
		httpClient = tlsClient
	}
	return NewWithDoer(cfg, httpClient), nil
}

// NewWithDoer builds a Client around a caller-supplied HTTPDoer.
func NewWithDoer(cfg config.SearchSettings, doer HTTPDoer) *Client {
	base := fmt.Sprintf("%s://%s:%d", cfg.Protocol, cfg.Host, cfg.Port)
	return &Client{baseURL: base, doer: doer}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimPrefix(path, "/"), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: building request: %v", ErrTransport, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}
	return resp.StatusCode, respBody, nil
}

// Exists reports whether the named index exists.
func (c *Client) Exists(ctx context.Context, index string) (bool, error) {
	status, _, err := c.do(ctx, http.MethodHead, index, nil)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	if status < 200 || status >= 300 {
		return false, fmt.Errorf("%w: HEAD %s returned status %d", ErrTransport, index, status)
	}
	return true, nil
}

// CreateIndex creates an index with the given mapping. Creating an index
// that already exists is not an error.
func (c *Client) CreateIndex(ctx context.Context, index string, mapping map[string]any) error {
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("encoding mapping: %w", err)
	}
	status, respBody, err := c.do(ctx, http.MethodPut, index, body)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		return nil
	}
	if strings.Contains(string(respBody), "resource_already_exists_exception") {
		return nil
	}
	return fmt.Errorf("%w: PUT %s returned status %d: %s", ErrTransport, index, status, respBody)
}

// Get fetches a document by id, returning ok=false (no error) when it does
// not exist.
func (c *Client) Get(ctx context.Context, index, id string) (map[string]any, bool, error) {
	status, body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/_doc/%s", index, id), nil)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	if status < 200 || status >= 300 {
		return nil, false, fmt.Errorf("%w: GET %s/_doc/%s returned status %d", ErrTransport, index, id, status)
	}

	var doc struct {
		Source map[string]any `json:"_source"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false, fmt.Errorf("parsing document: %w", err)
	}
	return doc.Source, true, nil
}

// Put overwrites a document's entire body, used to write the single
// control-index cursor document.
func (c *Client) Put(ctx context.Context, index, id string, source map[string]any) error {
	body, err := json.Marshal(source)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	status, respBody, err := c.do(ctx, http.MethodPut, fmt.Sprintf("%s/_doc/%s", index, id), body)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: PUT %s/_doc/%s returned status %d: %s", ErrTransport, index, id, status, respBody)
	}
	return nil
}

// Update applies an inline script to an existing document, used for
// content patching.
func (c *Client) Update(ctx context.Context, index, id, script string, params map[string]any) error {
	payload := map[string]any{
		"script": map[string]any{
			"source": script,
			"lang":   "painless",
			"params": params,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}
	status, respBody, err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/_update/%s", index, id), body)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: POST %s/_update/%s returned status %d: %s", ErrTransport, index, id, status, respBody)
	}
	return nil
}

// DeleteByQuery deletes every document where field matches value, returning
// the number of documents deleted as reported by the search engine.
func (c *Client) DeleteByQuery(ctx context.Context, index, field, value string) (int, error) {
	payload := map[string]any{
		"query": map[string]any{
			"match": map[string]any{field: value},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding delete query: %w", err)
	}
	status, respBody, err := c.do(ctx, http.MethodPost, index+"/_delete_by_query", body)
	if err != nil {
		return 0, err
	}
	if status < 200 || status >= 300 {
		return 0, fmt.Errorf("%w: POST %s/_delete_by_query returned status %d: %s", ErrTransport, index, status, respBody)
	}

	var result struct {
		Deleted int `json:"deleted"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("parsing delete_by_query response: %w", err)
	}
	return result.Deleted, nil
}

// BulkItem describes a single upsert operation for the bulk API: an
// idempotent, retry-tolerant update-with-upsert-fallback.
type BulkItem struct {
	ID              string
	Script          string
	Params          map[string]any
	RetryOnConflict int
}

// BulkItemResult reports the outcome of a single bulk item.
type BulkItemResult struct {
	ID      string
	Success bool
	Error   string
}

// BulkResult is the outcome of one bulk call: per-item results, and
// whether the batch as a whole should be treated as failed.
type BulkResult struct {
	Items       []BulkItemResult
	AllSucceeded bool
}

// Bulk executes an ordered set of upsert operations against index and
// reports per-item success/failure. A single item failure marks the whole
// batch as failed for the caller's cycle.
func (c *Client) Bulk(ctx context.Context, index string, items []BulkItem) (*BulkResult, error) {
	if len(items) == 0 {
		return &BulkResult{AllSucceeded: true}, nil
	}

	var buf bytes.Buffer
	for _, item := range items {
		retry := item.RetryOnConflict
		if retry == 0 {
			retry = 5
		}
		action := map[string]any{
			"update": map[string]any{
				"_index":             index,
				"_id":                item.ID,
				"_retry_on_conflict": retry,
			},
		}
		source := map[string]any{
			"script": map[string]any{
				"source": item.Script,
				"lang":   "painless",
				"params": item.Params,
			},
			"upsert": item.Params,
		}
		writeNDJSONLine(&buf, action)
		writeNDJSONLine(&buf, source)
	}

	status, body, err := c.do(ctx, http.MethodPost, "_bulk", buf.Bytes())
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%w: POST _bulk returned status %d: %s", ErrTransport, status, body)
	}

	return parseBulkResponse(body)
}

func writeNDJSONLine(buf *bytes.Buffer, v any) {
	encoded, _ := json.Marshal(v)
	buf.Write(encoded)
	buf.WriteByte('\n')
}

func parseBulkResponse(body []byte) (*BulkResult, error) {
	var resp struct {
		Items []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing bulk response: %w", err)
	}

	result := &BulkResult{AllSucceeded: true}
	for _, item := range resp.Items {
		for _, entry := range item {
			itemResult := BulkItemResult{ID: entry.ID, Success: true}
			if entry.Error != nil || entry.Status >= 300 {
				itemResult.Success = false
				result.AllSucceeded = false
				if entry.Error != nil {
					itemResult.Error = entry.Error.Type + ": " + entry.Error.Reason
				}
			}
			result.Items = append(result.Items, itemResult)
		}
	}
	return result, nil
}
