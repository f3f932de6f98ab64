// Package repoclient talks to the content repository's SOLR-style admin
// REST API: GET/POST of JSON payloads over a pluggable, pooled transport.
package repoclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	json "github.com/segmentio/encoding/json"
	"github.com/sha1n/index-bridge/internal/config"
	"github.com/sha1n/index-bridge/internal/domain"
	"github.com/sha1n/index-bridge/internal/transport"
	"golang.org/x/time/rate"
)

// ErrTransport is the single error kind surfaced for network failures, TLS
// handshake failures, and non-2xx responses. Callers treat it as retriable
// on the next cycle.
var ErrTransport = errors.New("repository transport error")

// HTTPDoer abstracts the actual network call so it can be swapped out for
// tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the repository's HTTP client: GET(path) and POST(path, body),
// plus one method per endpoint consumed by the pipeline.
type Client struct {
	baseURL string
	doer    HTTPDoer
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New builds a Client wired to the default pooled transport for the given
// settings.
func New(cfg config.RepositorySettings) (*Client, error) {
	httpClient, err := transport.New(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithDoer(cfg, httpClient), nil
}

// NewWithDoer builds a Client around a caller-supplied HTTPDoer, primarily
// for testing.
func NewWithDoer(cfg config.RepositorySettings, doer HTTPDoer) *Client {
	base := strings.TrimSuffix(cfg.URL, "/") + "/" + strings.Trim(cfg.SolrPath, "/")

	var limiter *rate.Limiter
	if cfg.RateLimitQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitQPS), 1)
	}

	return &Client{
		baseURL: base,
		doer:    doer,
		limiter: limiter,
		logger:  slog.Default(),
	}
}

type correlationIDKey struct{}

// WithCorrelationID attaches a per-cycle correlation id to the context so
// every request the client issues can be traced back to one cycle.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

func correlationIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return "-"
}

// GET issues a GET request against path (which may include a query
// string) and returns the raw response body.
func (c *Client) GET(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// POST issues a POST request with a JSON-encoded body and returns the raw
// response body.
func (c *Client) POST(ctx context.Context, path string, body any) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(encoded))
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", ErrTransport, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimPrefix(path, "/"), body)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrTransport, err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	corrID := correlationIDFrom(ctx)
	c.logger.DebugContext(ctx, "repository request", "method", method, "path", path, "correlationId", corrID)

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s %s returned status %d", ErrTransport, method, path, resp.StatusCode)
	}

	return respBody, nil
}

// GetTransactions fetches a bounded window of transactions starting at
// minTxnID.
func (c *Client) GetTransactions(ctx context.Context, minTxnID int64, maxResults int) (domain.TransactionContainer, error) {
	path := fmt.Sprintf("transactions?minTxnId=%d&maxResults=%d", minTxnID, maxResults)
	body, err := c.GET(ctx, path)
	if err != nil {
		return domain.TransactionContainer{}, err
	}
	var out domain.TransactionContainer
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.TransactionContainer{}, fmt.Errorf("parsing transactions response: %w", err)
	}
	return out, nil
}

// GetNodes fetches the per-node change headers for the given transaction
// window.
func (c *Client) GetNodes(ctx context.Context, fromTxnID, toTxnID int64) (domain.TransactionNodeContainer, error) {
	payload := map[string]int64{"fromTxnId": fromTxnID, "toTxnId": toTxnID}
	body, err := c.POST(ctx, "nodes", payload)
	if err != nil {
		return domain.TransactionNodeContainer{}, err
	}
	var out domain.TransactionNodeContainer
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.TransactionNodeContainer{}, fmt.Errorf("parsing nodes response: %w", err)
	}
	return out, nil
}

// GetMetadata fetches full metadata for a single node id.
func (c *Client) GetMetadata(ctx context.Context, nodeID int64) (domain.NodeContainer, error) {
	payload := map[string]any{
		"nodeIds":                    []int64{nodeID},
		"includeAclId":               true,
		"includeOwner":               true,
		"includePaths":               true,
		"includeParentAssociations":  true,
		"includeChildIds":            false,
		"includeChildAssociations":   false,
	}
	body, err := c.POST(ctx, "metadata", payload)
	if err != nil {
		return domain.NodeContainer{}, err
	}
	var out domain.NodeContainer
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.NodeContainer{}, fmt.Errorf("parsing metadata response: %w", err)
	}
	return out, nil
}

// GetAclReaders fetches the readers/denied lists for a set of ACL ids in
// one call.
func (c *Client) GetAclReaders(ctx context.Context, aclIDs []int) (domain.AclReadersResponse, error) {
	payload := map[string][]int{"aclIds": aclIDs}
	body, err := c.POST(ctx, "aclsReaders", payload)
	if err != nil {
		return domain.AclReadersResponse{}, err
	}
	var out domain.AclReadersResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.AclReadersResponse{}, fmt.Errorf("parsing aclsReaders response: %w", err)
	}
	return out, nil
}

// GetModelDiffs asks the repository for the current content model list
// (an empty models array means "give me everything").
func (c *Client) GetModelDiffs(ctx context.Context) (domain.ModelDiffs, error) {
	payload := map[string][]string{"models": {}}
	body, err := c.POST(ctx, "modelsdiff", payload)
	if err != nil {
		return domain.ModelDiffs{}, err
	}
	var out domain.ModelDiffs
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.ModelDiffs{}, fmt.Errorf("parsing modelsdiff response: %w", err)
	}
	return out, nil
}

// GetModelXML fetches the raw XML definition for one content model.
func (c *Client) GetModelXML(ctx context.Context, modelQName string) ([]byte, error) {
	path := "model?modelQName=" + url.QueryEscape(modelQName)
	return c.GET(ctx, path)
}

// GetTextContent fetches the extracted text for one node's content.
func (c *Client) GetTextContent(ctx context.Context, nodeID int64) (string, error) {
	path := "textContent?nodeId=" + strconv.FormatInt(nodeID, 10)
	body, err := c.GET(ctx, path)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
