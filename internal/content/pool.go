// Package content dispatches full-text fetch-and-patch work for updated
// nodes onto a bounded worker pool, independently of the metadata upsert
// that already indexed the rest of each node's fields.
package content

import (
	"context"
	"log/slog"

	"github.com/sha1n/index-bridge/internal/docbuilder"
	"github.com/sha1n/index-bridge/internal/domain"
	"github.com/sourcegraph/conc/pool"
)

// repoClient is the subset of repoclient.Client the pool needs.
type repoClient interface {
	GetTextContent(ctx context.Context, nodeID int64) (string, error)
}

// searchClient is the subset of searchclient.Client the pool needs.
type searchClient interface {
	Get(ctx context.Context, index, id string) (map[string]any, bool, error)
	Update(ctx context.Context, index, id, script string, params map[string]any) error
}

// Pool fetches and patches full text for a batch of nodes, bounded to a
// fixed number of concurrent in-flight fetches.
type Pool struct {
	repo        repoClient
	search      searchClient
	index       string
	concurrency int
	logger      *slog.Logger
}

// New builds a Pool.
func New(repo repoClient, search searchClient, index string, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{repo: repo, search: search, index: index, concurrency: concurrency, logger: slog.Default()}
}

// Dispatch fetches and patches text content for every node whose content
// warrants it, isolating per-node failures: one node's fetch or patch error
// is logged and does not affect any other node in the batch.
func (p *Pool) Dispatch(ctx context.Context, nodes []domain.Node) {
	workers := pool.New().WithMaxGoroutines(p.concurrency)
	for _, n := range nodes {
		node := n
		workers.Go(func() {
			p.processOne(ctx, node)
		})
	}
	workers.Wait()
}

func (p *Pool) processOne(ctx context.Context, node domain.Node) {
	logger := p.logger.With("nodeId", node.ID)

	if stringProp(node.Properties, domain.PropStoreIdentifier) != domain.SpacesStore {
		return
	}

	content, ok := node.Properties[domain.PropContent].(map[string]any)
	if !ok {
		return
	}
	contentID, ok := content[domain.ContentMapContentID]
	if !ok || contentID == nil {
		return
	}

	id, ok := docbuilder.ExtractUUID(node.NodeRef)
	if !ok {
		logger.WarnContext(ctx, "content: nodeRef has no extractable uuid, skipping")
		return
	}

	existing, found, err := p.search.Get(ctx, p.index, id)
	if err != nil {
		logger.WarnContext(ctx, "content: failed reading existing document, skipping", "error", err)
		return
	}
	if found && sameContentID(existing, contentID) {
		return
	}

	text, err := p.repo.GetTextContent(ctx, node.ID)
	if err != nil {
		logger.WarnContext(ctx, "content: failed fetching text content, skipping", "error", err)
		return
	}

	script, params := patchScript(text, contentID)
	if err := p.search.Update(ctx, p.index, id, script, params); err != nil {
		logger.WarnContext(ctx, "content: failed patching document, skipping", "error", err)
	}
}

func sameContentID(existing map[string]any, contentID any) bool {
	key := docbuilder.Encode(domain.FieldContentID)
	current, ok := existing[key]
	if !ok {
		return false
	}
	return current == contentID
}

func patchScript(text string, contentID any) (string, map[string]any) {
	contentKey := docbuilder.Encode(domain.PropContent)
	contentIDKey := docbuilder.Encode(domain.FieldContentID)

	script := "ctx._source['" + contentKey + "'] = params['" + contentKey + "']; " +
		"ctx._source['" + contentIDKey + "'] = params['" + contentIDKey + "'];"

	params := map[string]any{
		contentKey:   text,
		contentIDKey: contentID,
	}
	return script, params
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}
