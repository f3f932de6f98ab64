// Package metadata resolves full node records for a batch of "update"
// transaction-nodes: metadata fetch, ACL-readers attachment, and
// namespace-prefix rewriting of property keys.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sha1n/index-bridge/internal/domain"
	"github.com/sha1n/index-bridge/internal/namespace"
)

// repoClient is the subset of repoclient.Client the resolver needs.
type repoClient interface {
	GetMetadata(ctx context.Context, nodeID int64) (domain.NodeContainer, error)
	GetAclReaders(ctx context.Context, aclIDs []int) (domain.AclReadersResponse, error)
}

// Resolver issues one metadata request per node and a single batched
// ACL-readers request, and attaches readers to each node by ACL id.
type Resolver struct {
	client repoClient
	logger *slog.Logger
}

// New builds a Resolver.
func New(client repoClient) *Resolver {
	return &Resolver{client: client, logger: slog.Default()}
}

// Resolve fetches full metadata for every "u"-status transaction-node,
// rewrites property keys using mapping, and attaches ACL readers.
// Transaction-nodes not in StatusUpdate are ignored; the caller is
// expected to have already classified update vs delete.
func (r *Resolver) Resolve(ctx context.Context, txnNodes []domain.TransactionNode, mapping *namespace.Mapping) ([]domain.Node, error) {
	nodes := make([]domain.Node, 0, len(txnNodes))

	for _, txnNode := range txnNodes {
		if txnNode.Status != domain.StatusUpdate {
			continue
		}

		container, err := r.client.GetMetadata(ctx, txnNode.ID)
		if err != nil {
			return nil, fmt.Errorf("fetching metadata for node %d: %w", txnNode.ID, err)
		}
		if len(container.Nodes) == 0 {
			r.logger.WarnContext(ctx, "metadata: no node returned for id, skipping", "nodeId", txnNode.ID)
			continue
		}

		node := container.Nodes[0]
		node.Properties = rewriteProperties(ctx, node.Properties, mapping, r.logger)
		nodes = append(nodes, node)
	}

	if len(nodes) == 0 {
		return nodes, nil
	}

	uniqueAclIDs := distinctAclIDs(nodes)
	aclResp, err := r.client.GetAclReaders(ctx, uniqueAclIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching acl readers: %w", err)
	}

	readersByAcl := make(map[int][]string, len(aclResp.AclsReaders))
	deniedByAcl := make(map[int][]string, len(aclResp.AclsReaders))
	for _, acl := range aclResp.AclsReaders {
		readersByAcl[acl.AclID] = acl.Readers
		deniedByAcl[acl.AclID] = acl.Denied
	}

	for i := range nodes {
		readers, ok := readersByAcl[nodes[i].AclID]
		if !ok {
			readers = []string{}
		}
		nodes[i].Readers = readers
		nodes[i].Denied = deniedByAcl[nodes[i].AclID]
	}

	return nodes, nil
}

func distinctAclIDs(nodes []domain.Node) []int {
	seen := make(map[int]struct{}, len(nodes))
	var ids []int
	for _, n := range nodes {
		if _, ok := seen[n.AclID]; ok {
			continue
		}
		seen[n.AclID] = struct{}{}
		ids = append(ids, n.AclID)
	}
	return ids
}

// rewriteProperties translates every {uri}localName key into
// prefix:localName using mapping. A key whose URI has no known prefix
// falls back to the full {uri}localName form and is logged.
func rewriteProperties(ctx context.Context, raw map[string]any, mapping *namespace.Mapping, logger *slog.Logger) map[string]any {
	if raw == nil {
		return nil
	}

	out := make(map[string]any, len(raw))
	for key, value := range raw {
		braceEnd := strings.LastIndex(key, "}")
		if braceEnd < 0 || key[0] != '{' {
			out[key] = value
			continue
		}

		uri := key[:braceEnd+1]
		local := key[braceEnd+1:]

		prefix, ok := mapping.Prefix(uri)
		if !ok {
			logger.WarnContext(ctx, "metadata: no namespace prefix for uri, using raw qname", "uri", uri, "key", key)
			out[key] = value
			continue
		}

		out[prefix+":"+local] = value
	}
	return out
}
