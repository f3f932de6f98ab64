// Package pipeline runs the periodic index cycle: read the cursor, fetch a
// bounded window of transactions and their nodes, resolve metadata, upsert
// or delete in the search index, advance the cursor, and dispatch full-text
// content patching for the batch just indexed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sha1n/index-bridge/internal/docbuilder"
	"github.com/sha1n/index-bridge/internal/domain"
	"github.com/sha1n/index-bridge/internal/namespace"
	"github.com/sha1n/index-bridge/internal/repoclient"
	"github.com/sha1n/index-bridge/internal/searchclient"
)

type repoClient interface {
	GetTransactions(ctx context.Context, minTxnID int64, maxResults int) (domain.TransactionContainer, error)
	GetNodes(ctx context.Context, fromTxnID, toTxnID int64) (domain.TransactionNodeContainer, error)
}

type searchBulkClient interface {
	Bulk(ctx context.Context, index string, items []searchclient.BulkItem) (*searchclient.BulkResult, error)
	DeleteByQuery(ctx context.Context, index, field, value string) (int, error)
}

type indexManager interface {
	Ready() bool
	Ensure(ctx context.Context) error
	ReadCursor(ctx context.Context) (int64, error)
	WriteCursor(ctx context.Context, txnID int64) error
}

type namespaceMapper interface {
	Sync(ctx context.Context) error
	Snapshot() *namespace.Mapping
}

type metadataResolver interface {
	Resolve(ctx context.Context, txnNodes []domain.TransactionNode, mapping *namespace.Mapping) ([]domain.Node, error)
}

type contentDispatcher interface {
	Dispatch(ctx context.Context, nodes []domain.Node)
}

// Config bundles the tunables a Controller needs beyond its collaborators.
type Config struct {
	DataIndex     string
	MaxResults    int
	CycleInterval time.Duration
	LockFile      string
	StateFile     string
	DeleteRetries int
	DeleteBackoff time.Duration
}

// Controller drives the sync cycle described above. Every collaborator is
// injected so the state machine itself has no I/O of its own beyond the
// advisory lock and diagnostic state file.
type Controller struct {
	cfg       Config
	repo      repoClient
	search    searchBulkClient
	indexMgr  indexManager
	mapper    namespaceMapper
	resolver  metadataResolver
	content   contentDispatcher
	logger    *slog.Logger
}

// New builds a Controller.
func New(cfg Config, repo repoClient, search searchBulkClient, indexMgr indexManager, mapper namespaceMapper, resolver metadataResolver, content contentDispatcher) *Controller {
	return &Controller{
		cfg:      cfg,
		repo:     repo,
		search:   search,
		indexMgr: indexMgr,
		mapper:   mapper,
		resolver: resolver,
		content:  content,
		logger:   slog.Default(),
	}
}

// Run acquires the advisory startup lock, ensures the indices exist, and
// then runs one cycle per tick until ctx is canceled. A tick that arrives
// while the previous cycle is still executing is dropped by time.Ticker
// itself, so cycles never overlap.
func (c *Controller) Run(ctx context.Context) error {
	lock := newStartupLock(c.cfg.LockFile)
	if err := lock.Acquire(); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return err
		}
		return fmt.Errorf("acquiring startup lock: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			c.logger.Warn("pipeline: failed releasing startup lock", "error", err)
		}
	}()

	if err := c.indexMgr.Ensure(ctx); err != nil {
		return fmt.Errorf("ensuring indices: %w", err)
	}

	ticker := time.NewTicker(c.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

// RunOnce executes exactly one cycle synchronously, bypassing the ticker.
// Exposed for operational one-shot invocations and for tests.
func (c *Controller) RunOnce(ctx context.Context) {
	c.runCycle(ctx)
}

// runCycle executes exactly one pass of the state machine. Any failure
// aborts the cycle without advancing the cursor; the next tick retries from
// the same starting point. Only per-model namespace-sync failures, nodes
// for which the repository returns no metadata, delete-by-query failures and
// content-patching failures are logged-and-skipped rather than
// cycle-aborting.
func (c *Controller) runCycle(ctx context.Context) {
	correlationID := uuid.NewString()
	ctx = repoclient.WithCorrelationID(ctx, correlationID)
	logger := c.logger.With("correlationId", correlationID)

	snap := snapshot{LastCorrelation: correlationID, LastCycleAt: currentTime()}

	if err := c.mapper.Sync(ctx); err != nil {
		logger.ErrorContext(ctx, "pipeline: namespace sync failed, aborting cycle", "error", err)
		c.persist(logger, withError(snap, err))
		return
	}

	cursor, err := c.indexMgr.ReadCursor(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "pipeline: reading cursor failed, aborting cycle", "error", err)
		c.persist(logger, withError(snap, err))
		return
	}

	txns, err := c.repo.GetTransactions(ctx, cursor+1, c.cfg.MaxResults)
	if err != nil {
		logger.ErrorContext(ctx, "pipeline: fetching transactions failed, aborting cycle", "error", err)
		c.persist(logger, withError(snap, err))
		return
	}
	if len(txns.Transactions) == 0 {
		logger.DebugContext(ctx, "pipeline: no new transactions")
		snap.LastTransaction = cursor
		c.persist(logger, snap)
		return
	}

	// The cursor must advance only to the max id actually present in this
	// fetched window, never the repository-global maxTxnId: when the
	// backlog exceeds MaxResults, the global max can sit far ahead of what
	// was just fetched, and advancing past it would silently skip every
	// transaction in between.
	fromTxnID := txns.Transactions[0].ID
	toTxnID := maxTransactionID(txns.Transactions)

	nodeContainer, err := c.repo.GetNodes(ctx, fromTxnID, toTxnID)
	if err != nil {
		logger.ErrorContext(ctx, "pipeline: fetching nodes failed, aborting cycle", "error", err)
		c.persist(logger, withError(snap, err))
		return
	}

	updateNodes, deleteNodes, err := splitByStatus(nodeContainer.Nodes)
	if err != nil {
		logger.ErrorContext(ctx, "pipeline: invalid transaction-node status, aborting cycle", "error", err)
		c.persist(logger, withError(snap, err))
		return
	}

	resolved, err := c.resolver.Resolve(ctx, updateNodes, c.mapper.Snapshot())
	if err != nil {
		logger.ErrorContext(ctx, "pipeline: resolving metadata failed, aborting cycle", "error", err)
		c.persist(logger, withError(snap, err))
		return
	}

	if err := c.applyUpserts(ctx, resolved, txns.MaxTxnCommitTime); err != nil {
		logger.ErrorContext(ctx, "pipeline: bulk upsert failed, aborting cycle", "error", err)
		c.persist(logger, withError(snap, err))
		return
	}

	c.applyDeletes(ctx, logger, deleteNodes)

	if err := c.indexMgr.WriteCursor(ctx, toTxnID); err != nil {
		logger.ErrorContext(ctx, "pipeline: advancing cursor failed, aborting cycle", "error", err)
		c.persist(logger, withError(snap, err))
		return
	}

	c.content.Dispatch(ctx, resolved)

	snap.LastTransaction = toTxnID
	c.persist(logger, snap)
	logger.InfoContext(ctx, "pipeline: cycle complete", "fromTxnId", fromTxnID, "toTxnId", toTxnID, "updated", len(resolved), "deleted", len(deleteNodes))
}

func (c *Controller) applyUpserts(ctx context.Context, nodes []domain.Node, txnCommitTimeMs int64) error {
	if len(nodes) == 0 {
		return nil
	}
	items, err := docbuilder.BuildBulkItems(nodes, txnCommitTimeMs)
	if err != nil {
		return fmt.Errorf("building bulk items: %w", err)
	}
	result, err := c.search.Bulk(ctx, c.cfg.DataIndex, items)
	if err != nil {
		return fmt.Errorf("bulk upsert: %w", err)
	}
	if !result.AllSucceeded {
		failed := 0
		for _, item := range result.Items {
			if !item.Success {
				failed++
			}
		}
		return fmt.Errorf("%w: %d of %d item(s) failed", ErrConsistency, failed, len(result.Items))
	}
	return nil
}

// applyDeletes deletes each node's document by its extracted uuid. An
// attempt that fails or reports zero documents deleted is retried after a
// fixed backoff; retrying stops at the first attempt that deletes at least
// one document. A final attempt that deletes nothing is not logged.
func (c *Controller) applyDeletes(ctx context.Context, logger *slog.Logger, deleteNodes []domain.TransactionNode) {
	retries := c.cfg.DeleteRetries
	if retries < 1 {
		retries = 3
	}
	backoff := c.cfg.DeleteBackoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	for _, n := range deleteNodes {
		id, ok := docbuilder.DeleteID(n.NodeRef)
		if !ok {
			logger.WarnContext(ctx, "pipeline: delete nodeRef has no extractable uuid, skipping", "nodeRef", n.NodeRef)
			continue
		}

		var lastErr error
		for attempt := 0; attempt < retries; attempt++ {
			deleted, err := c.search.DeleteByQuery(ctx, c.cfg.DataIndex, "id", id)
			if err == nil {
				if deleted >= 1 || attempt == retries-1 {
					lastErr = nil
					break
				}
			}
			lastErr = err
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
		if lastErr != nil {
			logger.WarnContext(ctx, "pipeline: delete-by-query exhausted retries", "id", id, "error", lastErr)
		}
	}
}

// maxTransactionID returns the largest id among the fetched transactions.
// Callers must never substitute the repository's global maxTxnId here: the
// cursor may only advance as far as this window actually covers.
func maxTransactionID(txns []domain.Transaction) int64 {
	var max int64
	for _, t := range txns {
		if t.ID > max {
			max = t.ID
		}
	}
	return max
}

// splitByStatus partitions transaction-nodes into update and delete groups.
// A status outside the known vocabulary is a schema error: it is a
// programmer/protocol mistake, not a transient condition, so it aborts the
// cycle rather than being silently dropped.
func splitByStatus(nodes []domain.TransactionNode) (updates, deletes []domain.TransactionNode, err error) {
	for _, n := range nodes {
		switch n.Status {
		case domain.StatusUpdate:
			updates = append(updates, n)
		case domain.StatusDelete:
			deletes = append(deletes, n)
		default:
			return nil, nil, fmt.Errorf("%w: node %d has status %q", ErrSchema, n.ID, n.Status)
		}
	}
	return updates, deletes, nil
}

func (c *Controller) persist(logger *slog.Logger, s snapshot) {
	if c.cfg.StateFile == "" {
		return
	}
	if err := writeSnapshot(c.cfg.StateFile, s); err != nil {
		logger.Warn("pipeline: failed writing diagnostic state snapshot", "error", err)
	}
}

func withError(s snapshot, err error) snapshot {
	s.LastError = err.Error()
	return s
}

// currentTime is a seam so tests can avoid depending on wall-clock time.
var currentTime = time.Now
