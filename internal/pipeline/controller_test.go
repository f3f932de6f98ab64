package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sha1n/index-bridge/internal/domain"
	"github.com/sha1n/index-bridge/internal/namespace"
	"github.com/sha1n/index-bridge/internal/searchclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	txns    domain.TransactionContainer
	txnsErr error
	nodes   domain.TransactionNodeContainer
	nodesErr error
}

func (f *fakeRepo) GetTransactions(_ context.Context, _ int64, _ int) (domain.TransactionContainer, error) {
	return f.txns, f.txnsErr
}

func (f *fakeRepo) GetNodes(_ context.Context, _, _ int64) (domain.TransactionNodeContainer, error) {
	return f.nodes, f.nodesErr
}

type fakeSearch struct {
	bulkResult *searchclient.BulkResult
	bulkErr    error
	bulkCalls  int
	deleted    map[string]int
}

func (f *fakeSearch) Bulk(_ context.Context, _ string, _ []searchclient.BulkItem) (*searchclient.BulkResult, error) {
	f.bulkCalls++
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	return f.bulkResult, nil
}

func (f *fakeSearch) DeleteByQuery(_ context.Context, _, _, value string) (int, error) {
	if f.deleted == nil {
		return 1, nil
	}
	return f.deleted[value], nil
}

type fakeIndexManager struct {
	cursor    int64
	reads     int
	readErr   error
	written   []int64
	writeErr  error
	ensureErr error
}

func (f *fakeIndexManager) Ready() bool                        { return true }
func (f *fakeIndexManager) Ensure(_ context.Context) error     { return f.ensureErr }
func (f *fakeIndexManager) ReadCursor(_ context.Context) (int64, error) {
	f.reads++
	return f.cursor, f.readErr
}
func (f *fakeIndexManager) WriteCursor(_ context.Context, txnID int64) error {
	f.written = append(f.written, txnID)
	return f.writeErr
}

type fakeMapper struct {
	syncErr error
}

func (f *fakeMapper) Sync(_ context.Context) error { return f.syncErr }
func (f *fakeMapper) Snapshot() *namespace.Mapping { return namespace.New(nil).Snapshot() }

type fakeResolver struct {
	nodes []domain.Node
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, _ []domain.TransactionNode, _ *namespace.Mapping) ([]domain.Node, error) {
	return f.nodes, f.err
}

type fakeContentDispatcher struct {
	dispatched []domain.Node
}

func (f *fakeContentDispatcher) Dispatch(_ context.Context, nodes []domain.Node) {
	f.dispatched = nodes
}

func newTestController(t *testing.T, repo *fakeRepo, search *fakeSearch, idx *fakeIndexManager, mapper *fakeMapper, resolver *fakeResolver, content *fakeContentDispatcher) *Controller {
	t.Helper()
	cfg := Config{
		DataIndex:     "alfresco",
		MaxResults:    100,
		CycleInterval: time.Hour,
		LockFile:      filepath.Join(t.TempDir(), "lock"),
		StateFile:     filepath.Join(t.TempDir(), "state.json"),
	}
	return New(cfg, repo, search, idx, mapper, resolver, content)
}

func TestRunCycle_AdvancesCursorOnSuccess(t *testing.T) {
	repo := &fakeRepo{
		txns: domain.TransactionContainer{
			Transactions:     []domain.Transaction{{ID: 5, CommitTimeMs: 1000}},
			MaxTxnID:         5,
			MaxTxnCommitTime: 1000,
		},
		nodes: domain.TransactionNodeContainer{
			Nodes: []domain.TransactionNode{
				{ID: 1, Status: domain.StatusUpdate, NodeRef: "workspace://SpacesStore/a"},
				{ID: 2, Status: domain.StatusDelete, NodeRef: "workspace://SpacesStore/b"},
			},
		},
	}
	search := &fakeSearch{bulkResult: &searchclient.BulkResult{AllSucceeded: true}}
	idx := &fakeIndexManager{cursor: 4}
	resolver := &fakeResolver{nodes: []domain.Node{{ID: 1, NodeRef: "workspace://SpacesStore/a"}}}
	content := &fakeContentDispatcher{}

	c := newTestController(t, repo, search, idx, &fakeMapper{}, resolver, content)
	c.runCycle(context.Background())

	require.Len(t, idx.written, 1)
	assert.Equal(t, int64(5), idx.written[0])
	assert.Equal(t, 1, search.bulkCalls)
	assert.Len(t, content.dispatched, 1)
}

// The repository's transactions response carries its own global maxTxnId
// alongside the fetched window. When the backlog exceeds maxResults that
// global value can sit far ahead of the window, and the cursor must never
// jump to it: doing so would silently skip every transaction between the
// window's actual max and the repository's global max.
func TestRunCycle_CursorAdvancesOnlyToWindowMaxNotRepositoryGlobalMax(t *testing.T) {
	repo := &fakeRepo{
		txns: domain.TransactionContainer{
			Transactions:     []domain.Transaction{{ID: 5, CommitTimeMs: 1000}},
			MaxTxnID:         50,
			MaxTxnCommitTime: 1000,
		},
		nodes: domain.TransactionNodeContainer{
			Nodes: []domain.TransactionNode{
				{ID: 1, Status: domain.StatusUpdate, NodeRef: "workspace://SpacesStore/a"},
			},
		},
	}
	search := &fakeSearch{bulkResult: &searchclient.BulkResult{AllSucceeded: true}}
	idx := &fakeIndexManager{cursor: 4}
	resolver := &fakeResolver{nodes: []domain.Node{{ID: 1, NodeRef: "workspace://SpacesStore/a"}}}

	c := newTestController(t, repo, search, idx, &fakeMapper{}, resolver, &fakeContentDispatcher{})
	c.runCycle(context.Background())

	require.Len(t, idx.written, 1)
	assert.Equal(t, int64(5), idx.written[0])
}

func TestMaxTransactionID_ReturnsLargestIDInWindow(t *testing.T) {
	txns := []domain.Transaction{{ID: 3}, {ID: 9}, {ID: 1}}
	assert.Equal(t, int64(9), maxTransactionID(txns))
}

func TestRunCycle_NoNewTransactionsDoesNotAdvanceCursor(t *testing.T) {
	idx := &fakeIndexManager{cursor: 4}
	c := newTestController(t, &fakeRepo{}, &fakeSearch{}, idx, &fakeMapper{}, &fakeResolver{}, &fakeContentDispatcher{})

	c.runCycle(context.Background())

	assert.Empty(t, idx.written)
}

func TestRunCycle_NamespaceSyncFailureAbortsBeforeReadingCursor(t *testing.T) {
	idx := &fakeIndexManager{cursor: 4}
	c := newTestController(t, &fakeRepo{}, &fakeSearch{}, idx, &fakeMapper{syncErr: errors.New("boom")}, &fakeResolver{}, &fakeContentDispatcher{})

	c.runCycle(context.Background())

	assert.Equal(t, 0, idx.reads)
	assert.Empty(t, idx.written)
}

func TestRunCycle_BulkFailureDoesNotAdvanceCursor(t *testing.T) {
	repo := &fakeRepo{
		txns: domain.TransactionContainer{
			Transactions: []domain.Transaction{{ID: 5}},
			MaxTxnID:     5,
		},
		nodes: domain.TransactionNodeContainer{
			Nodes: []domain.TransactionNode{{ID: 1, Status: domain.StatusUpdate, NodeRef: "workspace://SpacesStore/a"}},
		},
	}
	search := &fakeSearch{bulkErr: errors.New("bulk down")}
	idx := &fakeIndexManager{cursor: 4}
	resolver := &fakeResolver{nodes: []domain.Node{{ID: 1, NodeRef: "workspace://SpacesStore/a"}}}

	c := newTestController(t, repo, search, idx, &fakeMapper{}, resolver, &fakeContentDispatcher{})
	c.runCycle(context.Background())

	assert.Empty(t, idx.written)
}

func TestRunCycle_ResolveFailureAbortsCycle(t *testing.T) {
	repo := &fakeRepo{
		txns: domain.TransactionContainer{Transactions: []domain.Transaction{{ID: 5}}, MaxTxnID: 5},
	}
	idx := &fakeIndexManager{cursor: 4}
	resolver := &fakeResolver{err: errors.New("resolve failed")}

	c := newTestController(t, repo, &fakeSearch{}, idx, &fakeMapper{}, resolver, &fakeContentDispatcher{})
	c.runCycle(context.Background())

	assert.Empty(t, idx.written)
}

func TestRunCycle_UnknownTransactionNodeStatusAbortsCycle(t *testing.T) {
	repo := &fakeRepo{
		txns: domain.TransactionContainer{Transactions: []domain.Transaction{{ID: 5}}, MaxTxnID: 5},
		nodes: domain.TransactionNodeContainer{
			Nodes: []domain.TransactionNode{{ID: 1, Status: "x", NodeRef: "workspace://SpacesStore/a"}},
		},
	}
	idx := &fakeIndexManager{cursor: 4}

	c := newTestController(t, repo, &fakeSearch{}, idx, &fakeMapper{}, &fakeResolver{}, &fakeContentDispatcher{})
	c.runCycle(context.Background())

	assert.Empty(t, idx.written)
}

func TestSplitByStatus_UnknownStatusReturnsSchemaError(t *testing.T) {
	_, _, err := splitByStatus([]domain.TransactionNode{{ID: 42, Status: "bogus"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchema)
	assert.Contains(t, err.Error(), "42")
	assert.Contains(t, err.Error(), "bogus")
}

func TestApplyUpserts_BulkPartialFailureReturnsConsistencyError(t *testing.T) {
	search := &fakeSearch{bulkResult: &searchclient.BulkResult{
		AllSucceeded: false,
		Items:        []searchclient.BulkItemResult{{ID: "a", Success: false}, {ID: "b", Success: true}},
	}}
	c := newTestController(t, &fakeRepo{}, search, &fakeIndexManager{}, &fakeMapper{}, &fakeResolver{}, &fakeContentDispatcher{})

	err := c.applyUpserts(context.Background(), []domain.Node{{ID: 1, NodeRef: "workspace://SpacesStore/a"}}, 1000)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConsistency)
}
