package integration

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sha1n/index-bridge/internal/config"
	"github.com/sha1n/index-bridge/internal/content"
	"github.com/sha1n/index-bridge/internal/domain"
	"github.com/sha1n/index-bridge/internal/indexmgr"
	"github.com/sha1n/index-bridge/internal/metadata"
	"github.com/sha1n/index-bridge/internal/namespace"
	"github.com/sha1n/index-bridge/internal/pipeline"
	"github.com/sha1n/index-bridge/internal/repoclient"
	"github.com/sha1n/index-bridge/internal/searchclient"
	"github.com/sha1n/index-bridge/tests/integration/testkit"
	"github.com/stretchr/testify/require"
)

const contentModelXML = `<model name="cm:contentmodel" xmlns="http://www.alfresco.org/model/content/1.0"></model>`

// harness wires real clients against the two fake servers, and a real
// Controller against real clients, so the test drives the same code path
// production does.
type harness struct {
	repo       *testkit.FakeRepository
	search     *testkit.FakeSearchEngine
	indexMgr   *indexmgr.Manager
	controller *pipeline.Controller
	dataIndex  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	repoFake := testkit.NewFakeRepository()
	t.Cleanup(repoFake.Close)
	searchFake := testkit.NewFakeSearchEngine()
	t.Cleanup(searchFake.Close)

	repoCfg := config.RepositorySettings{
		URL:         repoFake.URL(),
		SolrPath:    "solr/admin",
		SecureComms: config.SecureCommsSecret,
		Secret:      "shared-secret",
	}
	rc := repoclient.NewWithDoer(repoCfg, http.DefaultClient)

	searchHost, searchPort := splitHostPort(t, searchFake.URL())
	searchCfg := config.SearchSettings{
		Host:     searchHost,
		Port:     searchPort,
		Protocol: config.SearchProtocolHTTP,
		Index:    config.SearchIndexSettings{Name: "alfresco", Create: true, ControlName: "alfresco-control", ControlCreate: true},
	}
	sc := searchclient.NewWithDoer(searchCfg, http.DefaultClient)

	idxMgr := indexmgr.New(sc, searchCfg.Index)
	mapper := namespace.New(rc)
	resolver := metadata.New(rc)
	contentPool := content.New(rc, sc, searchCfg.Index.Name, 2)

	controller := pipeline.New(pipeline.Config{
		DataIndex:     searchCfg.Index.Name,
		MaxResults:    100,
		CycleInterval: time.Hour,
		LockFile:      filepath.Join(t.TempDir(), "lock"),
		StateFile:     filepath.Join(t.TempDir(), "state.json"),
	}, rc, sc, idxMgr, mapper, resolver, contentPool)

	require.NoError(t, idxMgr.Ensure(context.Background()))

	repoFake.Models = []domain.Diff{{Name: "{http://www.alfresco.org/model/content/1.0}contentmodel"}}
	repoFake.ModelXML["{http://www.alfresco.org/model/content/1.0}contentmodel"] = contentModelXML

	return &harness{repo: repoFake, search: searchFake, indexMgr: idxMgr, controller: controller, dataIndex: searchCfg.Index.Name}
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func TestPipeline_IndexesNewNodeWithMetadataAndAcls(t *testing.T) {
	h := newHarness(t)

	h.repo.Transactions = []domain.Transaction{{ID: 1, CommitTimeMs: 1000, Updates: 1}}
	h.repo.Nodes[1] = []domain.TransactionNode{
		{ID: 100, TxnID: 1, Status: domain.StatusUpdate, NodeRef: "workspace://SpacesStore/node-1"},
	}
	h.repo.Metadata[100] = domain.Node{
		ID:      100,
		NodeRef: "workspace://SpacesStore/node-1",
		Type:    "cm:content",
		AclID:   7,
		Properties: map[string]any{
			"{http://www.alfresco.org/model/content/1.0}name": "report.txt",
		},
	}
	h.repo.AclReaders[7] = domain.AclReader{AclID: 7, Readers: []string{"GROUP_EVERYONE"}}

	h.controller.RunOnce(context.Background())

	doc, found := h.search.Doc(h.dataIndex, "node-1")
	require.True(t, found)
	require.Equal(t, "report.txt", doc["cm%3Aname"])
	require.Equal(t, []any{"GROUP_EVERYONE"}, doc["READER"])
}

func TestPipeline_MissingAclReadersIndexEmptyReaders(t *testing.T) {
	h := newHarness(t)

	h.repo.Transactions = []domain.Transaction{{ID: 1, CommitTimeMs: 1000}}
	h.repo.Nodes[1] = []domain.TransactionNode{
		{ID: 100, TxnID: 1, Status: domain.StatusUpdate, NodeRef: "workspace://SpacesStore/node-1"},
	}
	h.repo.Metadata[100] = domain.Node{ID: 100, NodeRef: "workspace://SpacesStore/node-1", AclID: 99, Properties: map[string]any{}}

	h.controller.RunOnce(context.Background())

	doc, found := h.search.Doc(h.dataIndex, "node-1")
	require.True(t, found)
	require.NotContains(t, doc, "READER")
}

func TestPipeline_FlattensMLTextPropertyToFirstLocaleValue(t *testing.T) {
	h := newHarness(t)

	h.repo.Transactions = []domain.Transaction{{ID: 1, CommitTimeMs: 1000}}
	h.repo.Nodes[1] = []domain.TransactionNode{
		{ID: 100, TxnID: 1, Status: domain.StatusUpdate, NodeRef: "workspace://SpacesStore/node-1"},
	}
	h.repo.Metadata[100] = domain.Node{
		ID: 100, NodeRef: "workspace://SpacesStore/node-1",
		Properties: map[string]any{
			"cm:title": []any{map[string]any{"locale": "en", "value": "Hello"}},
		},
	}

	h.controller.RunOnce(context.Background())

	doc, found := h.search.Doc(h.dataIndex, "node-1")
	require.True(t, found)
	require.Equal(t, "Hello", doc["cm%3Atitle"])
}

func TestPipeline_UnknownNamespaceFallsBackToRawPropertyKey(t *testing.T) {
	h := newHarness(t)

	h.repo.Transactions = []domain.Transaction{{ID: 1, CommitTimeMs: 1000}}
	h.repo.Nodes[1] = []domain.TransactionNode{
		{ID: 100, TxnID: 1, Status: domain.StatusUpdate, NodeRef: "workspace://SpacesStore/node-1"},
	}
	h.repo.Metadata[100] = domain.Node{
		ID: 100, NodeRef: "workspace://SpacesStore/node-1",
		Properties: map[string]any{"{http://unknown.example}foo": "bar"},
	}

	h.controller.RunOnce(context.Background())

	doc, found := h.search.Doc(h.dataIndex, "node-1")
	require.True(t, found)
	require.Equal(t, "bar", doc["%7Bhttp%3A%2F%2Funknown%2Eexample%7Dfoo"])
}

func TestPipeline_DeletesRemovedNode(t *testing.T) {
	h := newHarness(t)

	h.repo.Transactions = []domain.Transaction{{ID: 1, CommitTimeMs: 1000}}
	h.repo.Nodes[1] = []domain.TransactionNode{
		{ID: 100, TxnID: 1, Status: domain.StatusUpdate, NodeRef: "workspace://SpacesStore/node-1"},
	}
	h.repo.Metadata[100] = domain.Node{ID: 100, NodeRef: "workspace://SpacesStore/node-1", Properties: map[string]any{}}
	h.controller.RunOnce(context.Background())
	_, found := h.search.Doc(h.dataIndex, "node-1")
	require.True(t, found)

	h.repo.Transactions = append(h.repo.Transactions, domain.Transaction{ID: 2, CommitTimeMs: 2000})
	h.repo.Nodes[2] = []domain.TransactionNode{
		{ID: 100, TxnID: 2, Status: domain.StatusDelete, NodeRef: "workspace://SpacesStore/node-1"},
	}
	h.controller.RunOnce(context.Background())

	_, found = h.search.Doc(h.dataIndex, "node-1")
	require.False(t, found)
}

// TestPipeline_ReplayOfSameTransactionIsIdempotent simulates an at-least-once
// redelivery of an already-processed transaction, arriving with an older
// commit time than what's already indexed. The merge script must reject it
// as stale rather than overwrite newer data with older data.
func TestPipeline_ReplayOfSameTransactionIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.repo.Transactions = []domain.Transaction{{ID: 1, CommitTimeMs: 2000}}
	h.repo.Nodes[1] = []domain.TransactionNode{
		{ID: 100, TxnID: 1, Status: domain.StatusUpdate, NodeRef: "workspace://SpacesStore/node-1"},
	}
	h.repo.Metadata[100] = domain.Node{
		ID: 100, NodeRef: "workspace://SpacesStore/node-1",
		Properties: map[string]any{"{http://www.alfresco.org/model/content/1.0}name": "v2"},
	}
	h.controller.RunOnce(context.Background())

	before, found := h.search.Doc(h.dataIndex, "node-1")
	require.True(t, found)
	require.Equal(t, "v2", before["cm%3Aname"])

	// Rewind the cursor and replay the same node with a stale, older commit
	// time and a different property value, as if the same transaction were
	// redelivered out of order.
	require.NoError(t, h.indexMgr.WriteCursor(context.Background(), 0))
	h.repo.Transactions[0].CommitTimeMs = 500
	h.repo.Metadata[100].Properties["{http://www.alfresco.org/model/content/1.0}name"] = "v1-stale"

	h.controller.RunOnce(context.Background())

	after, found := h.search.Doc(h.dataIndex, "node-1")
	require.True(t, found)
	require.Equal(t, "v2", after["cm%3Aname"], "stale replay must not overwrite a newer indexed value")
}

func TestPipeline_PatchesContentAfterMetadataUpsert(t *testing.T) {
	h := newHarness(t)

	h.repo.Transactions = []domain.Transaction{{ID: 1, CommitTimeMs: 1000}}
	h.repo.Nodes[1] = []domain.TransactionNode{
		{ID: 100, TxnID: 1, Status: domain.StatusUpdate, NodeRef: "workspace://SpacesStore/node-1"},
	}
	h.repo.Metadata[100] = domain.Node{
		ID: 100, NodeRef: "workspace://SpacesStore/node-1",
		Properties: map[string]any{
			"sys:store-identifier": "SpacesStore",
			"cm:content": map[string]any{
				"contentId": float64(55),
				"mimetype":  "text/plain",
			},
		},
	}
	h.repo.TextContent[100] = "extracted body text"

	h.controller.RunOnce(context.Background())

	doc, found := h.search.Doc(h.dataIndex, "node-1")
	require.True(t, found)
	require.Equal(t, "extracted body text", doc["cm%3Acontent"])
}
