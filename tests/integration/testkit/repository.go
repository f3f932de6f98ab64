// Package testkit provides in-memory fakes for the content repository and
// search engine HTTP APIs, used to drive the pipeline end-to-end without a
// real repository or search cluster.
package testkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/sha1n/index-bridge/internal/domain"
)

// FakeRepository is an in-memory stand-in for the content repository's
// SOLR-style admin REST API.
type FakeRepository struct {
	mu sync.Mutex

	Transactions []domain.Transaction
	Nodes        map[int64][]domain.TransactionNode // keyed by transaction id
	Metadata     map[int64]domain.Node              // keyed by node id
	AclReaders   map[int]domain.AclReader           // keyed by acl id
	Models       []domain.Diff
	ModelXML     map[string]string
	TextContent  map[int64]string

	server *httptest.Server
}

// NewFakeRepository builds an empty fake repository and starts its server.
func NewFakeRepository() *FakeRepository {
	r := &FakeRepository{
		Nodes:       map[int64][]domain.TransactionNode{},
		Metadata:    map[int64]domain.Node{},
		AclReaders:  map[int]domain.AclReader{},
		ModelXML:    map[string]string{},
		TextContent: map[int64]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/solr/admin/transactions", r.handleTransactions)
	mux.HandleFunc("/solr/admin/nodes", r.handleNodes)
	mux.HandleFunc("/solr/admin/metadata", r.handleMetadata)
	mux.HandleFunc("/solr/admin/aclsReaders", r.handleAclReaders)
	mux.HandleFunc("/solr/admin/modelsdiff", r.handleModelsDiff)
	mux.HandleFunc("/solr/admin/model", r.handleModel)
	mux.HandleFunc("/solr/admin/textContent", r.handleTextContent)
	r.server = httptest.NewServer(mux)
	return r
}

// URL returns the server's base URL.
func (r *FakeRepository) URL() string { return r.server.URL }

// Close shuts down the underlying server.
func (r *FakeRepository) Close() { r.server.Close() }

func (r *FakeRepository) handleTransactions(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	minTxnID, _ := strconv.ParseInt(req.URL.Query().Get("minTxnId"), 10, 64)
	var window []domain.Transaction
	var maxTxnID, maxCommitTime int64
	for _, t := range r.Transactions {
		if t.ID < minTxnID {
			continue
		}
		window = append(window, t)
		if t.ID > maxTxnID {
			maxTxnID = t.ID
		}
		if t.CommitTimeMs > maxCommitTime {
			maxCommitTime = t.CommitTimeMs
		}
	}
	writeJSON(w, domain.TransactionContainer{
		Transactions:     window,
		MaxTxnID:         maxTxnID,
		MaxTxnCommitTime: maxCommitTime,
	})
}

func (r *FakeRepository) handleNodes(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var body struct {
		FromTxnID int64 `json:"fromTxnId"`
		ToTxnID   int64 `json:"toTxnId"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)

	var nodes []domain.TransactionNode
	for txnID, txnNodes := range r.Nodes {
		if txnID < body.FromTxnID || txnID > body.ToTxnID {
			continue
		}
		nodes = append(nodes, txnNodes...)
	}
	writeJSON(w, domain.TransactionNodeContainer{Nodes: nodes})
}

func (r *FakeRepository) handleMetadata(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var body struct {
		NodeIDs []int64 `json:"nodeIds"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)

	var nodes []domain.Node
	for _, id := range body.NodeIDs {
		if n, ok := r.Metadata[id]; ok {
			nodes = append(nodes, n)
		}
	}
	writeJSON(w, domain.NodeContainer{Nodes: nodes})
}

func (r *FakeRepository) handleAclReaders(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var body struct {
		AclIDs []int `json:"aclIds"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)

	var readers []domain.AclReader
	for _, id := range body.AclIDs {
		if reader, ok := r.AclReaders[id]; ok {
			readers = append(readers, reader)
		}
	}
	writeJSON(w, domain.AclReadersResponse{AclsReaders: readers})
}

func (r *FakeRepository) handleModelsDiff(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	writeJSON(w, domain.ModelDiffs{Diffs: r.Models})
}

func (r *FakeRepository) handleModel(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	qname := req.URL.Query().Get("modelQName")
	_, _ = w.Write([]byte(r.ModelXML[qname]))
}

func (r *FakeRepository) handleTextContent(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodeID, _ := strconv.ParseInt(req.URL.Query().Get("nodeId"), 10, 64)
	_, _ = w.Write([]byte(r.TextContent[nodeID]))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
