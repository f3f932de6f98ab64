package testkit

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// FakeSearchEngine is an in-memory stand-in for the OpenSearch-compatible
// REST and bulk APIs, faithful enough to exercise the pipeline's idempotent
// upsert contract: a bulk item only overwrites an existing document when
// its ordering field is not older than what's already stored.
type FakeSearchEngine struct {
	mu      sync.Mutex
	indices map[string]bool
	docs    map[string]map[string]map[string]any // index -> id -> doc

	server *httptest.Server
}

// NewFakeSearchEngine builds an empty fake search engine and starts its server.
func NewFakeSearchEngine() *FakeSearchEngine {
	e := &FakeSearchEngine{
		indices: map[string]bool{},
		docs:    map[string]map[string]map[string]any{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", e.route)
	e.server = httptest.NewServer(mux)
	return e
}

// URL returns the server's base URL.
func (e *FakeSearchEngine) URL() string { return e.server.URL }

// Close shuts down the underlying server.
func (e *FakeSearchEngine) Close() { e.server.Close() }

// Doc returns a document by index and id, for test assertions.
func (e *FakeSearchEngine) Doc(index, id string) (map[string]any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.docs[index]
	if !ok {
		return nil, false
	}
	doc, ok := idx[id]
	return doc, ok
}

func (e *FakeSearchEngine) route(w http.ResponseWriter, req *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := strings.TrimPrefix(req.URL.Path, "/")

	switch {
	case req.Method == http.MethodPost && path == "_bulk":
		e.handleBulk(w, req)
	case req.Method == http.MethodPost && strings.HasSuffix(path, "/_delete_by_query"):
		e.handleDeleteByQuery(w, req, strings.TrimSuffix(path, "/_delete_by_query"))
	case req.Method == http.MethodPost && strings.Contains(path, "/_update/"):
		e.handleUpdate(w, req, path)
	case req.Method == http.MethodHead:
		e.handleExists(w, path)
	case req.Method == http.MethodPut && strings.Contains(path, "/_doc/"):
		e.handlePut(w, req, path)
	case req.Method == http.MethodPut:
		e.handleCreateIndex(w, path)
	case req.Method == http.MethodGet && strings.Contains(path, "/_doc/"):
		e.handleGet(w, path)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (e *FakeSearchEngine) handleExists(w http.ResponseWriter, index string) {
	if e.indices[index] {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (e *FakeSearchEngine) handleCreateIndex(w http.ResponseWriter, index string) {
	e.indices[index] = true
	if e.docs[index] == nil {
		e.docs[index] = map[string]map[string]any{}
	}
	w.WriteHeader(http.StatusOK)
}

func (e *FakeSearchEngine) handlePut(w http.ResponseWriter, req *http.Request, path string) {
	index, id, ok := splitDocPath(path)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var source map[string]any
	_ = json.NewDecoder(req.Body).Decode(&source)
	e.ensureIndex(index)
	e.docs[index][id] = source
	w.WriteHeader(http.StatusOK)
}

func (e *FakeSearchEngine) handleGet(w http.ResponseWriter, path string) {
	index, id, ok := splitDocPath(path)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	doc, found := e.docs[index][id]
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"_source": doc})
}

func (e *FakeSearchEngine) handleUpdate(w http.ResponseWriter, req *http.Request, path string) {
	parts := strings.SplitN(path, "/_update/", 2)
	index, id := parts[0], parts[1]

	var body struct {
		Script struct {
			Params map[string]any `json:"params"`
		} `json:"script"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)

	e.ensureIndex(index)
	doc, ok := e.docs[index][id]
	if !ok {
		doc = map[string]any{}
	}
	for k, v := range body.Script.Params {
		doc[k] = v
	}
	e.docs[index][id] = doc
	w.WriteHeader(http.StatusOK)
}

func (e *FakeSearchEngine) handleDeleteByQuery(w http.ResponseWriter, req *http.Request, index string) {
	var body struct {
		Query struct {
			Match map[string]string `json:"match"`
		} `json:"query"`
	}
	_ = json.NewDecoder(req.Body).Decode(&body)

	deleted := 0
	for field, value := range body.Query.Match {
		for id, doc := range e.docs[index] {
			if s, _ := doc[field].(string); s == value {
				delete(e.docs[index], id)
				deleted++
			}
		}
	}
	writeJSON(w, map[string]any{"deleted": deleted})
}

// mergeUpdateField is the field the merge script treats as the monotonic
// ordering key; it must stay in lockstep with docbuilder's encoding of
// domain.FieldMetadataIndexingLastUpdate ("METADATA_INDEXING_LAST_UPDATE",
// which contains no characters the encoding rewrites).
const mergeUpdateField = "METADATA_INDEXING_LAST_UPDATE"

func (e *FakeSearchEngine) handleBulk(w http.ResponseWriter, req *http.Request) {
	scanner := bufio.NewScanner(req.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var results []map[string]any
	for scanner.Scan() {
		var action map[string]map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil {
			continue
		}
		update, ok := action["update"]
		if !ok {
			continue
		}
		index, _ := update["_index"].(string)
		id, _ := update["_id"].(string)

		if !scanner.Scan() {
			break
		}
		var source struct {
			Script struct {
				Params map[string]any `json:"params"`
			} `json:"script"`
			Upsert map[string]any `json:"upsert"`
		}
		_ = json.Unmarshal(scanner.Bytes(), &source)

		e.ensureIndex(index)
		e.applyUpsert(index, id, source.Script.Params)

		results = append(results, map[string]any{"update": map[string]any{"_id": id, "status": 200}})
	}

	writeJSON(w, map[string]any{"items": results})
}

func (e *FakeSearchEngine) applyUpsert(index, id string, params map[string]any) {
	existing, found := e.docs[index][id]
	if found {
		if existingTs, ok := numberValue(existing[mergeUpdateField]); ok {
			if incomingTs, ok := numberValue(params[mergeUpdateField]); ok && existingTs > incomingTs {
				return
			}
		}
	}
	e.docs[index][id] = params
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func (e *FakeSearchEngine) ensureIndex(index string) {
	if e.docs[index] == nil {
		e.docs[index] = map[string]map[string]any{}
	}
	e.indices[index] = true
}

func splitDocPath(path string) (index, id string, ok bool) {
	parts := strings.SplitN(path, "/_doc/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
