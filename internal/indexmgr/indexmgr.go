// Package indexmgr ensures the data and control indices exist and owns
// reading/writing the durable cursor document.
package indexmgr

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sha1n/index-bridge/internal/config"
)

// searchClient is the subset of searchclient.Client the manager needs,
// kept as an interface so tests can fake it without a real HTTP server.
type searchClient interface {
	Exists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string, mapping map[string]any) error
	Get(ctx context.Context, index, id string) (map[string]any, bool, error)
	Put(ctx context.Context, index, id string, source map[string]any) error
}

// controlDocID is the fixed document id holding the single cursor record.
const controlDocID = "1"

const cursorField = "lastTransactionId"

// Manager ensures indices exist and mediates access to the cursor.
type Manager struct {
	client      searchClient
	dataIndex   string
	controlIndex string
	createData    bool
	createControl bool
	ready         atomic.Bool
}

// New builds a Manager for the given search index settings.
func New(client searchClient, settings config.SearchIndexSettings) *Manager {
	return &Manager{
		client:        client,
		dataIndex:     settings.Name,
		controlIndex:  settings.ControlName,
		createData:    settings.Create,
		createControl: settings.ControlCreate,
	}
}

// Ensure checks that the data and control indices exist, creating a missing
// one when configured to do so. It runs at startup; failure here is fatal
// per the process's startup contract. A missing index whose creation is
// disabled is not an error, but leaves Ready reporting false.
func (m *Manager) Ensure(ctx context.Context) error {
	dataReady, err := m.ensureIndex(ctx, m.dataIndex, m.createData, dataIndexMapping())
	if err != nil {
		return fmt.Errorf("ensuring data index %q: %w", m.dataIndex, err)
	}
	controlReady, err := m.ensureIndex(ctx, m.controlIndex, m.createControl, controlIndexMapping())
	if err != nil {
		return fmt.Errorf("ensuring control index %q: %w", m.controlIndex, err)
	}
	m.ready.Store(dataReady && controlReady)
	return nil
}

func (m *Manager) ensureIndex(ctx context.Context, index string, create bool, mapping map[string]any) (bool, error) {
	exists, err := m.client.Exists(ctx, index)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}
	if !create {
		return false, nil
	}
	if err := m.client.CreateIndex(ctx, index, mapping); err != nil {
		return false, err
	}
	return true, nil
}

// Ready reports whether both indices have been confirmed to exist.
func (m *Manager) Ready() bool {
	return m.ready.Load()
}

// ReadCursor returns the last successfully indexed transaction id, or 0 if
// the control document does not yet exist.
func (m *Manager) ReadCursor(ctx context.Context) (int64, error) {
	source, ok, err := m.client.Get(ctx, m.controlIndex, controlDocID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	raw, present := source[cursorField]
	if !present {
		return 0, nil
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("unexpected type for %s: %T", cursorField, raw)
	}
}

// WriteCursor overwrites the single cursor document with n.
func (m *Manager) WriteCursor(ctx context.Context, n int64) error {
	return m.client.Put(ctx, m.controlIndex, controlDocID, map[string]any{cursorField: n})
}

func dataIndexMapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":        map[string]any{"type": "text"},
				"dbid":      map[string]any{"type": "long"},
				"contentId": map[string]any{"type": "long"},
				"name":      map[string]any{"type": "text"},
				"text":      map[string]any{"type": "text"},
			},
		},
	}
}

func controlIndexMapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				cursorField: map[string]any{"type": "long"},
			},
		},
	}
}
