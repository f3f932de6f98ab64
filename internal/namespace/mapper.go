// Package namespace fetches the repository's declared content models and
// maintains the process-wide {uri} -> prefix mapping used to translate
// property keys.
package namespace

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/sha1n/index-bridge/internal/domain"
)

// repoClient is the subset of repoclient.Client the mapper needs.
type repoClient interface {
	GetModelDiffs(ctx context.Context) (domain.ModelDiffs, error)
	GetModelXML(ctx context.Context, modelQName string) ([]byte, error)
}

// Mapping is an immutable snapshot of the URI-to-prefix table. Readers
// never observe a partial rebuild because a Mapper only ever publishes a
// fully-built Mapping via an atomic pointer swap.
type Mapping struct {
	uriToPrefix map[string]string
}

func newMapping() *Mapping {
	return &Mapping{uriToPrefix: make(map[string]string)}
}

func (m *Mapping) set(uri, prefix string) {
	m.uriToPrefix[uri] = prefix
}

// Prefix looks up the short prefix for a fully-qualified URI (including
// its enclosing braces).
func (m *Mapping) Prefix(uri string) (string, bool) {
	prefix, ok := m.uriToPrefix[uri]
	return prefix, ok
}

// Mapper owns the sync lifecycle and publishes read-only snapshots.
type Mapper struct {
	client  repoClient
	current atomic.Pointer[Mapping]
	logger  *slog.Logger
}

// New builds a Mapper with an empty initial mapping; callers should Sync
// at least once before relying on prefix resolution.
func New(client repoClient) *Mapper {
	m := &Mapper{client: client, logger: slog.Default()}
	m.current.Store(newMapping())
	return m
}

// Snapshot returns the current, immutable mapping. Safe to call
// concurrently with Sync.
func (m *Mapper) Snapshot() *Mapping {
	return m.current.Load()
}

// Sync rebuilds the mapping from the repository's current model list. A
// transport failure fetching the model list aborts the sync and leaves the
// previous mapping in place (returned as an error to the caller, which
// aborts the cycle per the pipeline's error taxonomy). A failure parsing
// or fetching any single model's XML is logged and that model is skipped;
// synchronization as a whole still succeeds.
func (m *Mapper) Sync(ctx context.Context) error {
	diffs, err := m.client.GetModelDiffs(ctx)
	if err != nil {
		return fmt.Errorf("fetching model diffs: %w", err)
	}

	next := newMapping()
	for _, d := range diffs.Diffs {
		xmlBytes, err := m.client.GetModelXML(ctx, d.Name)
		if err != nil {
			m.logger.WarnContext(ctx, "namespace: failed to fetch model XML, skipping", "model", d.Name, "error", err)
			continue
		}

		model, err := parseModelXML(xmlBytes, d.Name)
		if err != nil {
			m.logger.WarnContext(ctx, "namespace: failed to parse model, skipping", "model", d.Name, "error", err)
			continue
		}

		next.set(model.QName, model.Prefix)
	}

	m.current.Store(next)
	return nil
}

// parseModelXML extracts a Model from raw content-model XML, selecting the
// <model> element via local-name match regardless of its namespace.
func parseModelXML(xmlBytes []byte, modelQName string) (domain.Model, error) {
	braceEnd := strings.LastIndex(modelQName, "}")
	if braceEnd < 0 {
		return domain.Model{}, fmt.Errorf("model qname %q is not of the form {uri}localName", modelQName)
	}
	uri := modelQName[:braceEnd+1]
	localName := modelQName[braceEnd+1:]

	decoder := xml.NewDecoder(strings.NewReader(string(xmlBytes)))
	for {
		tok, err := decoder.Token()
		if err != nil {
			return domain.Model{}, fmt.Errorf("scanning model XML: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "model" {
			continue
		}

		nameAttr := attrValue(start, "name")
		if nameAttr == "" {
			return domain.Model{}, fmt.Errorf("model element for %q has no name attribute", modelQName)
		}
		prefix, _, found := strings.Cut(nameAttr, ":")
		if !found {
			return domain.Model{}, fmt.Errorf("model name %q is not of the form prefix:localName", nameAttr)
		}

		return domain.Model{Name: localName, QName: uri, Prefix: prefix}, nil
	}
}

func attrValue(el xml.StartElement, local string) string {
	for _, attr := range el.Attr {
		if attr.Name.Local == local {
			return attr.Value
		}
	}
	return ""
}
