package docbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sha1n/index-bridge/internal/domain"
)

// buildMergeScript produces the painless source for an idempotent upsert:
// if the document already on the index carries a newer
// METADATA_INDEXING_LAST_UPDATE than the one about to be applied, the
// update is a no-op; otherwise every field in params overwrites the
// corresponding field on the document. Keys are sorted for a deterministic,
// diffable script string.
func buildMergeScript(params map[string]any) string {
	lastUpdateKey := Encode(domain.FieldMetadataIndexingLastUpdate)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb,
		"if (ctx._source['%s'] != null && ctx._source['%s'] > params['%s']) { ctx.op = 'noop'; } else { ",
		lastUpdateKey, lastUpdateKey, lastUpdateKey,
	)
	for _, k := range keys {
		fmt.Fprintf(&sb, "ctx._source['%s'] = params['%s']; ", k, k)
	}
	sb.WriteString("}")
	return sb.String()
}
