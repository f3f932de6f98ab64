// Package docbuilder turns a resolved domain.Node into the field map and
// idempotent merge script the search engine's bulk API needs to upsert it,
// and turns a delete transaction-node into the id used to delete it.
package docbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sha1n/index-bridge/internal/domain"
	"github.com/sha1n/index-bridge/internal/searchclient"
)

// BuildBulkItems converts every resolved node into a bulk upsert item.
// txnCommitTimeMs is the latest commit time of the transaction window the
// batch was fetched from and is written as the monotonic ordering field the
// merge script compares against.
func BuildBulkItems(nodes []domain.Node, txnCommitTimeMs int64) ([]searchclient.BulkItem, error) {
	items := make([]searchclient.BulkItem, 0, len(nodes))
	for _, node := range nodes {
		id, ok := ExtractUUID(node.NodeRef)
		if !ok {
			return nil, fmt.Errorf("node %d: nodeRef %q has no extractable uuid", node.ID, node.NodeRef)
		}

		params := extractFields(node, txnCommitTimeMs)
		// the search engine's own document id (_id) cannot be matched by a
		// delete-by-query match clause, so the uuid is duplicated into a
		// plain indexed field for the delete path to target.
		params["id"] = id
		items = append(items, searchclient.BulkItem{
			ID:              id,
			Script:          buildMergeScript(params),
			Params:          params,
			RetryOnConflict: 5,
		})
	}
	return items, nil
}

// DeleteID extracts the document id for a delete transaction-node.
func DeleteID(nodeRef string) (string, bool) {
	return ExtractUUID(nodeRef)
}

func extractFields(node domain.Node, txnCommitTimeMs int64) map[string]any {
	fields := make(map[string]any)

	set := func(name string, value any) {
		if isEmptyValue(value) {
			return
		}
		fields[Encode(name)] = normalizeValue(value)
	}

	set(domain.FieldType, node.Type)
	set(domain.FieldReader, node.Readers)
	set(domain.FieldDenied, node.Denied)
	set(domain.FieldAspect, node.Aspects)
	set(domain.FieldAlive, true)
	fields[Encode(domain.FieldMetadataIndexingLastUpdate)] = txnCommitTimeMs

	if len(node.Ancestors) > 0 {
		set(domain.FieldPrimaryParent, node.Ancestors[0])
		set(domain.FieldParent, node.Ancestors)
	}

	standardAncestors, categoryAncestors := splitAncestors(node.Ancestors)
	set(domain.FieldStandardAncestor, standardAncestors)
	set(domain.FieldCategoryAncestor, categoryAncestors)

	paths := make([]string, 0, len(node.Paths))
	unprefixedPaths := make([]string, 0, len(node.Paths))
	for _, p := range node.Paths {
		paths = append(paths, p.Path)
		unprefixedPaths = append(unprefixedPaths, p.APath)
	}
	set(domain.FieldPath, paths)
	set(domain.FieldUnprefixedPath, unprefixedPaths)

	if tags := extractTags(node.NamePaths); len(tags) > 0 {
		set(domain.FieldTag, tags)
	}

	owner := stringProp(node.Properties, domain.PropOwner)
	if owner == "" {
		owner = stringProp(node.Properties, domain.PropModifier)
	}
	set(domain.FieldOwner, owner)

	set(domain.FieldUserCreator, node.Properties[domain.PropCreator])
	set(domain.FieldUserModifier, node.Properties[domain.PropModifier])
	set(domain.FieldCreationDate, node.Properties[domain.PropCreated])
	set(domain.FieldModificationDate, node.Properties[domain.PropModified])
	set(domain.FieldName, node.Properties[domain.PropName])

	if content, ok := node.Properties[domain.PropContent].(map[string]any); ok {
		set(domain.FieldContentMimeType, content[domain.ContentMapMimeType])
		set(domain.FieldContentSize, content[domain.ContentMapSize])
		set(domain.FieldContentEncoding, content[domain.ContentMapEncoding])
	}

	var writtenProps []string
	for key, value := range node.Properties {
		if key == domain.PropContent || key == domain.PropContentTrStatus {
			continue
		}
		fields[Encode(key)] = normalizeValue(value)
		writtenProps = append(writtenProps, key)
	}
	sort.Strings(writtenProps)
	set(domain.FieldProperties, writtenProps)

	return fields
}

func splitAncestors(ancestors []string) (standard, category []string) {
	for _, a := range ancestors {
		if strings.Contains(a, "/cat:") {
			category = append(category, a)
			continue
		}
		standard = append(standard, a)
	}
	return standard, category
}

// extractTags reads the display-name segments that sit directly under a
// "Tags" path segment: a namePath of ["Tags", "urgent"] contributes "urgent".
func extractTags(namePaths []domain.NamePath) []string {
	var tags []string
	for _, np := range namePaths {
		if len(np.Segments) < 2 || np.Segments[0] != domain.TagsSegment {
			continue
		}
		tags = append(tags, np.Segments[1])
	}
	return tags
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []string:
		return len(val) == 0
	case []any:
		return len(val) == 0
	default:
		return false
	}
}
