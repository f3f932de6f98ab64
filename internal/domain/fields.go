package domain

// Field name constants for the indexed document schema (pre-encoding, see
// package docbuilder for the URL-encoding pass applied before these are
// written as JSON keys).
const (
	FieldType                       = "TYPE"
	FieldPrimaryParent              = "PRIMARY_PARENT"
	FieldParent                     = "PARENT"
	FieldPath                       = "PATH"
	FieldUnprefixedPath             = "UNPREFIXED_PATH"
	FieldStandardAncestor           = "STANDARD_ANCESTOR"
	FieldCategoryAncestor           = "CATEGORY_ANCESTOR"
	FieldReader                     = "READER"
	FieldDenied                     = "DENIED"
	FieldMetadataIndexingLastUpdate = "METADATA_INDEXING_LAST_UPDATE"
	FieldUserCreator                = "USER_CREATOR"
	FieldUserModifier                = "USER_MODIFIER"
	FieldCreationDate               = "CREATION_DATE_FIELD"
	FieldModificationDate           = "MODIFICATION_DATE_FIELD"
	FieldName                       = "NAME"
	FieldOwner                      = "OWNER"
	FieldProperties                 = "PROPERTIES"
	FieldAspect                     = "ASPECT"
	FieldTag                        = "TAG"
	FieldContentMimeType            = "CONTENT_MIME_TYPE"
	FieldContentSize                = "CONTENT_SIZE"
	FieldContentEncoding            = "CONTENT_ENCODING"
	FieldAlive                      = "ALIVE"
	FieldContentID                  = "contentId"
)

// Property name constants as they appear on Node.Properties after prefix
// rewriting (i.e. "prefix:localName" form).
const (
	PropName             = "cm:name"
	PropCreator          = "cm:creator"
	PropModifier         = "cm:modifier"
	PropCreated          = "cm:created"
	PropModified         = "cm:modified"
	PropOwner            = "cm:owner"
	PropContent          = "cm:content"
	PropContentTrStatus  = "cm:content.tr_status"
	PropStoreIdentifier  = "sys:store-identifier"
)

// SpacesStore is the live content store identifier; other stores (archive,
// versions) are excluded from content indexing.
const SpacesStore = "SpacesStore"

// TagsSegment is the namePath first-segment value that marks a tag path.
const TagsSegment = "Tags"

// ContentMapKeys are the sub-keys expected inside the cm:content property
// value, which arrives as a nested map rather than a scalar.
const (
	ContentMapContentID = "contentId"
	ContentMapMimeType  = "mimetype"
	ContentMapSize      = "size"
	ContentMapEncoding  = "encoding"
)
