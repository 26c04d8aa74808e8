// Package blob defines the identifiers, header contract, and attribute model
// shared by every layer of the blob store.
//
// A logical blob is a pair of objects under the same key prefix:
//
//	content/{location}.bytes       the raw content
//	content/{location}.properties  the sidecar attributes
//
// The location fragment is derived from the blob ID by a LocationResolver.
package blob

import (
	"strings"

	"github.com/google/uuid"
)

// Object key suffixes for the two physical objects of a blob.
const (
	ContentSuffix    = ".bytes"
	AttributesSuffix = ".properties"
)

// Reserved header keys recognized in caller-supplied header maps. Unknown
// keys are stored verbatim in the properties object.
const (
	// BlobNameHeader is the logical name of the blob (may contain slashes).
	BlobNameHeader = "BlobStore.blob-name"

	// ContentTypeHeader is the declared MIME type of the content.
	ContentTypeHeader = "BlobStore.content-type"

	// CreatedByHeader identifies the principal that created the blob.
	CreatedByHeader = "BlobStore.created-by"

	// CreatedByIPHeader records the client address that created the blob.
	CreatedByIPHeader = "BlobStore.created-by-ip"

	// TemporaryBlobHeader marks a blob as temporary, awaiting promotion.
	// Temporariness lives only in the properties object and object-store
	// user metadata; it is never encoded into the blob ID.
	TemporaryBlobHeader = "BlobStore.temporary-blob"

	// DirectPathBlobHeader ("true") requests a deterministic key derived
	// from BlobNameHeader instead of a generated ID.
	DirectPathBlobHeader = "BlobStore.direct-path"

	// RepoNameHeader records the repository the blob belongs to.
	RepoNameHeader = "Bucket.repo-name"
)

// TemporaryMetadataKey is the S3 user-metadata key mirrored from
// TemporaryBlobHeader so temporariness is visible from a HeadObject probe
// without fetching the properties object. S3 lowercases metadata keys.
const TemporaryMetadataKey = "blobstore.temporary-blob"

// DirectPathRoot is the sub-namespace under content/ for direct-path blobs.
const DirectPathRoot = "directpath"

// directPathPrefix marks a direct-path blob ID. This is the only ID prefix
// in use; temporary blobs carry no prefix at all.
const directPathPrefix = "path$"

// ID identifies one logical blob (a content/properties object pair).
type ID string

// NewID generates a fresh random blob ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// NewDirectPathID builds the deterministic ID for a direct-path blob name.
func NewDirectPathID(name string) ID {
	return ID(directPathPrefix + name)
}

func (id ID) String() string {
	return string(id)
}

// DirectPathName returns the blob name encoded in a direct-path ID, and
// whether the ID is a direct-path ID at all.
func (id ID) DirectPathName() (string, bool) {
	return strings.CutPrefix(string(id), directPathPrefix)
}
