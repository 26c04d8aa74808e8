package blob

import (
	"fmt"
	"strconv"
	"time"
)

// Property keys used in the serialized attributes object. Caller headers are
// stored under their own key with a "@" prefix to keep them apart from the
// bookkeeping keys.
const (
	headerPrefix       = "@"
	deletedKey         = "deleted"
	deletedReasonKey   = "deletedReason"
	deletedDateTimeKey = "deletedDateTime"
	creationTimeKey    = "creationTime"
	sha1Key            = "sha1"
	sizeKey            = "size"
)

// Metrics holds the content measurements recorded when a blob is written.
type Metrics struct {
	// SHA1 is the hex digest of the content bytes.
	SHA1 string
	// Size is the content length in bytes.
	Size int64
	// CreationTime is when the content was written.
	CreationTime time.Time
}

// Attributes is the parsed contents of a blob's properties object. The
// lifecycle state machine is the only mutator; everything else treats
// attributes as read-only.
type Attributes struct {
	// Headers are the caller-supplied headers recorded at creation or
	// promotion time.
	Headers map[string]string
	// Metrics are the content measurements.
	Metrics Metrics
	// Deleted marks the blob as soft-deleted.
	Deleted bool
	// DeletedReason records why the blob was soft-deleted.
	DeletedReason string
	// DeletedDateTime records when the blob was soft-deleted.
	DeletedDateTime time.Time
}

// IsTemporary reports whether the headers carry the temporary-blob marker.
func (a *Attributes) IsTemporary() bool {
	_, ok := a.Headers[TemporaryBlobHeader]
	return ok
}

// ToProperties flattens the attributes into the key=value map persisted as
// the properties object.
func (a *Attributes) ToProperties() map[string]string {
	props := make(map[string]string, len(a.Headers)+6)
	for k, v := range a.Headers {
		props[headerPrefix+k] = v
	}
	props[sha1Key] = a.Metrics.SHA1
	props[sizeKey] = strconv.FormatInt(a.Metrics.Size, 10)
	props[creationTimeKey] = strconv.FormatInt(a.Metrics.CreationTime.UnixMilli(), 10)
	if a.Deleted {
		props[deletedKey] = "true"
		if a.DeletedReason != "" {
			props[deletedReasonKey] = a.DeletedReason
		}
		if !a.DeletedDateTime.IsZero() {
			props[deletedDateTimeKey] = strconv.FormatInt(a.DeletedDateTime.UnixMilli(), 10)
		}
	}
	return props
}

// AttributesFromProperties parses a flat property map back into attributes.
func AttributesFromProperties(props map[string]string) (*Attributes, error) {
	a := &Attributes{Headers: make(map[string]string)}
	for k, v := range props {
		switch {
		case len(k) > len(headerPrefix) && k[:len(headerPrefix)] == headerPrefix:
			a.Headers[k[len(headerPrefix):]] = v
		case k == deletedKey:
			a.Deleted = v == "true"
		case k == deletedReasonKey:
			a.DeletedReason = v
		case k == deletedDateTimeKey:
			ms, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", deletedDateTimeKey, err)
			}
			a.DeletedDateTime = time.UnixMilli(ms).UTC()
		case k == creationTimeKey:
			ms, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", creationTimeKey, err)
			}
			a.Metrics.CreationTime = time.UnixMilli(ms).UTC()
		case k == sha1Key:
			a.Metrics.SHA1 = v
		case k == sizeKey:
			size, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", sizeKey, err)
			}
			a.Metrics.Size = size
		}
	}
	return a, nil
}
