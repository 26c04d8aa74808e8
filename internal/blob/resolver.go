package blob

import "fmt"

// LocationResolver maps blob IDs to key-path fragments. The store appends
// the .bytes / .properties suffixes and any configured bucket key prefix;
// resolvers never see either.
type LocationResolver interface {
	// Location returns the path fragment for the given ID.
	Location(id ID) string
	// FromHeaders derives the ID for a new blob from its creation headers:
	// a deterministic direct-path ID when requested, a fresh random ID
	// otherwise.
	FromHeaders(headers map[string]string) ID
}

// Volume/chapter fan-out. Co-prime so the combination spreads well.
const (
	volumes  = 43
	chapters = 47
)

// VolumeChapterResolver shards regular blobs into vol-NN/chap-NN directories
// by a deterministic hash of the ID, and places direct-path blobs under
// directpath/ using their blob name verbatim.
type VolumeChapterResolver struct{}

// NewVolumeChapterResolver returns the default resolver.
func NewVolumeChapterResolver() *VolumeChapterResolver {
	return &VolumeChapterResolver{}
}

// Location implements LocationResolver.
func (r *VolumeChapterResolver) Location(id ID) string {
	if name, ok := id.DirectPathName(); ok {
		return DirectPathRoot + "/" + name
	}
	h := hashID(string(id))
	vol := abs(h%volumes) + 1
	chap := abs(h%chapters) + 1
	return fmt.Sprintf("vol-%02d/chap-%02d/%s", vol, chap, id)
}

// FromHeaders implements LocationResolver.
func (r *VolumeChapterResolver) FromHeaders(headers map[string]string) ID {
	if headers[DirectPathBlobHeader] == "true" {
		return NewDirectPathID(headers[BlobNameHeader])
	}
	return NewID()
}

// hashID computes a stable 32-bit hash of the ID string. The exact function
// only matters in that it must never change: it determines where existing
// blobs live.
func hashID(s string) int32 {
	var h int32
	for _, c := range []byte(s) {
		h = 31*h + int32(c)
	}
	return h
}

func abs(n int32) int32 {
	if n < 0 {
		return -n
	}
	return n
}
