package transfer

import "fmt"

// Byte-range planning for multipart copies. Part numbers are 1-based, per
// the S3 protocol. A part number past the end of the object yields a range
// clamped to the final byte rather than an error; PartCount is the caller's
// tool for never asking in the first place.

// FirstByte returns the offset of the first byte of the given part.
func FirstByte(part int32, partSize int64) int64 {
	return int64(part-1) * partSize
}

// LastByte returns the offset of the last byte of the given part, clamped
// to the end of an object of totalSize bytes.
func LastByte(part int32, partSize, totalSize int64) int64 {
	last := int64(part)*partSize - 1
	if maxLast := totalSize - 1; last > maxLast {
		return maxLast
	}
	return last
}

// PartCount returns the number of parts needed to cover totalSize bytes.
func PartCount(totalSize, partSize int64) int32 {
	return int32((totalSize + partSize - 1) / partSize)
}

// copyRange renders the CopySourceRange header value for one part.
func copyRange(part int32, partSize, totalSize int64) string {
	return fmt.Sprintf("bytes=%d-%d", FirstByte(part, partSize), LastByte(part, partSize, totalSize))
}
