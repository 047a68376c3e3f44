package types

import (
	"crypto/sha1" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"strings"
)

// DocID returns the stable document identifier for a source: bucket/object
// with a trailing ".pdf" removed. When the source names no object the first
// 16 hex characters of sha1(text) are used instead.
func DocID(src Source, text string) string {
	oid := src.Object
	if strings.HasSuffix(oid, ".pdf") {
		oid = strings.TrimSuffix(oid, ".pdf")
	}
	if oid != "" {
		return src.Bucket + "/" + oid
	}

	sum := sha1.Sum([]byte(text)) //nolint:gosec
	return hex.EncodeToString(sum[:])[:16]
}
