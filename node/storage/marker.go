package storage

import (
	"strings"

	"golang.org/x/xerrors"
)

const markerSuffix = ".done"

// Marker is an empty object recording that Key was processed at ETag.
type Marker struct {
	Key  string
	ETag string
}

// MarkerKey returns prefix/key.etag.done. Backslashes in key become slashes.
func MarkerKey(prefix, key, etag string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	return markerDir(prefix) + key + "." + etag + markerSuffix
}

// ParseMarker is the inverse of MarkerKey. Keys may contain dots; etags may
// not.
func ParseMarker(prefix, markerKey string) (Marker, error) {
	dir := markerDir(prefix)
	if !strings.HasPrefix(markerKey, dir) {
		return Marker{}, xerrors.Errorf("marker %q is not under %q", markerKey, dir)
	}
	rest := strings.TrimPrefix(markerKey, dir)
	if !strings.HasSuffix(rest, markerSuffix) {
		return Marker{}, xerrors.Errorf("marker %q lacks %s suffix", markerKey, markerSuffix)
	}
	rest = strings.TrimSuffix(rest, markerSuffix)

	i := strings.LastIndexByte(rest, '.')
	if i <= 0 || i == len(rest)-1 {
		return Marker{}, xerrors.Errorf("marker %q has no etag", markerKey)
	}
	return Marker{Key: rest[:i], ETag: rest[i+1:]}, nil
}

func markerDir(prefix string) string {
	return strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/") + "/"
}

func hasDirPrefix(key, dir string) bool {
	return strings.HasPrefix(strings.ReplaceAll(key, "\\", "/"), dir)
}
