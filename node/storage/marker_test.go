package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkerKey(t *testing.T) {
	require.Equal(t, ".processed/papers/a.pdf.abc123.done", MarkerKey(".processed", "papers/a.pdf", "abc123"))
	require.Equal(t, ".processed/dir/b.pdf.e-2.done", MarkerKey(".processed/", `dir\b.pdf`, "e-2"))
}

func TestParseMarker(t *testing.T) {
	m, err := ParseMarker(".processed", ".processed/papers/v1.2/a.pdf.abc123.done")
	require.NoError(t, err)
	require.Equal(t, Marker{Key: "papers/v1.2/a.pdf", ETag: "abc123"}, m)

	for _, k := range []string{
		"other/a.pdf.abc.done",
		".processed/a.pdf.abc",
		".processed/noetag.done",
		".processed/a.pdf..done",
	} {
		_, err := ParseMarker(".processed", k)
		require.Error(t, err, k)
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	key, etag := "2024/q1/report.final.pdf", "9b2cf535f27731c974343645a3985328-3"
	m, err := ParseMarker(".processed", MarkerKey(".processed", key, etag))
	require.NoError(t, err)
	require.Equal(t, key, m.Key)
	require.Equal(t, etag, m.ETag)
}

func TestHasDirPrefix(t *testing.T) {
	dir := markerDir(".processed")
	require.True(t, hasDirPrefix(".processed/a.pdf.x.done", dir))
	require.False(t, hasDirPrefix(".processedness/a.pdf", dir))
	require.False(t, hasDirPrefix("a.pdf", dir))
}
