package limiter

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewLimiterUnlimited(t *testing.T) {
	require.Nil(t, NewLimiter(0))
	require.Nil(t, NewLimiter(-5))

	src := bytes.NewReader([]byte("abc"))
	require.Same(t, io.Reader(src), NewReader(context.Background(), src, nil))
}

func TestReaderCopiesAllBytes(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 4096)
	r := NewReader(context.Background(), bytes.NewReader(data), NewLimiter(1<<20))

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestReaderHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// 10 bytes/s with 4 KiB to read can not finish before the deadline
	r := NewReader(ctx, bytes.NewReader(bytes.Repeat([]byte("x"), 4096)), NewLimiter(10))
	_, err := io.ReadAll(r)
	require.Error(t, err)
}
