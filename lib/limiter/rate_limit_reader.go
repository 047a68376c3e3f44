package limiter

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/time/rate"
)

type reader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// NewReader returns a reader that is rate limited by the given token
// bucket. Each token in the bucket represents one byte. Reads are cut to
// the bucket's burst so a single large read never exceeds it.
func NewReader(ctx context.Context, r io.Reader, l *rate.Limiter) io.Reader {
	if l == nil {
		return r
	}
	return &reader{
		ctx:     ctx,
		r:       r,
		limiter: l,
	}
}

// NewLimiter returns a limiter for bytesPerSecond, or nil when unlimited.
func NewLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(bytesPerSecond)
	if burst > 1<<20 {
		burst = 1 << 20
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

func (r *reader) Read(buf []byte) (int, error) {
	if burst := r.limiter.Burst(); len(buf) > burst {
		buf = buf[:burst]
	}

	n, err := r.r.Read(buf)
	if n <= 0 {
		return n, err
	}

	if werr := r.limiter.WaitN(r.ctx, n); werr != nil {
		return n, fmt.Errorf("rate limit wait: %w", werr)
	}
	return n, err
}
