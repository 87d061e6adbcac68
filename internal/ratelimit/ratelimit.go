// Package ratelimit throttles data connection reads for FTP downloads.
//
// It wraps a token bucket from golang.org/x/time/rate. Waiting for
// tokens honours a context, so a cancelled download never sleeps
// behind the limiter.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurst bounds a single read so waits stay short at low rates.
const maxBurst = 64 * 1024

// Limiter limits transfer throughput to a number of bytes per second.
// A nil *Limiter means unlimited. A Limiter is safe for concurrent use and
// may be shared by several transfers to cap their combined rate.
type Limiter struct {
	limiter *rate.Limiter
	burst   int
}

// New creates a limiter for bytesPerSecond. It returns nil (unlimited)
// for zero or negative rates. The bucket holds at most one second worth
// of data, capped at 64KiB.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	burst := maxBurst
	if bytesPerSecond < int64(burst) {
		burst = int(bytesPerSecond)
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
		burst:   burst,
	}
}

// Rate returns the configured bytes per second, or 0 for a nil limiter.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.limiter.Limit())
}

// wait blocks until n bytes may pass or ctx is done.
func (l *Limiter) wait(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	return l.limiter.WaitN(ctx, n)
}

type reader struct {
	ctx     context.Context
	r       io.Reader
	limiter *Limiter
}

// NewReader returns a reader that limits reads from r.
// If limiter is nil, r is returned unchanged.
func NewReader(ctx context.Context, r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{ctx: ctx, r: r, limiter: limiter}
}

// Read implements io.Reader. Reads are capped at the bucket size and the
// bytes actually read are paid for before returning.
func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > r.limiter.burst {
		p = p[:r.limiter.burst]
	}

	n, err := r.r.Read(p)
	if waitErr := r.limiter.wait(r.ctx, n); waitErr != nil && err == nil {
		err = waitErr
	}
	return n, err
}
