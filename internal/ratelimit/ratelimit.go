// Package ratelimit throttles data connections with a token bucket.
//
// The server keeps one Limiter for all transfers and one per session; a
// data connection passes through both, so it never exceeds the lower rate.
// Waiting honours a context, so an aborted transfer stops immediately
// instead of sleeping out its debt.
package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"
)

// chunk is the most a single Read or Write moves at a time, keeping the
// rate smooth for large buffers.
const chunk = 16 * 1024

// Limiter is a token bucket measured in bytes. A nil *Limiter does not
// limit anything.
type Limiter struct {
	mu     sync.Mutex
	rate   float64 // bytes per second
	burst  float64 // bucket capacity
	tokens float64
	last   time.Time
}

// New returns a Limiter for bytesPerSecond with a one second burst, or nil
// when bytesPerSecond is not positive.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	rate := float64(bytesPerSecond)
	return &Limiter{
		rate:   rate,
		burst:  rate,
		tokens: rate,
		last:   time.Now(),
	}
}

// Rate returns the limit in bytes per second, 0 for a nil Limiter.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.rate)
}

// refill adds the tokens earned since the last call. l.mu must be held.
func (l *Limiter) refill(now time.Time) {
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now
}

// Wait blocks until n bytes may pass or ctx is done. A request larger
// than the burst waits for a full bucket and leaves it in debt.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	need := float64(n)

	for {
		l.mu.Lock()
		l.refill(time.Now())
		if l.tokens >= min(need, l.burst) {
			l.tokens -= need
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((min(need, l.burst) - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// waitAll waits on every limiter in turn.
func waitAll(ctx context.Context, limiters []*Limiter, n int) error {
	for _, l := range limiters {
		if err := l.Wait(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// active drops nil limiters.
func active(limiters []*Limiter) []*Limiter {
	var out []*Limiter
	for _, l := range limiters {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

type reader struct {
	ctx      context.Context
	r        io.Reader
	limiters []*Limiter
}

// NewReader throttles r by every non-nil limiter. Without any it returns r.
func NewReader(ctx context.Context, r io.Reader, limiters ...*Limiter) io.Reader {
	limiters = active(limiters)
	if len(limiters) == 0 {
		return r
	}
	return &reader{ctx: ctx, r: r, limiters: limiters}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > chunk {
		p = p[:chunk]
	}
	// Reads are paid for after the fact, by what actually arrived.
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := waitAll(r.ctx, r.limiters, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

type writer struct {
	ctx      context.Context
	w        io.Writer
	limiters []*Limiter
}

// NewWriter throttles w by every non-nil limiter. Without any it returns w.
func NewWriter(ctx context.Context, w io.Writer, limiters ...*Limiter) io.Writer {
	limiters = active(limiters)
	if len(limiters) == 0 {
		return w
	}
	return &writer{ctx: ctx, w: w, limiters: limiters}
}

func (w *writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n := min(len(p)-written, chunk)
		if err := waitAll(w.ctx, w.limiters, n); err != nil {
			return written, err
		}
		m, err := w.w.Write(p[written : written+n])
		written += m
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
