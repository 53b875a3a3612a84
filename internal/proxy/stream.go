package proxy

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var errIdleTimeout = errors.New("proxy: idle timeout waiting for upstream")

type readResult struct {
	n   int
	err error
}

// guardedBody wraps an upstream response body so that every Read is raced
// against an idle timer, the request context, and a shutdown signal, and so
// that Close reports exactly one terminal Outcome to a Guard regardless of
// which of those three ends the stream first.
//
// Each Read starts the underlying Read on its own goroutine rather than
// calling it inline. That goroutine can outlive the timeout that fired
// against it (the underlying Read is still blocked in the kernel), so
// rather than leak it forever it is left to deliver into a buffered channel
// that nothing reads again — the channel and goroutine are GC'd together
// once the last reference drops.
type guardedBody struct {
	ctx         context.Context
	shutdownCh  <-chan struct{}
	upstream    io.ReadCloser
	guard       *Guard
	idleTimeout time.Duration // 0 disables the idle-silence clock entirely

	closeOnce sync.Once

	sawFirstByte bool
	sawEOF       bool
	lastErr      error
	canceled     bool
	shutdown     bool
}

// newGuardedBody builds a wrapper around upstream. shutdownCh is closed by
// the shutdown coordinator's hard-abort path; it may be nil, in which case
// that case of the select is simply never ready. idleTimeout of 0 means no
// Read ever times out, no matter how silent the upstream goes.
func newGuardedBody(ctx context.Context, shutdownCh <-chan struct{}, upstream io.ReadCloser, guard *Guard, idleTimeout time.Duration) *guardedBody {
	return &guardedBody{ctx: ctx, shutdownCh: shutdownCh, upstream: upstream, guard: guard, idleTimeout: idleTimeout}
}

func (b *guardedBody) Read(p []byte) (int, error) {
	// The goroutine reads into its own buffer, not p directly: if the
	// timer or a cancellation wins the select below, this goroutine is
	// abandoned but may still be blocked in the kernel and deliver later.
	// Writing into a caller-owned buffer from that abandoned goroutine
	// would race with whatever the next Read call does with p.
	tmp := make([]byte, len(p))
	resultCh := make(chan readResult, 1)
	go func() {
		n, err := b.upstream.Read(tmp)
		resultCh <- readResult{n: n, err: err}
	}()

	// A nil timer channel is never ready, so a zero idleTimeout disables
	// the clock outright instead of racing a timer that would still fire.
	var timerC <-chan time.Time
	if b.idleTimeout > 0 {
		timer := time.NewTimer(b.idleTimeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case r := <-resultCh:
		if r.n > 0 {
			copy(p, tmp[:r.n])
			b.sawFirstByte = true
		}
		if r.err != nil {
			if errors.Is(r.err, io.EOF) {
				b.sawEOF = true
			} else if b.ctx.Err() != nil {
				// The outbound request shares the client's context, so a
				// client disconnect can surface here as a read error; that
				// is a cancellation, not an upstream failure.
				b.canceled = true
				b.lastErr = r.err
			} else {
				b.lastErr = r.err
			}
		}
		return r.n, r.err

	case <-b.shutdownCh:
		b.shutdown = true
		b.lastErr = errors.New("proxy: shutdown")
		return 0, b.lastErr

	case <-b.ctx.Done():
		b.canceled = true
		b.lastErr = b.ctx.Err()
		return 0, b.lastErr

	case <-timerC:
		b.lastErr = errIdleTimeout
		return 0, errIdleTimeout
	}
}

// Close reports the stream's terminal Outcome to the guard and closes the
// underlying body. Only the first call has effect.
func (b *guardedBody) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.guard.Release(b.computeOutcome())
		err = b.upstream.Close()
	})
	return err
}

func (b *guardedBody) computeOutcome() Outcome {
	switch {
	case b.sawEOF:
		return OutcomeSucceeded
	case b.shutdown:
		return OutcomeShutdownInterrupted
	case b.canceled:
		return OutcomeClientCanceledCleanly
	case b.lastErr != nil && b.sawFirstByte:
		return OutcomeFailedMidStream
	case b.lastErr != nil:
		return OutcomeFailedBeforeFirstByte
	default:
		// Close was called without the body ever reaching one of the
		// above: treat it the same as a client walking away mid-read.
		return OutcomeClientCanceledCleanly
	}
}
