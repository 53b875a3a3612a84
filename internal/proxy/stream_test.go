package proxy

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BigBIueWhale/ollama-load-balancer/internal/metrics"
	"github.com/BigBIueWhale/ollama-load-balancer/internal/registry"
)

// scriptedBody replays a fixed sequence of Read results, optionally
// blocking before one of them to simulate upstream silence.
type scriptedBody struct {
	mu        sync.Mutex
	chunks    [][]byte
	errs      []error
	idx       int
	blockBefore int
	block       chan struct{}
	closed      bool
}

func (s *scriptedBody) Read(p []byte) (int, error) {
	s.mu.Lock()
	i := s.idx
	s.idx++
	s.mu.Unlock()

	if i == s.blockBefore && s.block != nil {
		<-s.block
	}
	if i >= len(s.chunks) {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[i])
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return n, err
}

func (s *scriptedBody) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func newGuardForTest(t *testing.T) (*Guard, *registry.Registry) {
	t.Helper()
	reg, err := registry.New([]registry.Upstream{{Key: "http://a", DisplayName: "a"}})
	require.NoError(t, err)
	mc := metrics.NewCollector(prometheus.NewRegistry(), "test")
	return NewGuard(reg, mc, "http://a"), reg
}

func TestGuardedBodySucceeded(t *testing.T) {
	guard, reg := newGuardForTest(t)
	body := &scriptedBody{chunks: [][]byte{[]byte("hello")}}
	gb := newGuardedBody(context.Background(), nil, body, guard, time.Minute)

	buf := make([]byte, 16)
	n, err := gb.Read(buf)
	assert.Equal(t, 5, n)
	assert.NoError(t, err)

	n, err = gb.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, gb.Close())
	assert.Equal(t, registry.Reliable, reg.Snapshot()[0].Grade)
	assert.False(t, reg.Snapshot()[0].Busy)
	assert.True(t, body.closed)
}

func TestGuardedBodyFailedBeforeFirstByte(t *testing.T) {
	guard, reg := newGuardForTest(t)
	body := &scriptedBody{chunks: [][]byte{{}}, errs: []error{errors.New("reset")}}
	gb := newGuardedBody(context.Background(), nil, body, guard, time.Minute)

	buf := make([]byte, 16)
	_, err := gb.Read(buf)
	require.Error(t, err)

	require.NoError(t, gb.Close())
	assert.Equal(t, registry.Unreliable, reg.Snapshot()[0].Grade)
}

func TestGuardedBodyFailedMidStream(t *testing.T) {
	guard, reg := newGuardForTest(t)
	body := &scriptedBody{
		chunks: [][]byte{[]byte("partial"), {}},
		errs:   []error{nil, errors.New("reset")},
	}
	gb := newGuardedBody(context.Background(), nil, body, guard, time.Minute)

	buf := make([]byte, 16)
	n, err := gb.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = gb.Read(buf)
	require.Error(t, err)

	require.NoError(t, gb.Close())
	assert.Equal(t, registry.Unreliable, reg.Snapshot()[0].Grade)
}

func TestGuardedBodyClientCanceled(t *testing.T) {
	guard, reg := newGuardForTest(t)
	// Pre-promote to SecondChanceGiven so the test can assert a client
	// cancel does not touch the grade either way.
	reg.WithEntry("http://a", func(e *registry.Entry) { e.Grade = registry.SecondChanceGiven })

	ctx, cancel := context.WithCancel(context.Background())
	body := &scriptedBody{blockBefore: 0, block: make(chan struct{})}
	gb := newGuardedBody(ctx, nil, body, guard, time.Minute)

	cancel()
	buf := make([]byte, 16)
	_, err := gb.Read(buf)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, gb.Close())
	assert.Equal(t, registry.SecondChanceGiven, reg.Snapshot()[0].Grade, "client cancel must not change grade")
}

func TestGuardedBodyShutdownInterrupted(t *testing.T) {
	guard, reg := newGuardForTest(t)
	reg.WithEntry("http://a", func(e *registry.Entry) { e.Grade = registry.Reliable })

	shutdownCh := make(chan struct{})
	body := &scriptedBody{blockBefore: 0, block: make(chan struct{})}
	gb := newGuardedBody(context.Background(), shutdownCh, body, guard, time.Minute)

	close(shutdownCh)
	buf := make([]byte, 16)
	_, err := gb.Read(buf)
	require.Error(t, err)

	require.NoError(t, gb.Close())
	assert.Equal(t, registry.Reliable, reg.Snapshot()[0].Grade, "forced shutdown must not demote the upstream")
}

func TestGuardedBodyIdleTimeoutAbandonsSilentUpstream(t *testing.T) {
	guard, reg := newGuardForTest(t)
	body := &scriptedBody{blockBefore: 0, block: make(chan struct{})}
	gb := newGuardedBody(context.Background(), nil, body, guard, 20*time.Millisecond)

	buf := make([]byte, 16)
	start := time.Now()
	_, err := gb.Read(buf)
	assert.ErrorIs(t, err, errIdleTimeout)
	assert.Less(t, time.Since(start), time.Second, "Read should have been abandoned by the idle timer, not blocked")

	require.NoError(t, gb.Close())
	assert.Equal(t, registry.Unreliable, reg.Snapshot()[0].Grade)
}

func TestGuardedBodyZeroIdleTimeoutNeverAbandonsUpstream(t *testing.T) {
	guard, reg := newGuardForTest(t)
	body := &scriptedBody{blockBefore: 0, block: make(chan struct{})}
	gb := newGuardedBody(context.Background(), nil, body, guard, 0)

	buf := make([]byte, 16)
	done := make(chan struct{})
	go func() {
		gb.Read(buf)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Read returned before the upstream produced anything, despite a zero idle timeout")
	case <-time.After(150 * time.Millisecond):
	}

	close(body.block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock once the upstream became ready")
	}

	require.NoError(t, gb.Close())
	assert.Equal(t, registry.Reliable, reg.Snapshot()[0].Grade)
}

func TestGuardReleaseIsExactlyOnce(t *testing.T) {
	guard, reg := newGuardForTest(t)
	guard.Release(OutcomeSucceeded)
	guard.Release(OutcomeFailedBeforeFirstByte) // must be ignored

	assert.Equal(t, registry.Reliable, reg.Snapshot()[0].Grade)
}
