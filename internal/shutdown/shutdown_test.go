package shutdown

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BigBIueWhale/ollama-load-balancer/pkg/logger"
)

type countingWaiter struct {
	waited atomic.Bool
	delay  time.Duration
}

func (w *countingWaiter) Wait() {
	time.Sleep(w.delay)
	w.waited.Store(true)
}

func newRunningServer(t *testing.T) *http.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: http.NewServeMux()}
	go func() { _ = srv.Serve(ln) }()
	return srv
}

func TestDrainWaitsForInFlightHandlersAndReachesExited(t *testing.T) {
	srv := newRunningServer(t)
	w := &countingWaiter{delay: 10 * time.Millisecond}
	c := New(logger.New())
	c.Attach(srv, w)

	assert.Equal(t, Accepting, c.State())
	c.Drain(context.Background(), time.Second)

	assert.True(t, w.waited.Load())
	assert.Equal(t, Exited, c.State())
}

func TestDrainClosesHardAbortOnSecondSignal(t *testing.T) {
	srv := newRunningServer(t)
	w := &countingWaiter{delay: 500 * time.Millisecond}
	c := New(logger.New())
	c.Attach(srv, w)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Drain(ctx, time.Second)
		close(done)
	}()

	select {
	case <-c.HardAbortCh():
	case <-time.After(time.Second):
		t.Fatal("hard abort channel was never closed")
	}

	<-done
	assert.Equal(t, Exited, c.State())
}
