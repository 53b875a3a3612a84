package reporter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BigBIueWhale/ollama-load-balancer/internal/registry"
	"github.com/BigBIueWhale/ollama-load-balancer/pkg/logger"
)

func TestReporterRunConsumesWithoutBlockingRegistry(t *testing.T) {
	reg, err := registry.New([]registry.Upstream{
		{Key: "http://a", DisplayName: "a"},
		{Key: "http://b", DisplayName: "b"},
	})
	require.NoError(t, err)

	r := New(reg, logger.New())

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			reg.WithEntry("http://a", func(e *registry.Entry) { e.Busy = !e.Busy })
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registry mutations blocked on reporter consumption")
	}
}
