// ollama-load-balancer is a reverse proxy that spreads requests across a
// fixed set of single-tenant LLM backends, picking the next upstream by
// live reliability rather than round-robin.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BigBIueWhale/ollama-load-balancer/internal/config"
	"github.com/BigBIueWhale/ollama-load-balancer/internal/metrics"
	"github.com/BigBIueWhale/ollama-load-balancer/internal/proxy"
	"github.com/BigBIueWhale/ollama-load-balancer/internal/registry"
	"github.com/BigBIueWhale/ollama-load-balancer/internal/reporter"
	"github.com/BigBIueWhale/ollama-load-balancer/internal/selector"
	"github.com/BigBIueWhale/ollama-load-balancer/internal/shutdown"
	"github.com/BigBIueWhale/ollama-load-balancer/internal/socksdialer"
	"github.com/BigBIueWhale/ollama-load-balancer/internal/upstream"
	"github.com/BigBIueWhale/ollama-load-balancer/pkg/logger"
)

// drainGracePeriod is the deadline Drain hands to http.Server.Shutdown.
// Drain still waits for every in-flight handler after it passes, so it does
// not cut streams off; the operator's second SIGINT/SIGTERM is what
// hard-aborts them.
const drainGracePeriod = 5 * time.Minute

func main() {
	log := logger.New()
	defer log.Sync()

	err := config.Parse(os.Args[1:], func(cfg config.Config) error {
		return run(cfg, log)
	})
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	reg, err := registry.New(cfg.Upstreams)
	if err != nil {
		return err
	}

	dialer, err := socksdialer.New(cfg.SocksProxy, upstream.ConnectTimeout)
	if err != nil {
		return err
	}
	client := upstream.NewClient(dialer)

	sel := selector.New(reg, log)

	promReg := prometheus.NewRegistry()
	var collector *metrics.Collector
	if cfg.MetricsBind != "" {
		collector = metrics.NewCollector(promReg, "ollamalb")
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rep := reporter.New(reg, log)
	go rep.Run(rootCtx)

	if collector != nil {
		obsCh := make(chan []registry.Entry, 8)
		reg.Subscribe(obsCh)
		go func() {
			for {
				select {
				case <-rootCtx.Done():
					return
				case snap := <-obsCh:
					collector.Observe(snap)
				}
			}
		}()

		metricsSrv := metrics.NewServer(cfg.MetricsBind, promReg, log)
		go metricsSrv.Serve(rootCtx)
	}

	coordinator := shutdown.New(log)
	handler := proxy.NewHandler(reg, sel, client, collector, log, coordinator.HardAbortCh(), cfg.IdleTimeout)
	httpServer := &http.Server{Addr: cfg.Bind, Handler: handler}
	coordinator.Attach(httpServer, handler)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("proxy: listening", "addr", cfg.Bind)
		serveErrCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-sigCh:
		log.Info("shutdown: first signal received, draining")
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}

	go func() {
		<-sigCh
		log.Info("shutdown: second signal received, hard-aborting in-flight streams")
		cancel()
	}()

	coordinator.Drain(rootCtx, drainGracePeriod)
	return nil
}
