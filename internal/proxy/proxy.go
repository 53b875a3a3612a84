// Package proxy implements the reverse-proxy request handler: selecting an
// upstream, forwarding the request verbatim, and streaming the response
// back with the idle-silence timeout and grading protocol that drive
// reliability tiering.
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BigBIueWhale/ollama-load-balancer/internal/metrics"
	"github.com/BigBIueWhale/ollama-load-balancer/internal/registry"
	"github.com/BigBIueWhale/ollama-load-balancer/internal/selector"
	"github.com/BigBIueWhale/ollama-load-balancer/pkg/apperrors"
	"github.com/BigBIueWhale/ollama-load-balancer/pkg/logger"
)

// copyBufferSize matches the chunk size an upstream's token stream is
// typically flushed in, so forwarding doesn't introduce its own batching
// delay on top of the idle-silence clock.
const copyBufferSize = 32 * 1024

// Handler is the single http.Handler mounted on the proxy's public
// listener. One Handler serves every request for the process lifetime.
type Handler struct {
	reg     *registry.Registry
	sel     *selector.Selector
	client  *http.Client
	metrics *metrics.Collector
	log     *logger.Logger

	// shutdownCh is closed by the shutdown coordinator's hard-abort path;
	// every in-flight stream read races against it so a forced shutdown
	// can report OutcomeShutdownInterrupted instead of hanging until the
	// idle timeout.
	shutdownCh <-chan struct{}

	// idleTimeout bounds the gap between successive bytes read from an
	// upstream body. 0 disables the clock: a configured-silent upstream is
	// never abandoned on idle grounds, per the operator's --timeout flag.
	idleTimeout time.Duration

	wg sync.WaitGroup
}

// NewHandler builds a Handler. shutdownCh may be nil if hard-abort is not
// wired (e.g. in tests); a nil channel simply never becomes ready.
// idleTimeout of 0 disables the idle-silence clock entirely.
func NewHandler(reg *registry.Registry, sel *selector.Selector, client *http.Client, mc *metrics.Collector, log *logger.Logger, shutdownCh <-chan struct{}, idleTimeout time.Duration) *Handler {
	return &Handler{reg: reg, sel: sel, client: client, metrics: mc, log: log, shutdownCh: shutdownCh, idleTimeout: idleTimeout}
}

// Wait blocks until every ServeHTTP call that had already started returns.
// The shutdown coordinator calls this after http.Server.Shutdown returns,
// since Shutdown only guarantees the listener stopped accepting — not that
// in-flight handlers finished draining their streams.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.wg.Add(1)
	defer h.wg.Done()

	reqLog := h.log.With("request_id", uuid.NewString())

	var (
		guard         *Guard
		wroteResponse bool
	)
	defer func() {
		if rec := recover(); rec != nil {
			// A panic between claiming an upstream and wrapping its body in
			// a guardedBody would otherwise leak that upstream as
			// permanently busy; release it here as a last resort so the
			// registry stays consistent even on an unexpected crash.
			if guard != nil {
				guard.Release(OutcomeFailedBeforeFirstByte)
			}
			panicErr := apperrors.Wrap(apperrors.CodeInternal, "recovered panic in handler", fmt.Errorf("%v", rec))
			reqLog.Error("proxy: recovered panic in handler", "error", panicErr)
			// Without this, net/http would send the client a default 200 OK
			// with an empty body once the handler returns, masking the
			// failure as a successful empty response.
			if !wroteResponse {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}
	}()

	key, ok := h.sel.Select()
	if !ok {
		h.metrics.RecordRejection()
		noUpstreamErr := apperrors.New(apperrors.CodeNoUpstream, "no upstream eligible for selection")
		reqLog.Info("proxy: no upstream available", "error", noUpstreamErr, "path", r.URL.Path)
		http.Error(w, "no upstream available", http.StatusServiceUnavailable)
		return
	}
	guard = NewGuard(h.reg, h.metrics, key)

	outReq, err := h.buildOutboundRequest(r, key)
	if err != nil {
		guard.Release(OutcomeFailedBeforeFirstByte)
		buildErr := apperrors.Wrap(apperrors.CodeInternal, "building outbound request", err)
		reqLog.Error("proxy: failed to build outbound request", "upstream", key, "error", buildErr)
		http.Error(w, "bad request", http.StatusBadGateway)
		return
	}

	resp, err := h.client.Do(outReq)
	if err != nil {
		if r.Context().Err() != nil {
			// The client went away before headers arrived; the upstream
			// showed no fault of its own, so its grade is left alone.
			guard.Release(OutcomeClientCanceledCleanly)
			reqLog.Info("proxy: client went away before upstream responded", "upstream", key)
			return
		}
		guard.Release(OutcomeFailedBeforeFirstByte)
		connectErr := apperrors.Wrap(apperrors.CodeConnect, "upstream unreachable", err)
		reqLog.Info("proxy: upstream unreachable", "upstream", key, "error", connectErr)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}

	body := newGuardedBody(r.Context(), h.shutdownCh, resp.Body, guard, h.idleTimeout)
	defer body.Close()

	copyHeaders(w.Header(), resp.Header)
	wroteResponse = true
	w.WriteHeader(resp.StatusCode)

	h.stream(w, body, key, reqLog)
}

func (h *Handler) stream(w http.ResponseWriter, body *guardedBody, key string, reqLog *logger.Logger) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				streamErr := apperrors.Wrap(apperrors.CodeBodyStream, "stream ended early", rerr)
				reqLog.Debug("proxy: stream ended early", "upstream", key, "error", streamErr)
			}
			return
		}
	}
}

// buildOutboundRequest rewrites r's target to the selected upstream while
// keeping method, path, query, body and headers intact. key is the
// upstream's base URL, e.g. "http://10.0.0.5:11434".
func (h *Handler) buildOutboundRequest(r *http.Request, key string) (*http.Request, error) {
	target := key + r.URL.RequestURI()
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}
	copyHeaders(outReq.Header, r.Header)
	outReq.ContentLength = r.ContentLength
	return outReq, nil
}
