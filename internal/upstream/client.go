// Package upstream builds the single shared outbound HTTP client used to
// issue every proxied request. The client enforces a short connect timeout;
// the idle-silence read timeout is enforced separately, per read, by the
// stream wrapper in internal/proxy — not here, since http.Client.Timeout
// would cap the whole response rather than the gap between bytes.
package upstream

import (
	"net/http"
	"time"

	"github.com/BigBIueWhale/ollama-load-balancer/internal/socksdialer"
)

// ConnectTimeout is the fixed dial timeout: a backend that doesn't accept
// TCP within this window is effectively off, and failing fast lets the
// selector move on to the next reliability tier.
const ConnectTimeout = 1 * time.Second

// NewClient builds the shared outbound *http.Client. dialer overrides the
// transport's DialContext (direct or SOCKS5-tunneled, see socksdialer).
func NewClient(dialer *socksdialer.Dialer) *http.Client {
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// No ResponseHeaderTimeout here: the dialer's connect timeout bounds
		// only the TCP connect, so a backend that accepts the connection but
		// never sends headers is waited on without limit. The idle-silence
		// clock in internal/proxy applies to body reads only.
	}
	return &http.Client{
		Transport: transport,
		// Deliberately no Timeout field: that would be a wall-clock cap on
		// the entire request/response, which would kill long-running
		// legitimate streaming generations. Idle-silence is the only
		// timeout that applies to streaming bodies.
	}
}
