// Package socksdialer provides an optional SOCKS5 dialer used by the
// outbound client to reach upstream backends through a jump host. Adapted
// from a Stratum-proxy SOCKS dialer into a generic net.Dialer-shaped
// DialContext usable by http.Transport.
package socksdialer

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// Config describes an optional SOCKS5 front for outbound connections.
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
}

// Dialer wraps either a direct net.Dialer or a SOCKS5-tunneled dialer behind
// one DialContext-shaped seam.
type Dialer struct {
	cfg    Config
	dialer proxy.Dialer
}

// New builds a Dialer. When cfg.Enabled is false the returned Dialer dials
// directly with the connect timeout described in the outbound client spec.
func New(cfg Config, connectTimeout time.Duration) (*Dialer, error) {
	if !cfg.Enabled {
		return &Dialer{cfg: cfg, dialer: &net.Dialer{Timeout: connectTimeout}}, nil
	}

	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("socksdialer: host and port are required when enabled")
	}

	authURL := &url.URL{Scheme: "socks5", Host: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)}
	if cfg.Username != "" {
		authURL.User = url.UserPassword(cfg.Username, cfg.Password)
	}

	d, err := proxy.FromURL(authURL, &net.Dialer{Timeout: connectTimeout})
	if err != nil {
		return nil, fmt.Errorf("socksdialer: building SOCKS5 dialer: %w", err)
	}
	return &Dialer{cfg: cfg, dialer: d}, nil
}

// DialContext satisfies the signature http.Transport.DialContext expects.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if ctxDialer, ok := d.dialer.(interface {
		DialContext(context.Context, string, string) (net.Conn, error)
	}); ok {
		return ctxDialer.DialContext(ctx, network, address)
	}

	// Fallback for proxy.Dialer implementations that predate context
	// support: run the blocking Dial in a goroutine and race it against
	// ctx so a canceled connect attempt still returns promptly.
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := d.dialer.Dial(network, address)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Enabled reports whether this Dialer tunnels through a SOCKS5 proxy.
func (d *Dialer) Enabled() bool {
	return d.cfg.Enabled
}
