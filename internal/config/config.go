// Package config parses the proxy's CLI surface with spf13/cobra into a
// validated Config, the way net2share-dnstc's cmd/root.go loads and
// validates its own startup configuration before handing off to the engine.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BigBIueWhale/ollama-load-balancer/internal/registry"
	"github.com/BigBIueWhale/ollama-load-balancer/internal/socksdialer"
	"github.com/BigBIueWhale/ollama-load-balancer/pkg/apperrors"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config is the fully-validated result of parsing the CLI surface.
type Config struct {
	Upstreams   []registry.Upstream
	IdleTimeout time.Duration // 0 disables the idle-silence timer
	Bind        string
	SocksProxy  socksdialer.Config
	MetricsBind string // empty disables the metrics/health listener
}

// Parse builds a cobra command and runs it against args. The validated
// Config is not returned: run is invoked with it once flags parse and
// validate successfully, and Parse returns the command's error (a
// validation error or run's own error) so cobra's own usage/help output
// still works.
func Parse(args []string, run func(Config) error) error {
	var (
		servers     []string
		timeoutSecs int
		bind        string
		socksAddr   string
		metricsBind string
	)

	cmd := &cobra.Command{
		Use:     "ollama-load-balancer",
		Short:   "Reverse proxy with reliability-based upstream selection",
		Version: Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := build(servers, timeoutSecs, bind, socksAddr, metricsBind)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.SetArgs(args)

	cmd.Flags().StringArrayVar(&servers, "server", nil, "upstream as URL=name (repeatable)")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 30, "idle-silence timeout in seconds, 0 disables it")
	cmd.Flags().StringVar(&bind, "bind", "127.0.0.1:11434", "address the proxy listens on")
	cmd.Flags().StringVar(&socksAddr, "socks-proxy", "", "optional SOCKS5 proxy host:port for outbound connections")
	cmd.Flags().StringVar(&metricsBind, "metrics-bind", "", "optional address to serve /metrics and /healthz on")

	return cmd.Execute()
}

func build(servers []string, timeoutSecs int, bind, socksAddr, metricsBind string) (Config, error) {
	if len(servers) == 0 {
		return Config{}, apperrors.New(apperrors.CodeStartup, "at least one --server is required")
	}
	if timeoutSecs < 0 {
		return Config{}, apperrors.New(apperrors.CodeStartup, "--timeout must not be negative")
	}
	if bind == "" {
		return Config{}, apperrors.New(apperrors.CodeStartup, "--bind must not be empty")
	}

	upstreams := make([]registry.Upstream, 0, len(servers))
	seen := make(map[string]bool, len(servers))
	for _, s := range servers {
		u, err := parseServer(s)
		if err != nil {
			return Config{}, apperrors.Wrap(apperrors.CodeStartup, "parsing --server", err)
		}
		if seen[u.Key] {
			return Config{}, apperrors.New(apperrors.CodeStartup, fmt.Sprintf("duplicate --server URL %q", u.Key))
		}
		seen[u.Key] = true
		upstreams = append(upstreams, u)
	}

	socksCfg, err := parseSocksProxy(socksAddr)
	if err != nil {
		return Config{}, apperrors.Wrap(apperrors.CodeStartup, "parsing --socks-proxy", err)
	}

	return Config{
		Upstreams:   upstreams,
		IdleTimeout: time.Duration(timeoutSecs) * time.Second,
		Bind:        bind,
		SocksProxy:  socksCfg,
		MetricsBind: metricsBind,
	}, nil
}

// parseServer splits "URL=name" into a registry.Upstream, defaulting
// DisplayName to URL when no "=name" suffix is given.
func parseServer(s string) (registry.Upstream, error) {
	url, name, hasName := strings.Cut(s, "=")
	url = strings.TrimRight(url, "/")
	if url == "" {
		return registry.Upstream{}, fmt.Errorf("empty upstream URL in %q", s)
	}
	if !hasName || name == "" {
		name = url
	}
	return registry.Upstream{Key: url, DisplayName: name}, nil
}

func parseSocksProxy(addr string) (socksdialer.Config, error) {
	if addr == "" {
		return socksdialer.Config{Enabled: false}, nil
	}
	host, port, err := splitHostPort(addr)
	if err != nil {
		return socksdialer.Config{}, err
	}
	return socksdialer.Config{Enabled: true, Host: host, Port: port}, nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok || host == "" || portStr == "" {
		return "", 0, fmt.Errorf("expected host:port, got %q", addr)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}
