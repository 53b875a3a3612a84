package socksdialer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledDialsDirectly(t *testing.T) {
	d, err := New(Config{Enabled: false}, time.Second)
	require.NoError(t, err)
	assert.False(t, d.Enabled())
}

func TestNewEnabledRequiresHostAndPort(t *testing.T) {
	_, err := New(Config{Enabled: true}, time.Second)
	require.Error(t, err)
}

func TestNewEnabledBuildsDialer(t *testing.T) {
	d, err := New(Config{Enabled: true, Host: "127.0.0.1", Port: 1080}, time.Second)
	require.NoError(t, err)
	assert.True(t, d.Enabled())
}

func TestDialContextDirectConnectsToListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	d, err := New(Config{Enabled: false}, time.Second)
	require.NoError(t, err)

	conn, err := d.DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}

func TestDialContextRespectsCanceledContext(t *testing.T) {
	d, err := New(Config{Enabled: false}, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = d.DialContext(ctx, "tcp", "127.0.0.1:1")
	require.Error(t, err)
}
