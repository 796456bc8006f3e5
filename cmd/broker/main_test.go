package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikarusms/internal/config"
)

func TestDefaultBindAddr_IsIPv4(t *testing.T) {
	ip := net.ParseIP(defaultBindAddr())
	require.NotNil(t, ip)
	assert.NotNil(t, ip.To4())
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	cfg.BindAddr = "127.0.0.1"
	cfg.DiscoveryPort = freeUDPPort(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, nil) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("broker did not stop")
	}
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}
