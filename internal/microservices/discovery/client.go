package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"ikarusms/internal/protocol"
)

const DefaultTimeout = time.Second

var ErrNoBroker = errors.New("no broker answered the discovery broadcast")

// ClientConfig says where to send the hello and how long to wait for the
// answer.
type ClientConfig struct {
	Broadcast string        // target IPv4, default 255.255.255.255
	Port      int           // default DefaultPort
	Timeout   time.Duration // default DefaultTimeout
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Broadcast == "" {
		c.Broadcast = net.IPv4bcast.String()
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Discover broadcasts a hello and returns the "<ipv4>:<port>" endpoint from
// the first reply. No reply within the timeout, or a malformed one, yields
// ErrNoBroker.
func Discover(ctx context.Context, cfg ClientConfig) (string, error) {
	cfg = cfg.withDefaults()

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return "", fmt.Errorf("failed to open discovery socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	target := &net.UDPAddr{IP: net.ParseIP(cfg.Broadcast), Port: cfg.Port}
	if target.IP == nil {
		return "", fmt.Errorf("invalid broadcast address %q", cfg.Broadcast)
	}
	if _, err := conn.WriteToUDP([]byte(protocol.DiscoveryHello), target); err != nil {
		return "", fmt.Errorf("failed to send discovery hello: %w", err)
	}

	buffer := make([]byte, 1000)
	n, _, err := conn.ReadFromUDP(buffer)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoBroker, err)
	}

	endpoint := strings.TrimSpace(string(buffer[:n]))
	if !validEndpoint(endpoint) {
		return "", fmt.Errorf("%w: malformed reply %q", ErrNoBroker, endpoint)
	}
	return endpoint, nil
}

// validEndpoint accepts exactly "<dotted ipv4>:<port>".
func validEndpoint(s string) bool {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil || strings.Contains(host, ":") {
		return false
	}
	p, err := strconv.Atoi(port)
	return err == nil && p > 0 && p < 65536
}
