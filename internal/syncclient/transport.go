package syncclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// ErrTransport marks socket-level failures: the request may not have reached
// the broker and no answer was received.
var ErrTransport = errors.New("transport error")

// Transport sends one request line and returns the response line.
type Transport interface {
	Send(ctx context.Context, line string) (string, error)
}

// Dialer creates the Transport for a discovered broker endpoint.
type Dialer func(endpoint string) Transport

// TCPTransport opens one connection per request, as the broker closes the
// connection after answering.
type TCPTransport struct {
	endpoint string
	timeout  time.Duration // I/O deadline per request, zero for none
}

func NewTCPTransport(endpoint string, timeout time.Duration) *TCPTransport {
	return &TCPTransport{endpoint: endpoint, timeout: timeout}
}

// TCPDialer returns a Dialer producing TCP transports with the given timeout.
func TCPDialer(timeout time.Duration) Dialer {
	return func(endpoint string) Transport {
		return NewTCPTransport(endpoint, timeout)
	}
}

func (t *TCPTransport) Endpoint() string {
	return t.endpoint
}

func (t *TCPTransport) Send(ctx context.Context, line string) (string, error) {
	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: connection failed: %v", ErrTransport, err)
	}
	defer conn.Close()

	if t.timeout > 0 {
		conn.SetDeadline(time.Now().Add(t.timeout))
	}

	writer := bufio.NewWriter(conn)
	if _, err := writer.WriteString(line + "\n"); err != nil {
		return "", fmt.Errorf("%w: failed to write request: %v", ErrTransport, err)
	}
	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("%w: failed to flush request: %v", ErrTransport, err)
	}

	response, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && response != "") {
		return "", fmt.Errorf("%w: failed to read response: %v", ErrTransport, err)
	}
	return strings.TrimRight(response, "\r\n"), nil
}
