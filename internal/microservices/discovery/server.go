// Package discovery lets nodes find the broker: the broker answers a
// broadcast "hello" datagram with its TCP endpoint.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ikarusms/internal/protocol"
)

const DefaultPort = 8686

// Server answers discovery datagrams. It only knows the endpoint it
// advertises, captured once at construction.
type Server struct {
	conn      *net.UDPConn
	advertise string
	limiter   *rate.Limiter
	done      chan struct{}
	logger    *slog.Logger
}

// NewServer binds addr (":8686" style) and advertises the broker endpoint.
// repliesPerSecond bounds the reply rate; zero means unlimited.
func NewServer(addr string, advertise *net.TCPAddr, repliesPerSecond float64, logger *slog.Logger) (*Server, error) {
	if advertise == nil || advertise.IP.To4() == nil {
		return nil, fmt.Errorf("advertised endpoint must be an IPv4 address, got %v", advertise)
	}
	if logger == nil {
		logger = slog.Default()
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}

	limit := rate.Inf
	if repliesPerSecond > 0 {
		limit = rate.Limit(repliesPerSecond)
	}
	return &Server{
		conn:      conn,
		advertise: fmt.Sprintf("%s:%d", advertise.IP.To4().String(), advertise.Port),
		limiter:   rate.NewLimiter(limit, 10),
		done:      make(chan struct{}),
		logger:    logger,
	}, nil
}

// LocalAddr returns the bound UDP address.
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Advertised returns the "<ipv4>:<port>" reply payload.
func (s *Server) Advertised() string {
	return s.advertise
}

// Serve answers datagrams until Shutdown is called.
func (s *Server) Serve() error {
	s.logger.Info("discovery_listening",
		"addr", s.conn.LocalAddr().String(),
		"advertise", s.advertise,
	)
	buffer := make([]byte, 1024)

	for {
		n, addr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("discovery_read_failed", "error", err.Error())
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if strings.TrimSpace(string(buffer[:n])) != protocol.DiscoveryHello {
			s.logger.Debug("discovery_unknown_datagram", "from", addr.String())
			continue
		}
		if !s.limiter.Allow() {
			s.logger.Warn("discovery_rate_limited", "from", addr.String())
			continue
		}
		if _, err := s.conn.WriteToUDP([]byte(s.advertise), addr); err != nil {
			s.logger.Warn("discovery_reply_failed", "to", addr.String(), "error", err.Error())
			continue
		}
		s.logger.Debug("discovery_replied", "to", addr.String())
	}
}

// Shutdown stops Serve and closes the socket.
func (s *Server) Shutdown() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	return s.conn.Close()
}
