package broker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultRequestTimeout = 5 * time.Second
	DefaultMaxRequestSize = 1024 * 1024 // 1MB
)

// Server accepts one request per connection: read a line, dispatch it, write
// the response line, close.
type Server struct {
	Addr string
	// requested bind address, host:port
	dispatcher *Dispatcher
	listener   net.Listener
	// per-connection read/write deadline
	requestTimeout time.Duration
	maxRequestSize int64
	quitChan       chan struct{}
	// closed on Stop; the accept loop treats errors after it as shutdown
	wg     sync.WaitGroup
	once   sync.Once
	logger *slog.Logger
}

type ServerOptions struct {
	RequestTimeout time.Duration
	MaxRequestSize int64
	Logger         *slog.Logger
}

// constructor for Server
func NewServer(addr string, dispatcher *Dispatcher, opts ServerOptions) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MaxRequestSize <= 0 {
		opts.MaxRequestSize = DefaultMaxRequestSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		Addr:           addr,
		dispatcher:     dispatcher,
		requestTimeout: opts.RequestTimeout,
		maxRequestSize: opts.MaxRequestSize,
		quitChan:       make(chan struct{}),
		logger:         opts.Logger,
	}
}

// Listen binds the listening socket. It is separate from Serve so the bound
// endpoint is known before any client is served.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp4", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to start broker, error: %w", err)
	}
	s.listener = listener
	return nil
}

// ListenAddr returns the bound endpoint; nil before Listen.
func (s *Server) ListenAddr() *net.TCPAddr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr().(*net.TCPAddr)
}

// Serve accepts connections until Stop is called.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("broker_listening", "addr", s.listener.Addr().String())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quitChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept_failed", "error", err.Error())
			time.Sleep(time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go func(conn net.Conn) {
			defer s.wg.Done()
			s.handleConnection(conn)
		}(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	connID := uuid.NewString()
	conn.SetDeadline(time.Now().Add(s.requestTimeout))

	// one byte over the limit leaves room for the terminating newline
	reader := bufio.NewReader(io.LimitReader(conn, s.maxRequestSize+1))
	line, err := reader.ReadString('\n')
	if int64(len(line)) > s.maxRequestSize && !strings.HasSuffix(line, "\n") {
		s.logger.Warn("request_too_large",
			"conn_id", connID,
			"remote_addr", conn.RemoteAddr().String(),
			"limit", s.maxRequestSize,
		)
		s.respond(conn, connID, s.dispatcher.Reject())
		// closing with unread input would reset the connection before the
		// client reads the answer
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.CloseWrite()
		}
		io.Copy(io.Discard, io.LimitReader(conn, 4*s.maxRequestSize))
		return
	}
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			s.logger.Warn("client_read_timeout",
				"conn_id", connID,
				"remote_addr", conn.RemoteAddr().String(),
			)
			return
		}
		if !errors.Is(err, io.EOF) {
			s.logger.Error("client_read_error",
				"conn_id", connID,
				"error", err.Error(),
			)
			return
		}
		// connected and closed without a request
		return
	}

	s.respond(conn, connID, s.dispatcher.Handle(strings.TrimRight(line, "\r\n")))
}

func (s *Server) respond(conn net.Conn, connID, response string) {
	writer := bufio.NewWriter(conn)
	if _, err := writer.WriteString(response + "\n"); err != nil {
		s.logger.Warn("client_write_failed", "conn_id", connID, "error", err.Error())
		return
	}
	if err := writer.Flush(); err != nil {
		s.logger.Warn("client_write_failed", "conn_id", connID, "error", err.Error())
	}
}

// Stop closes the listener and waits for in-flight requests.
func (s *Server) Stop() {
	s.once.Do(func() {
		close(s.quitChan)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
	s.logger.Info("broker_stopped")
}
