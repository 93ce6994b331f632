// Package server implements the TCP server for EmberDB using the RESP protocol.
package server

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/emberdb/emberdb/internal/hotkeys"
	"github.com/emberdb/emberdb/internal/metrics"
	"github.com/emberdb/emberdb/internal/protocol"
	"github.com/emberdb/emberdb/internal/store"
)

// Config holds server configuration.
type Config struct {
	MaxClients    int           // 0 = unlimited
	ReadTimeout   time.Duration // idle time allowed between reads, 0 = none
	WriteTimeout  time.Duration // 0 = none
	RateLimit     float64       // commands per second per connection, 0 = unlimited
	MaxFrameBytes int           // buffered bytes allowed for one incomplete frame
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		MaxClients:    10000,
		MaxFrameBytes: protocol.DefaultMaxFrameBytes,
	}
}

// Option configures optional collaborators of a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l hclog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHotKeys records the key of every keyed command in t.
func WithHotKeys(t *hotkeys.Tracker) Option {
	return func(s *Server) { s.hotkeys = t }
}

// clientConn represents a client connection with state.
type clientConn struct {
	id          ulid.ULID
	conn        net.Conn
	addr        string
	createdAt   time.Time
	lastCommand atomic.Int64 // unix nanos
	cmdCount    atomic.Int64
	limiter     *rate.Limiter
}

// ClientInfo describes one live connection.
type ClientInfo struct {
	ID       string        `json:"id"`
	Addr     string        `json:"addr"`
	Age      time.Duration `json:"age"`
	Idle     time.Duration `json:"idle"`
	Commands int64         `json:"commands"`
}

// Stats is a snapshot of server counters.
type Stats struct {
	Uptime              time.Duration `json:"uptime"`
	ActiveClients       int           `json:"active_clients"`
	TotalConnections    int64         `json:"total_connections"`
	RejectedConnections int64         `json:"rejected_connections"`
	TotalCommands       int64         `json:"total_commands"`
}

// Server represents the EmberDB TCP server.
type Server struct {
	addr    string
	store   *store.Store
	config  Config
	logger  hclog.Logger
	metrics *metrics.Metrics
	hotkeys *hotkeys.Tracker

	listener  net.Listener
	ready     chan struct{}
	readyOnce sync.Once
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	clients   map[ulid.ULID]*clientConn
	startTime time.Time

	totalConns    atomic.Int64
	rejectedConns atomic.Int64
	totalCmds     atomic.Int64
}

// New creates a new Server with the specified address and store.
func New(addr string, st *store.Store, opts ...Option) *Server {
	return NewWithConfig(addr, st, DefaultConfig(), opts...)
}

// NewWithConfig creates a new Server with the specified configuration.
func NewWithConfig(addr string, st *store.Store, cfg Config, opts ...Option) *Server {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = protocol.DefaultMaxFrameBytes
	}
	s := &Server{
		addr:      addr,
		store:     st,
		config:    cfg,
		logger:    hclog.NewNullLogger(),
		ready:     make(chan struct{}),
		clients:   make(map[ulid.ULID]*clientConn),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens on the configured address and serves connections.
// It blocks until the context is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: failed to listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until the context is cancelled or Close is
// called. Serve takes ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	s.logger.Info("listening", "addr", ln.Addr().String(), "max_clients", s.config.MaxClients)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Error("failed to accept connection", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		client, ok := s.register(conn)
		if !ok {
			continue
		}

		go func(c *clientConn) {
			defer s.wg.Done()
			defer s.unregister(c)
			s.handleConnection(ctx, c)
		}(client)
	}
}

// register admits conn, or rejects it when MaxClients is reached. An admitted
// connection is counted in s.wg; the caller must call s.wg.Done when it ends.
func (s *Server) register(conn net.Conn) (*clientConn, bool) {
	s.mu.Lock()
	if s.closed || (s.config.MaxClients > 0 && len(s.clients) >= s.config.MaxClients) {
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.rejectedConns.Add(1)
			s.metrics.ConnRejected()
			s.logger.Warn("max clients reached, rejecting connection", "remote", conn.RemoteAddr().String())
			conn.Write(protocol.Encode(protocol.SimpleError("ERR max number of clients reached")))
		}
		conn.Close()
		return nil, false
	}

	now := time.Now()
	c := &clientConn{
		id:        ulid.Make(),
		conn:      conn,
		addr:      conn.RemoteAddr().String(),
		createdAt: now,
	}
	c.lastCommand.Store(now.UnixNano())
	if s.config.RateLimit > 0 {
		burst := int(s.config.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(s.config.RateLimit), burst)
	}
	s.clients[c.id] = c
	// Added under the lock so Close never waits before a registered session is counted.
	s.wg.Add(1)
	s.mu.Unlock()

	s.totalConns.Add(1)
	s.metrics.ConnOpened()
	return c, true
}

func (s *Server) unregister(c *clientConn) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.metrics.ConnClosed()
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listener address, or nil before Serve is called.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting connections, closes every live connection and waits
// for their goroutines to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closed = true
	listener := s.listener
	conns := make([]net.Conn, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c.conn)
	}
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	for _, conn := range conns {
		conn.Close()
	}

	// Wait for all connections to finish
	s.wg.Wait()
	s.logger.Info("server stopped")
	return err
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	active := len(s.clients)
	s.mu.RUnlock()
	return Stats{
		Uptime:              time.Since(s.startTime),
		ActiveClients:       active,
		TotalConnections:    s.totalConns.Load(),
		RejectedConnections: s.rejectedConns.Load(),
		TotalCommands:       s.totalCmds.Load(),
	}
}

// Clients lists the live connections, oldest first.
func (s *Server) Clients() []ClientInfo {
	now := time.Now()
	s.mu.RLock()
	out := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, ClientInfo{
			ID:       c.id.String(),
			Addr:     c.addr,
			Age:      now.Sub(c.createdAt),
			Idle:     now.Sub(time.Unix(0, c.lastCommand.Load())),
			Commands: c.cmdCount.Load(),
		})
	}
	s.mu.RUnlock()

	// ULIDs sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
