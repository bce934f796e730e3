package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/platform"
)

const (
	defaultWriteTimeout = 2 * time.Second
	defaultDialTimeout  = 3 * time.Second
	defaultMaxLineBytes = 1 << 20
)

type TCPServerOptions struct {
	Addr         string
	Supervisor   *platform.Supervisor
	Logger       *slog.Logger
	WriteTimeout time.Duration
	MaxLineBytes int
}

// TCPServer is the master side of the TCP transport. Agent frames are split
// into lines per connection before they reach the shared inbox, so frames
// from different agents never interleave.
type TCPServer struct {
	opts  TCPServerOptions
	sup   *platform.Supervisor
	log   *slog.Logger
	inbox Inbox

	mu     sync.Mutex
	ln     net.Listener
	conns  map[string]net.Conn
	closed bool
}

func NewTCPServer(opts TCPServerOptions) (*TCPServer, error) {
	if opts.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	if opts.Supervisor == nil {
		return nil, errors.New("supervisor is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = defaultMaxLineBytes
	}
	return &TCPServer{
		opts:  opts,
		sup:   opts.Supervisor,
		log:   opts.Logger.With("transport", "tcp-server"),
		conns: make(map[string]net.Conn),
	}, nil
}

func (s *TCPServer) Name() string { return "tcp-server" }

func (s *TCPServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.closed = false
	s.mu.Unlock()
	s.log.Info("listening", "addr", ln.Addr().String())
	return s.sup.StartSpec(platform.TaskSpec{Name: "tcp-accept", Restart: platform.RestartTransient}, s.accept)
}

// Addr is the bound listen address, useful with port 0.
func (s *TCPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Peers is the number of connected agents.
func (s *TCPServer) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *TCPServer) accept(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return nil
			}
			return err
		}
		id := conn.RemoteAddr().String()
		s.mu.Lock()
		s.conns[id] = conn
		s.mu.Unlock()
		s.log.Info("agent connected", "peer", id)
		err = s.sup.StartSpec(platform.TaskSpec{Name: "tcp-conn " + id, Restart: platform.RestartTemporary}, func(ctx context.Context) error {
			return s.read(ctx, id, conn)
		})
		if err != nil {
			s.drop(id, conn)
		}
	}
}

func (s *TCPServer) read(ctx context.Context, id string, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer s.drop(id, conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), s.opts.MaxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		frame := make([]byte, 0, len(line)+1)
		frame = append(frame, line...)
		s.inbox.Push(append(frame, '\n'))
	}
	return scanner.Err()
}

func (s *TCPServer) drop(id string, conn net.Conn) {
	_ = conn.Close()
	s.mu.Lock()
	if current, ok := s.conns[id]; ok && current == conn {
		delete(s.conns, id)
		s.log.Info("agent disconnected", "peer", id)
	}
	s.mu.Unlock()
}

func (s *TCPServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Send writes payload to every connected agent. Agents whose write fails are
// disconnected.
func (s *TCPServer) Send(payload []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	peers := make(map[string]net.Conn, len(s.conns))
	for id, conn := range s.conns {
		peers[id] = conn
	}
	s.mu.Unlock()

	var errs []error
	for id, conn := range peers {
		if err := conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err == nil {
			_, err = conn.Write(payload)
			if err == nil {
				continue
			}
			errs = append(errs, fmt.Errorf("write %s: %w", id, err))
		}
		s.drop(id, conn)
	}
	return errors.Join(errs...)
}

func (s *TCPServer) Poll() [][]byte {
	return s.inbox.Drain()
}

func (s *TCPServer) Stop(context.Context) error {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	conns := make([]net.Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *TCPServer) Close() error {
	return s.Stop(context.Background())
}

type TCPClientOptions struct {
	Addr         string
	Supervisor   *platform.Supervisor
	Logger       *slog.Logger
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// TCPClient is the agent side of the TCP transport. Reads are delivered raw,
// so frames may arrive split or joined. The connection is redialed with
// supervisor backoff after it drops.
type TCPClient struct {
	opts  TCPClientOptions
	sup   *platform.Supervisor
	log   *slog.Logger
	inbox Inbox

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func NewTCPClient(opts TCPClientOptions) (*TCPClient, error) {
	if opts.Addr == "" {
		return nil, errors.New("master address is required")
	}
	if opts.Supervisor == nil {
		return nil, errors.New("supervisor is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &TCPClient{
		opts: opts,
		sup:  opts.Supervisor,
		log:  opts.Logger.With("transport", "tcp-client"),
	}, nil
}

func (c *TCPClient) Name() string { return "tcp-client" }

func (c *TCPClient) Start(context.Context) error {
	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()
	return c.sup.StartSpec(platform.TaskSpec{Name: "tcp-client " + c.opts.Addr, Restart: platform.RestartTransient}, c.run)
}

func (c *TCPClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *TCPClient) run(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.opts.Addr)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()
	c.log.Info("connected", "master", c.opts.Addr)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.inbox.Push(buf[:n])
		}
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed || ctx.Err() != nil {
				return nil
			}
			c.log.Warn("connection lost", "err", err)
			return err
		}
	}
}

func (c *TCPClient) Send(payload []byte) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

func (c *TCPClient) Poll() [][]byte {
	return c.inbox.Drain()
}

func (c *TCPClient) Stop(context.Context) error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

func (c *TCPClient) Close() error {
	return c.Stop(context.Background())
}
