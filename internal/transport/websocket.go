package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/platform"
)

const DefaultWebSocketPath = "/swarm"

type WSServerOptions struct {
	Addr         string
	Path         string
	Supervisor   *platform.Supervisor
	Logger       *slog.Logger
	WriteTimeout time.Duration
}

type wsSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSubscriber) write(data []byte, wait time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// WSServer is the master side of the websocket transport. Each agent message
// is pushed to the inbox as received.
type WSServer struct {
	opts     WSServerOptions
	sup      *platform.Supervisor
	log      *slog.Logger
	inbox    Inbox
	upgrader websocket.Upgrader

	mu     sync.Mutex
	srv    *http.Server
	ln     net.Listener
	subs   map[*wsSubscriber]struct{}
	closed bool
}

func NewWSServer(opts WSServerOptions) (*WSServer, error) {
	if opts.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	if opts.Supervisor == nil {
		return nil, errors.New("supervisor is required")
	}
	if opts.Path == "" {
		opts.Path = DefaultWebSocketPath
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &WSServer{
		opts: opts,
		sup:  opts.Supervisor,
		log:  opts.Logger.With("transport", "ws-server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[*wsSubscriber]struct{}),
	}, nil
}

func (s *WSServer) Name() string { return "ws-server" }

func (s *WSServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.Path, s.handle)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.mu.Lock()
	s.srv, s.ln, s.closed = srv, ln, false
	s.mu.Unlock()
	s.log.Info("listening", "addr", ln.Addr().String(), "path", s.opts.Path)

	return s.sup.StartSpec(platform.TaskSpec{Name: "ws-serve", Restart: platform.RestartTemporary}, func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
}

func (s *WSServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// URL is the websocket address agents dial.
func (s *WSServer) URL() string {
	return "ws://" + s.Addr() + s.opts.Path
}

func (s *WSServer) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *WSServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "peer", r.RemoteAddr, "err", err)
		return
	}
	sub := &wsSubscriber{conn: conn}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	s.log.Info("agent connected", "peer", r.RemoteAddr)
	defer s.drop(sub)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.inbox.Push(data)
	}
}

func (s *WSServer) drop(sub *wsSubscriber) {
	s.mu.Lock()
	_, ok := s.subs[sub]
	delete(s.subs, sub)
	s.mu.Unlock()
	if ok {
		_ = sub.conn.Close()
	}
}

func (s *WSServer) Send(payload []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	subs := make([]*wsSubscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.write(payload, s.opts.WriteTimeout); err != nil {
			errs = append(errs, err)
			s.drop(sub)
		}
	}
	return errors.Join(errs...)
}

func (s *WSServer) Poll() [][]byte {
	return s.inbox.Drain()
}

func (s *WSServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.srv
	subs := make([]*wsSubscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		s.drop(sub)
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *WSServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.Stop(ctx)
}

type WSClientOptions struct {
	URL          string
	Supervisor   *platform.Supervisor
	Logger       *slog.Logger
	WriteTimeout time.Duration
}

// WSClient is the agent side of the websocket transport. It redials with
// supervisor backoff.
type WSClient struct {
	opts  WSClientOptions
	sup   *platform.Supervisor
	log   *slog.Logger
	inbox Inbox

	mu     sync.Mutex
	sub    *wsSubscriber
	closed bool
}

func NewWSClient(opts WSClientOptions) (*WSClient, error) {
	if opts.URL == "" {
		return nil, errors.New("master url is required")
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
	return &WSClient{
		opts: opts,
		sup:  opts.Supervisor,
		log:  opts.Logger.With("transport", "ws-client"),
	}, nil
}

func (c *WSClient) Name() string { return "ws-client" }

func (c *WSClient) Start(context.Context) error {
	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()
	return c.sup.StartSpec(platform.TaskSpec{Name: "ws-client " + c.opts.URL, Restart: platform.RestartTransient}, c.run)
}

func (c *WSClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub != nil
}

func (c *WSClient) run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return err
	}
	sub := &wsSubscriber{conn: conn}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()
	c.log.Info("connected", "master", c.opts.URL)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() {
		c.mu.Lock()
		if c.sub == sub {
			c.sub = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
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
		c.inbox.Push(data)
	}
}

func (c *WSClient) Send(payload []byte) error {
	c.mu.Lock()
	sub, closed := c.sub, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if sub == nil {
		return ErrNotConnected
	}
	return sub.write(payload, c.opts.WriteTimeout)
}

func (c *WSClient) Poll() [][]byte {
	return c.inbox.Drain()
}

func (c *WSClient) Stop(context.Context) error {
	c.mu.Lock()
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.mu.Lock()
		_ = sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		sub.mu.Unlock()
		_ = sub.conn.Close()
	}
	return nil
}

func (c *WSClient) Close() error {
	return c.Stop(context.Background())
}
