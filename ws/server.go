package ws

import (
	"fmt"
	"net"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Default tunables (spec.md §4.3, §4.5, §5).
const (
	defaultReadBufferSize         = 4096
	defaultMaxMessageSize         = 16 * 1024 * 1024 // 16 MiB
	defaultHandshakeTimeout       = 5 * time.Second
	defaultCloseTimeout           = 5 * time.Second
	defaultMaxHandshakeHeaderBytes = 2048
	defaultHandshakeReadChunk     = 1024
)

// Config tunes the Server and every Conn it creates. The zero value is
// not directly usable; NewServer fills unset fields via DefaultConfig.
type Config struct {
	// ReadBufferSize sizes each connection's buffered reader/writer.
	ReadBufferSize int

	// MaxMessageSize bounds a single reassembled application message
	// (spec.md §4.5: "a total-message size ceiling"). Exceeding it closes
	// the connection with code 1009.
	MaxMessageSize int

	// WriteFragmentSize, if positive, splits outbound messages larger
	// than this many bytes across multiple frames (spec.md §4.4.1).
	// Zero disables fragmentation on send.
	WriteFragmentSize int

	// HandshakeTimeout bounds the total time allowed to read and
	// validate the upgrade request.
	HandshakeTimeout time.Duration

	// CloseTimeout bounds how long Conn.close waits for the peer's Close
	// reply before releasing the transport unilaterally.
	CloseTimeout time.Duration

	// HandshakeWorkers bounds the number of handshakes negotiated
	// concurrently, so a slow or malicious client mid-handshake cannot
	// stall the accept loop (spec.md §4.3.1/§5). Zero uses
	// runtime.GOMAXPROCS(0) * 4.
	HandshakeWorkers int

	// MaxHandshakeHeaderBytes bounds the total bytes read while waiting
	// for the request headers to complete.
	MaxHandshakeHeaderBytes int

	// HandshakeReadChunk is the size of each individual read while
	// accumulating the handshake request.
	HandshakeReadChunk int
}

// DefaultConfig returns a Config with every field set to its documented
// default.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:          defaultReadBufferSize,
		MaxMessageSize:          defaultMaxMessageSize,
		HandshakeTimeout:        defaultHandshakeTimeout,
		CloseTimeout:            defaultCloseTimeout,
		HandshakeWorkers:        runtime.GOMAXPROCS(0) * 4,
		MaxHandshakeHeaderBytes: defaultMaxHandshakeHeaderBytes,
		HandshakeReadChunk:      defaultHandshakeReadChunk,
	}
}

// withDefaults fills any zero-valued field of cfg from DefaultConfig.
func (cfg Config) withDefaults() Config {
	d := DefaultConfig()
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = d.ReadBufferSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = d.MaxMessageSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = d.HandshakeTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = d.CloseTimeout
	}
	if cfg.HandshakeWorkers <= 0 {
		cfg.HandshakeWorkers = d.HandshakeWorkers
	}
	if cfg.MaxHandshakeHeaderBytes <= 0 {
		cfg.MaxHandshakeHeaderBytes = d.MaxHandshakeHeaderBytes
	}
	if cfg.HandshakeReadChunk <= 0 {
		cfg.HandshakeReadChunk = d.HandshakeReadChunk
	}
	return cfg
}

// Server owns the listening socket, the accept loop, the client
// registry, and the three application-visible event sinks (spec.md §3,
// §4.6, §6).
type Server struct {
	// Config tunes handshake and connection behavior. Read only after
	// NewServer returns it normalized; mutating it after Start is racy.
	Config Config

	// Log is the injected logging collaborator (spec.md §1/§9: the
	// logging facility is external to the core). The zero value logs
	// nothing.
	Log zerolog.Logger

	// OnConnect fires after the 101 response is fully written and the
	// connection is registered.
	OnConnect func(*Conn)

	// OnMessage fires once per complete application message.
	OnMessage func(*Conn, Message)

	// OnDisconnect fires exactly once per connection that reached
	// OnConnect. cause is nil for a clean, application-initiated close.
	OnDisconnect func(conn *Conn, cause error)

	mu        sync.Mutex
	listener  net.Listener
	listening bool
	stopped   bool
	clients   *registry
	sem       chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewServer constructs a Server with cfg's zero fields filled from
// DefaultConfig. Event sinks and Log may be set on the returned Server
// before calling Start.
func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		Config:  cfg,
		clients: newRegistry(),
		sem:     make(chan struct{}, cfg.HandshakeWorkers),
	}
}

// ClientCount returns the number of currently registered connections.
func (s *Server) ClientCount() int { return s.clients.count() }

// Start binds addr, begins listening, and spawns the accept loop. It
// returns once the listener is bound; Accept runs on its own goroutine.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrServerClosed
	}
	if s.listening {
		return ErrAlreadyListening
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ws: bind %s: %w", addr, err)
	}

	s.listener = ln
	s.listening = true
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.acceptLoop()

	s.Log.Info().Str("addr", ln.Addr().String()).Msg("websocket server listening")
	return nil
}

// Addr returns the bound listener's address, or nil if Start has not
// been called (or Stop has already run).
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop requests a graceful shutdown: the accept loop exits after its
// current Accept call returns, every registered connection is closed,
// and Stop does not return until all of that work has finished. After
// Stop returns, no further OnMessage is ever fired (spec.md §8, law 5).
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		return nil
	}
	s.listening = false
	s.stopped = true
	close(s.done)
	err := s.listener.Close()
	s.mu.Unlock()

	for _, c := range s.clients.snapshot() {
		_ = c.close(CloseGoingAway, "server shutting down")
	}

	s.wg.Wait()
	return err
}

// acceptLoop is the single dedicated accept task (spec.md §4.6, §5).
// Each accepted transport is handed to the bounded handshake worker pool
// so a slow handshake cannot stall subsequent Accept calls.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return // Stop() closed the listener; graceful exit.
			default:
				s.Log.Error().Err(err).Msg("accept failed")
				return
			}
		}

		s.sem <- struct{}{}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.handleAccepted(conn)
		}()
	}
}

// handleAccepted negotiates the handshake for one freshly accepted
// transport and, on success, registers the connection, fires OnConnect,
// and spawns its receive loop.
func (s *Server) handleAccepted(conn net.Conn) {
	c, err := negotiate(conn, s.Config)
	if err != nil {
		s.Log.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("handshake failed")
		_ = conn.Close()
		return
	}

	s.clients.add(c)
	s.Log.Info().Str("conn_id", c.id).Str("remote_addr", c.RemoteAddr().String()).Msg("client connected")
	s.safeOnConnect(c)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.receiveLoop(c)
	}()
}

// SendMessage sends msg on c, returning false instead of propagating an
// error (spec.md §6: "returns success/failure without throwing").
func (s *Server) SendMessage(c *Conn, msg Message) bool {
	if err := c.sendMessage(msg.Type, msg.Payload); err != nil {
		s.Log.Debug().Err(err).Str("conn_id", c.id).Msg("send failed")
		return false
	}
	return true
}

// Broadcast sends a message to every currently registered client,
// skipping (and logging) any connection whose write fails.
func (s *Server) Broadcast(msg Message) {
	for _, c := range s.clients.snapshot() {
		s.SendMessage(c, msg)
	}
}

// deliver invokes OnMessage on the receive task, recovering from a
// panicking handler (spec.md §7, ApplicationError) so one bad handler
// invocation cannot kill the connection's receive loop.
func (s *Server) deliver(c *Conn, msg Message) {
	if s.OnMessage == nil {
		return
	}
	defer s.recoverHandler(c, "OnMessage")
	s.OnMessage(c, msg)
}

func (s *Server) safeOnConnect(c *Conn) {
	if s.OnConnect == nil {
		return
	}
	defer s.recoverHandler(c, "OnConnect")
	s.OnConnect(c)
}

func (s *Server) safeOnDisconnect(c *Conn, cause error) {
	s.Log.Info().Str("conn_id", c.id).Err(cause).Msg("client disconnected")
	if s.OnDisconnect == nil {
		return
	}
	defer s.recoverHandler(c, "OnDisconnect")
	s.OnDisconnect(c, cause)
}

func (s *Server) recoverHandler(c *Conn, name string) {
	if r := recover(); r != nil {
		s.Log.Error().
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Str("conn_id", c.id).
			Str("handler", name).
			Msg("recovered from application handler panic")
	}
}
