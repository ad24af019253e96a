package ws

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/lithammer/shortuuid/v4"
)

// connState is the Connection lifecycle (spec.md §3): a Conn is only ever
// constructed after a successful handshake, so it starts in stateOpen;
// the pre-handshake "handshaking" phase has no Conn value yet.
type connState int32

const (
	stateOpen connState = iota
	stateClosing
	stateClosed
)

// Conn is a single accepted WebSocket peer: its transport, the parsed
// query string and header map from the upgrade request, a creation
// timestamp, and the sequential send/receive paths (spec.md §3, §4.4).
type Conn struct {
	id        string
	transport net.Conn
	createdAt time.Time
	query     string
	headers   headers
	cfg       Config

	reader *bufio.Reader
	writer *bufio.Writer

	writeMu sync.Mutex
	st      atomic.Int32

	closeOnce sync.Once
	closeWait chan struct{} // closed once the peer's Close reply arrives, or on timeout

	reassembly reassembler
}

func newConn(transport net.Conn, query string, h headers, cfg Config) *Conn {
	return &Conn{
		id:        shortuuid.New(),
		transport: transport,
		createdAt: time.Now(),
		query:     query,
		headers:   h,
		cfg:       cfg,
		reader:    bufio.NewReaderSize(transport, cfg.ReadBufferSize),
		writer:    bufio.NewWriterSize(transport, cfg.ReadBufferSize),
		closeWait: make(chan struct{}),
		reassembly: reassembler{
			maxSize: cfg.MaxMessageSize,
		},
	}
}

// ID returns the connection's short, process-local identifier, assigned
// at handshake time and used to correlate log lines and registry entries.
// It is never sent on the wire.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the underlying transport's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.transport.RemoteAddr() }

// CreatedAt returns when the Conn was constructed, i.e. immediately after
// the 101 response was written.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// Query returns the query-string portion of the upgrade request's target
// (spec.md §4.3, e.g. "x=1" for a request line of "GET /chat?x=1 HTTP/1.1").
func (c *Conn) Query() string { return c.query }

// Header returns the value of a request header, case-insensitively.
func (c *Conn) Header(name string) (string, bool) {
	v, ok := c.headers.get(name)
	return string(v), ok
}

func (c *Conn) state() connState { return connState(c.st.Load()) }

func (c *Conn) setState(s connState) { c.st.Store(int32(s)) }

// sendFrame serializes and writes one frame, serialized against
// concurrent callers by writeMu. Server-originated frames are always
// unmasked (spec invariant).
func (c *Conn) sendFrame(opcode Opcode, payload []byte, fin bool) error {
	if c.state() == stateClosed {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	f := &frame{fin: fin, opcode: opcode, masked: false, payload: payload}
	if err := writeFrame(c.writer, f); err != nil {
		return err
	}
	return nil
}

// sendMessage wraps payload into one frame with FIN=1, unless
// cfg.WriteFragmentSize is set and the payload exceeds it, in which case
// it is split across multiple frames (spec.md §4.4.1). Fragmentation is
// otherwise not mandated by spec.md §4.4.
func (c *Conn) sendMessage(msgType MessageType, payload []byte) error {
	var opcode Opcode
	switch msgType {
	case TextMessage:
		opcode = OpcodeText
		if !utf8.Valid(payload) {
			return ErrInvalidUTF8
		}
	case BinaryMessage:
		opcode = OpcodeBinary
	default:
		return ErrProtocolError
	}

	size := c.cfg.WriteFragmentSize
	if size <= 0 || len(payload) <= size {
		return c.sendFrame(opcode, payload, true)
	}

	if c.state() == stateClosed {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for offset := 0; offset < len(payload); offset += size {
		end := offset + size
		if end > len(payload) {
			end = len(payload)
		}
		fin := end == len(payload)
		op := opcode
		if offset > 0 {
			op = OpcodeContinuation
		}
		f := &frame{fin: fin, opcode: op, masked: false, payload: payload[offset:end]}
		if err := writeFrame(c.writer, f); err != nil {
			return err
		}
	}
	return nil
}

// sendControl writes a control frame (Close, Ping, or Pong), rejecting
// payloads over 125 bytes per RFC 6455 Section 5.5.
func (c *Conn) sendControl(opcode Opcode, payload []byte) error {
	if len(payload) > maxControlPayload {
		return ErrControlTooLarge
	}
	return c.sendFrame(opcode, payload, true)
}

// WriteText sends a complete text message.
func (c *Conn) WriteText(text string) error {
	return c.sendMessage(TextMessage, []byte(text))
}

// WriteBinary sends a complete binary message.
func (c *Conn) WriteBinary(data []byte) error {
	return c.sendMessage(BinaryMessage, data)
}

// Ping sends a ping control frame. Peers should reply with a Pong
// carrying identical application data; the receive loop handles this
// automatically for the peer side of this connection.
func (c *Conn) Ping(data []byte) error {
	return c.sendControl(OpcodePing, data)
}

// close transitions the connection to closing, sends a Close frame, waits
// up to cfg.CloseTimeout for the peer's Close reply (signaled externally
// by the receive loop via closeWait), then releases the transport
// (spec.md §4.4).
func (c *Conn) close(code CloseCode, reason string) error {
	c.setState(stateClosing)

	err := c.sendControl(OpcodeClose, encodeClosePayload(code, reason))

	timeout := c.cfg.CloseTimeout
	if timeout <= 0 {
		timeout = defaultCloseTimeout
	}
	select {
	case <-c.closeWait:
	case <-time.After(timeout):
	}

	if disposeErr := c.dispose(); disposeErr != nil && err == nil {
		err = disposeErr
	}
	return err
}

// signalPeerClose unblocks any in-progress close() wait; called by the
// receive loop once the peer's own Close frame has been observed.
func (c *Conn) signalPeerClose() {
	c.closeOnce.Do(func() { close(c.closeWait) })
}

// dispose idempotently releases the underlying transport.
func (c *Conn) dispose() error {
	c.setState(stateClosed)
	c.signalPeerClose()
	return c.transport.Close()
}
