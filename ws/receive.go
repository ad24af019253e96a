package ws

import (
	"errors"
	"io"
	"net"
)

// receiveLoop is the per-connection task spec.md §4.5 describes: read a
// frame, dispatch control frames to the built-in handler, and surface
// data frames (or reassembled messages) to the application. It runs
// single-threaded for the lifetime of c; reads are never shared with any
// other goroutine.
func (s *Server) receiveLoop(c *Conn) {
	var cause error
	defer func() {
		s.clients.remove(c)
		if c.state() != stateClosed {
			_ = c.dispose()
		}
		s.safeOnDisconnect(c, cause)
	}()

	for {
		f, err := readFrame(c.reader, uint64(s.Config.MaxMessageSize))
		if err != nil {
			cause = s.handleReadError(c, err)
			return
		}

		if c.state() == stateClosing && !isControlFrame(f.opcode) {
			// spec.md §4.4: while closing, inbound data frames are
			// discarded; only control frames are processed.
			continue
		}

		switch f.opcode {
		case OpcodeClose:
			s.handleClose(c, f.payload)
			return

		case OpcodePing:
			if err := c.sendControl(OpcodePong, f.payload); err != nil {
				cause = err
				return
			}

		case OpcodePong:
			// No keep-alive policy in the core (spec.md §4.5): ignored.

		case OpcodeText, OpcodeBinary:
			if f.fin && !c.reassembly.active {
				msg, err := finalizeSingle(f.opcode, f.payload)
				if err != nil {
					cause = err
					abortClose(c, protocolCloseCode(err), err.Error())
					return
				}
				s.deliver(c, msg)
				continue
			}
			if err := c.reassembly.begin(f.opcode, f.payload); err != nil {
				cause = err
				abortClose(c, protocolCloseCode(err), err.Error())
				return
			}

		case OpcodeContinuation:
			if err := c.reassembly.continuation(f.payload); err != nil {
				cause = err
				abortClose(c, protocolCloseCode(err), err.Error())
				return
			}
			if f.fin {
				msg, err := c.reassembly.finalize()
				if err != nil {
					cause = err
					abortClose(c, protocolCloseCode(err), err.Error())
					return
				}
				s.deliver(c, msg)
			}
		}
	}
}

// handleClose replies to a received Close frame (echoing its status code,
// or CloseNormalClosure if none was present), then disposes the
// transport. If a close sequence was already in progress (this side
// called close() first), it only signals the waiter instead of sending a
// second Close frame.
func (s *Server) handleClose(c *Conn, payload []byte) {
	code, reason := decodeClosePayload(payload)
	if code == CloseNoStatusReceived {
		code = CloseNormalClosure
	}

	alreadyClosing := c.state() == stateClosing
	c.signalPeerClose()
	if !alreadyClosing {
		_ = c.sendControl(OpcodeClose, encodeClosePayload(code, reason))
	}
	_ = c.dispose()
}

// abortClose is used when the receive loop itself detects a protocol
// violation: there is no peer close-reply to wait for (the loop is about
// to return), so it sends Close best-effort and disposes immediately
// rather than going through Conn.close's bounded wait.
func abortClose(c *Conn, code CloseCode, reason string) {
	c.setState(stateClosing)
	_ = c.sendControl(OpcodeClose, encodeClosePayload(code, reason))
	_ = c.dispose()
}

// protocolCloseCode maps an internal error to the close status code
// spec.md §4.5/§7 says it should be surfaced with.
func protocolCloseCode(err error) CloseCode {
	switch {
	case errors.Is(err, ErrInvalidUTF8):
		return CloseInconsistentDataType
	case errors.Is(err, ErrMessageTooLarge), errors.Is(err, ErrFrameTooLarge):
		return CloseMessageSizeExceeded
	default:
		return CloseProtocolError
	}
}

// isTransportErr reports whether err represents an I/O failure (EOF, a
// net.Error, or the peer simply dropping the connection) rather than a
// protocol violation detected by the frame codec.
func isTransportErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// handleReadError classifies a readFrame failure: a TransportError closes
// the connection without attempting further writes (spec.md §7); a
// ProtocolError gets a best-effort Close frame with the matching status
// code before the transport is released.
func (s *Server) handleReadError(c *Conn, err error) error {
	if isTransportErr(err) {
		_ = c.dispose()
		return err
	}
	abortClose(c, protocolCloseCode(err), err.Error())
	return err
}
