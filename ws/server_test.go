package ws

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

const testHandshakeRequest = "GET /chat?room=lobby HTTP/1.1\r\n" +
	"Host: example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"\r\n"

func startTestServer(t *testing.T) (*Server, net.Conn) {
	t.Helper()
	s := NewServer(DefaultConfig())
	s.OnMessage = func(c *Conn, msg Message) {
		_ = s.SendMessage(c, msg) // echo
	}
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return s, conn
}

func doHandshake(t *testing.T, conn net.Conn) {
	t.Helper()
	if _, err := conn.Write([]byte(testHandshakeRequest)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	r := bufio.NewReader(conn)
	var resp bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read handshake response: %v", err)
		}
		resp.WriteString(line)
		if line == "\r\n" {
			break
		}
	}
	if !bytes.Contains(resp.Bytes(), []byte("101 Switching Protocols")) {
		t.Fatalf("handshake response = %q", resp.String())
	}
}

func readServerFrame(t *testing.T, conn net.Conn) *frame {
	t.Helper()
	r := bufio.NewReader(conn)
	f, err := readServerWireFrame(r)
	if err != nil {
		t.Fatalf("read server frame: %v", err)
	}
	return f
}

// readServerWireFrame decodes an unmasked server->client frame directly off
// the wire, mirroring readFrame's layout but without requiring MASK=1 (the
// server never masks its own frames).
func readServerWireFrame(r *bufio.Reader) (*frame, error) {
	first, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	second, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	fin := first&0x80 != 0
	opcode := Opcode(first & 0x0F)
	length := int(second & 0x7F)

	switch length {
	case 126:
		b := make([]byte, 2)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		length = int(b[0])<<8 | int(b[1])
	case 127:
		b := make([]byte, 8)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		length = 0
		for _, v := range b {
			length = length<<8 | int(v)
		}
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return &frame{fin: fin, opcode: opcode, payload: payload}, nil
}

func TestIntegrationHandshakeAndTextEcho(t *testing.T) {
	_, conn := startTestServer(t)
	doHandshake(t, conn)

	key := [4]byte{0x37, 0xFA, 0x21, 0x3D}
	wire := maskedFrameBytes(OpcodeText, true, []byte("Hello"), key)
	if _, err := conn.Write(wire); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	f := readServerFrame(t, conn)
	if f.opcode != OpcodeText || !f.fin {
		t.Fatalf("echoed frame = %+v", f)
	}
	if string(f.payload) != "Hello" {
		t.Fatalf("echoed payload = %q, want Hello", f.payload)
	}
}

func TestIntegrationPingPong(t *testing.T) {
	_, conn := startTestServer(t)
	doHandshake(t, conn)

	key := [4]byte{1, 2, 3, 4}
	wire := maskedFrameBytes(OpcodePing, true, []byte("hi"), key)

	start := time.Now()
	if _, err := conn.Write(wire); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	f := readServerFrame(t, conn)
	elapsed := time.Since(start)

	if f.opcode != OpcodePong {
		t.Fatalf("opcode = %v, want Pong", f.opcode)
	}
	if string(f.payload) != "hi" {
		t.Fatalf("pong payload = %q, want hi", f.payload)
	}
	if elapsed > 100*time.Millisecond {
		t.Fatalf("pong took %v, want under 100ms", elapsed)
	}
}

func TestIntegrationFragmentedBinaryReassembly(t *testing.T) {
	_, conn := startTestServer(t)
	doHandshake(t, conn)

	key := [4]byte{9, 8, 7, 6}
	first := maskedFrameBytes(OpcodeBinary, false, []byte("fra"), key)
	second := maskedFrameBytes(OpcodeContinuation, false, []byte("gme"), key)
	third := maskedFrameBytes(OpcodeContinuation, true, []byte("nt"), key)

	for _, w := range [][]byte{first, second, third} {
		if _, err := conn.Write(w); err != nil {
			t.Fatalf("write fragment: %v", err)
		}
	}

	f := readServerFrame(t, conn)
	if f.opcode != OpcodeBinary || !f.fin {
		t.Fatalf("reassembled frame = %+v", f)
	}
	if string(f.payload) != "fragment" {
		t.Fatalf("reassembled payload = %q, want fragment", f.payload)
	}
}

func TestIntegrationCloseHandshake(t *testing.T) {
	_, conn := startTestServer(t)
	doHandshake(t, conn)

	key := [4]byte{1, 1, 1, 1}
	payload := encodeClosePayload(CloseGoingAway, "bye")
	wire := maskedFrameBytes(OpcodeClose, true, payload, key)
	if _, err := conn.Write(wire); err != nil {
		t.Fatalf("write close: %v", err)
	}

	f := readServerFrame(t, conn)
	if f.opcode != OpcodeClose {
		t.Fatalf("opcode = %v, want Close", f.opcode)
	}
	code, _ := decodeClosePayload(f.payload)
	if code != CloseGoingAway {
		t.Fatalf("echoed close code = %v, want CloseGoingAway", code)
	}
}

func TestServerStartAfterStopReturnsErrServerClosed(t *testing.T) {
	s := NewServer(DefaultConfig())
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Start("127.0.0.1:0"); err != ErrServerClosed {
		t.Fatalf("expected ErrServerClosed, got %v", err)
	}
}

func TestIntegrationUnmaskedFrameClosesWithProtocolError(t *testing.T) {
	_, conn := startTestServer(t)
	doHandshake(t, conn)

	// Unmasked client frame: MASK bit clear is a protocol violation.
	wire := []byte{0x81, 0x02, 'h', 'i'}
	if _, err := conn.Write(wire); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	f := readServerFrame(t, conn)
	if f.opcode != OpcodeClose {
		t.Fatalf("opcode = %v, want Close", f.opcode)
	}
	code, _ := decodeClosePayload(f.payload)
	if code != CloseProtocolError {
		t.Fatalf("close code = %v, want CloseProtocolError", code)
	}
}
