// Package ws implements a server-side WebSocket endpoint per RFC 6455.
//
// It accepts plain TCP connections, performs the HTTP/1.1 Upgrade handshake
// by parsing the request directly off the raw byte stream (no net/http
// request parser sits on the hot path), and then carries a bidirectional
// stream of framed messages between the network and application-level
// event handlers registered on a Server.
//
// The package is organized leaf-first:
//
//   - mask.go: the 4-byte XOR masking primitive
//   - frame.go: frame encode/decode (RFC 6455 Section 5)
//   - reassemble.go: continuation-frame reassembly into logical messages
//   - handshake.go: the raw-byte-stream Upgrade negotiator
//   - conn.go: a single accepted peer and its send/receive paths
//   - receive.go: the per-connection receive loop
//   - registry.go: the server-wide client registry
//   - server.go: the listening socket, accept loop, and event sinks
//
// Compression extensions (permessage-deflate), TLS termination, HTTP/2,
// the obsolete Hixie drafts, and outbound client mode are not implemented.
package ws
