package ws

import "encoding/binary"

// CloseCode is a WebSocket close status code (RFC 6455 Section 7.4).
type CloseCode uint16

const (
	// CloseNormalClosure indicates the purpose for which the connection
	// was established has been fulfilled.
	CloseNormalClosure CloseCode = 1000

	// CloseGoingAway indicates an endpoint is going away, e.g. a server
	// shutting down or a browser navigating away.
	CloseGoingAway CloseCode = 1001

	// CloseProtocolError indicates termination due to a protocol error.
	CloseProtocolError CloseCode = 1002

	// CloseUnacceptableDataType indicates an endpoint received a data
	// type it cannot accept.
	CloseUnacceptableDataType CloseCode = 1003

	// CloseNoStatusReceived is observed-only: no status code was present
	// in the close frame. Must never be sent on the wire.
	CloseNoStatusReceived CloseCode = 1005

	// CloseAbnormal is observed-only: the connection dropped without a
	// close frame. Must never be sent on the wire.
	CloseAbnormal CloseCode = 1006

	// CloseInconsistentDataType indicates a message contained data
	// inconsistent with its type (e.g. invalid UTF-8 in a text message).
	CloseInconsistentDataType CloseCode = 1007

	// ClosePolicyViolation is a generic status code for a message that
	// violates an endpoint's policy.
	ClosePolicyViolation CloseCode = 1008

	// CloseMessageSizeExceeded indicates a message too large to process.
	CloseMessageSizeExceeded CloseCode = 1009

	// CloseExtensionNegotiationFailed indicates the client expected one
	// or more extensions to be negotiated, but the server did not.
	CloseExtensionNegotiationFailed CloseCode = 1010

	// CloseUnexpectedCondition indicates the server encountered an
	// unexpected condition that prevented it from fulfilling the request.
	CloseUnexpectedCondition CloseCode = 1011

	// CloseTLSHandshakeFailed is observed-only: reserved for use when a
	// TLS handshake could not be completed. Must never be sent.
	CloseTLSHandshakeFailed CloseCode = 1015
)

// String returns a short human-readable label for the close code, falling
// back to "unknown" for anything not defined or reserved by RFC 6455.
func (c CloseCode) String() string {
	switch c {
	case CloseNormalClosure:
		return "normal closure"
	case CloseGoingAway:
		return "going away"
	case CloseProtocolError:
		return "protocol error"
	case CloseUnacceptableDataType:
		return "unacceptable data type"
	case CloseNoStatusReceived:
		return "no status received"
	case CloseAbnormal:
		return "abnormal closure"
	case CloseInconsistentDataType:
		return "inconsistent data type"
	case ClosePolicyViolation:
		return "policy violation"
	case CloseMessageSizeExceeded:
		return "message size exceeded"
	case CloseExtensionNegotiationFailed:
		return "extension negotiation failed"
	case CloseUnexpectedCondition:
		return "unexpected condition"
	case CloseTLSHandshakeFailed:
		return "TLS handshake failed"
	default:
		return "unknown"
	}
}

// encodeClosePayload builds a close frame payload from a status code and
// an optional UTF-8 reason: 2 bytes big-endian code, followed by the raw
// reason bytes. The distilled source this package was rewritten from never
// assembled this payload from its Close type's fields at all; per the
// design notes, this implementation does so explicitly (see DESIGN.md).
func encodeClosePayload(code CloseCode, reason string) []byte {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], reason)
	return payload
}

// decodeClosePayload parses a received close frame payload into its status
// code and reason. An empty payload yields CloseNoStatusReceived and an
// empty reason, per RFC 6455 Section 7.1.5.
func decodeClosePayload(payload []byte) (CloseCode, string) {
	if len(payload) < 2 {
		return CloseNoStatusReceived, ""
	}
	code := CloseCode(binary.BigEndian.Uint16(payload[:2]))
	return code, string(payload[2:])
}
