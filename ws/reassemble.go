package ws

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// reassembler accumulates the fragments of a single logical message
// (RFC 6455 Section 5.4). It holds no I/O state; the receive loop feeds it
// frame payloads in order and asks it to finalize once FIN=1 arrives.
//
// Fragmentation rule enforced here: exactly one non-continuation data
// frame begins a message, zero or more Continuation frames with FIN=0
// follow, and exactly one frame (the first, or a later Continuation) has
// FIN=1. Control frames never reach the reassembler; the receive loop
// handles them inline and they may be interleaved between fragments
// without disturbing this state.
type reassembler struct {
	active  bool
	opcode  Opcode
	buf     bytes.Buffer
	maxSize int
}

// begin starts a new reassembly for a non-final data frame (FIN=0). opcode
// must be OpcodeText or OpcodeBinary; it is remembered so the eventual
// finalize call knows the message type.
func (r *reassembler) begin(opcode Opcode, payload []byte) error {
	if r.active {
		return fmt.Errorf("%w: data frame received mid-fragmentation", ErrUnexpectedDataFrame)
	}
	r.active = true
	r.opcode = opcode
	r.buf.Reset()
	return r.append(payload)
}

// append adds a continuation (or the first, still-open) frame's payload to
// the in-progress message, failing closed once maxSize is exceeded.
func (r *reassembler) append(payload []byte) error {
	if r.maxSize > 0 && r.buf.Len()+len(payload) > r.maxSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, r.buf.Len()+len(payload))
	}
	r.buf.Write(payload)
	return nil
}

// continuation feeds a Continuation frame (opcode 0x0) into an active
// reassembly. It is an error if no reassembly is active.
func (r *reassembler) continuation(payload []byte) error {
	if !r.active {
		return ErrUnexpectedContinuation
	}
	return r.append(payload)
}

// finalize completes the current reassembly (or a single unfragmented data
// frame, via finalizeSingle) and produces the application Message,
// validating UTF-8 for text messages on the complete payload as spec.md
// §4.5 requires.
func (r *reassembler) finalize() (Message, error) {
	opcode := r.opcode
	payload := make([]byte, r.buf.Len())
	copy(payload, r.buf.Bytes())
	r.active = false
	r.buf.Reset()
	return buildMessage(opcode, payload)
}

// finalizeSingle builds a Message directly from one unfragmented data
// frame (FIN=1, opcode != Continuation), bypassing the accumulation
// buffer entirely.
func finalizeSingle(opcode Opcode, payload []byte) (Message, error) {
	return buildMessage(opcode, payload)
}

func buildMessage(opcode Opcode, payload []byte) (Message, error) {
	var msgType MessageType
	switch opcode {
	case OpcodeText:
		msgType = TextMessage
	case OpcodeBinary:
		msgType = BinaryMessage
	default:
		return Message{}, fmt.Errorf("%w: reassembled message has non-data opcode 0x%X", ErrProtocolError, byte(opcode))
	}

	msg := Message{Type: msgType, Payload: payload}
	if msgType == TextMessage {
		if !utf8.Valid(payload) {
			return Message{}, ErrInvalidUTF8
		}
		msg.Plaintext = string(payload)
	}
	return msg, nil
}
