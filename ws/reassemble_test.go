package ws

import "testing"

func TestReassemblerHappyPath(t *testing.T) {
	var r reassembler
	if err := r.begin(OpcodeBinary, []byte("ab")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.continuation([]byte("cd")); err != nil {
		t.Fatalf("continuation: %v", err)
	}
	msg, err := r.finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if msg.Type != BinaryMessage || string(msg.Payload) != "abcd" {
		t.Fatalf("msg = %+v, want binary \"abcd\"", msg)
	}
	if r.active {
		t.Fatal("reassembler still active after finalize")
	}
}

func TestReassemblerRejectsDoubleBegin(t *testing.T) {
	var r reassembler
	if err := r.begin(OpcodeText, nil); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.begin(OpcodeText, nil); err == nil {
		t.Fatal("expected error starting a second message mid-fragmentation")
	}
}

func TestReassemblerRejectsContinuationWithoutBegin(t *testing.T) {
	var r reassembler
	if err := r.continuation([]byte("x")); err != ErrUnexpectedContinuation {
		t.Fatalf("expected ErrUnexpectedContinuation, got %v", err)
	}
}

func TestReassemblerEnforcesMaxSize(t *testing.T) {
	r := reassembler{maxSize: 4}
	if err := r.begin(OpcodeBinary, []byte("ab")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.continuation([]byte("cd")); err != nil {
		t.Fatalf("continuation within limit: %v", err)
	}
	if err := r.continuation([]byte("e")); err == nil {
		t.Fatal("expected ErrMessageTooLarge once maxSize is exceeded")
	}
}

func TestReassemblerTextValidatesUTF8AcrossFragments(t *testing.T) {
	var r reassembler
	// A valid 2-byte UTF-8 sequence (U+00E9, "é") split across two frames:
	// reassembly must validate the complete payload, not each fragment.
	if err := r.begin(OpcodeText, []byte{0xC3}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.continuation([]byte{0xA9}); err != nil {
		t.Fatalf("continuation: %v", err)
	}
	msg, err := r.finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if msg.Plaintext != "é" {
		t.Fatalf("plaintext = %q, want é", msg.Plaintext)
	}
}

func TestReassemblerRejectsInvalidUTF8(t *testing.T) {
	var r reassembler
	if err := r.begin(OpcodeText, []byte{0xFF, 0xFE}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := r.finalize(); err != ErrInvalidUTF8 {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestFinalizeSingleRejectsControlOpcode(t *testing.T) {
	if _, err := finalizeSingle(OpcodePing, nil); err == nil {
		t.Fatal("expected error finalizing a control opcode as a message")
	}
}
