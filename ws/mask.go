package ws

// applyMask applies the WebSocket masking algorithm (RFC 6455 Section 5.3)
// to data in place:
//
//	transformed-octet-i = original-octet-i XOR masking-key-octet-(i mod 4)
//
// The transform is its own inverse: calling applyMask twice with the same
// key restores the original bytes. Callers that do not own data (e.g. a
// caller holding another reference to the slice) must copy before masking.
func applyMask(data []byte, key [4]byte) {
	for i := range data {
		data[i] ^= key[i%4]
	}
}
