// Package disco implements the wire framing of the peer discovery
// handshake: a fixed magic prefix, the sender's routing key, and a
// sealed payload that is opaque to this layer.
package disco

// Magic is the prefix every discovery datagram starts with. It is 6
// bytes on the wire.
const Magic = "nm\xf0\x9f\x9b\xb0"

// KeyLen is the length of the routing key that follows the magic.
const KeyLen = 32

const headerLen = len(Magic) + KeyLen

// Key is the routing key a discovery datagram carries for its sender.
type Key [KeyLen]byte

// LooksLike reports whether p begins with the discovery magic.
func LooksLike(p []byte) bool {
	return len(p) >= len(Magic) && string(p[:len(Magic)]) == Magic
}

// Parse extracts the sender key and the sealed payload from a discovery
// datagram. The returned payload aliases p, no bytes are copied. ok is
// false if p does not carry the discovery prefix or is truncated.
func Parse(p []byte) (key Key, payload []byte, ok bool) {
	if !LooksLike(p) || len(p) < headerLen {
		return key, nil, false
	}
	copy(key[:], p[len(Magic):headerLen])
	return key, p[headerLen:], true
}

// Encode frames key and sealed into a discovery datagram.
func Encode(key Key, sealed []byte) []byte {
	p := make([]byte, 0, headerLen+len(sealed))
	p = append(p, Magic...)
	p = append(p, key[:]...)
	p = append(p, sealed...)
	return p
}
