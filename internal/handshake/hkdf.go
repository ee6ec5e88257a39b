package handshake

import (
	"crypto"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfExpandLabel implements the TLS 1.3 / QUIC HKDF-Expand-Label function,
// RFC 8446 Section 7.1. This is how secrets, keys, IVs and header
// protection keys are all derived from a base secret.
func hkdfExpandLabel(hash crypto.Hash, secret, context []byte, label string, length int) []byte {
	fullLabel := "tls13 " + label
	b := make([]byte, 3, 3+len(fullLabel)+1+len(context))
	binary.BigEndian.PutUint16(b, uint16(length))
	b[2] = uint8(len(fullLabel))
	b = append(b, []byte(fullLabel)...)
	b = append(b, uint8(len(context)))
	b = append(b, context...)

	out := make([]byte, length)
	n, err := io.ReadFull(hkdf.Expand(hash.New, secret, b), out)
	if err != nil || n != length {
		panic("quic: HKDF-Expand-Label invocation failed unexpectedly")
	}
	return out
}

func hkdfExtract(hash crypto.Hash, secret, salt []byte) []byte {
	return hkdf.Extract(hash.New, secret, salt)
}
