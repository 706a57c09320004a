// Package frame converts payload bytes to and from the terminated bit
// sequence carried by every channel.
//
// Wire layout: payload bytes followed by the ASCII terminator "EOT", each
// byte expanded to 8 bits, most significant bit first. Nothing else: no
// length header, no checksum.
package frame

import (
	"bytes"
	"iter"

	"github.com/faanross/simulacra_stego/internal/spec"
)

// Bits expands bytes into bits, MSB first.
func Bits(data []byte) []bool {
	bits := make([]bool, len(data)*spec.BITS_PER_BYTE)
	for i, b := range data {
		for j := 0; j < 8; j++ {
			bits[i*8+j] = (b & (1 << (7 - j))) != 0
		}
	}
	return bits
}

// Bytes packs bits back into bytes. A trailing group shorter than 8 bits
// is dropped.
func Bytes(bits []bool) []byte {
	out := make([]byte, 0, len(bits)/spec.BITS_PER_BYTE)
	for i := 0; i+spec.BITS_PER_BYTE <= len(bits); i += spec.BITS_PER_BYTE {
		var b byte
		for j := 0; j < 8; j++ {
			if bits[i+j] {
				b |= 1 << (7 - j)
			}
		}
		out = append(out, b)
	}
	return out
}

// Frame appends the terminator to payload and returns the bit expansion.
// The result length is always a multiple of 8.
func Frame(payload []byte) []bool {
	framed := make([]byte, 0, len(payload)+len(spec.TERMINATOR))
	framed = append(framed, payload...)
	framed = append(framed, spec.TERMINATOR...)
	return Bits(framed)
}

// Len is the number of bits Frame produces for a payload of n bytes.
func Len(n int) int {
	return (n + len(spec.TERMINATOR)) * spec.BITS_PER_BYTE
}

// Unframe pulls bits from src eight at a time and stops at the first
// terminator. It returns the bytes before the terminator and true, or
// whatever was decoded and false when src runs dry first.
//
// Consumption stops exactly at the terminator: src is never asked for
// another bit once the trailing three bytes read "EOT".
func Unframe(src iter.Seq[bool]) (string, bool) {
	var (
		decoded []byte
		cur     byte
		n       int
	)
	term := []byte(spec.TERMINATOR)

	for bit := range src {
		cur <<= 1
		if bit {
			cur |= 1
		}
		n++
		if n < spec.BITS_PER_BYTE {
			continue
		}

		decoded = append(decoded, cur)
		cur, n = 0, 0

		if bytes.HasSuffix(decoded, term) {
			return string(decoded[:len(decoded)-len(term)]), true
		}
	}
	return string(decoded), false
}

// Slice adapts a materialised bit slice to a bit source.
func Slice(bits []bool) iter.Seq[bool] {
	return func(yield func(bool) bool) {
		for _, b := range bits {
			if !yield(b) {
				return
			}
		}
	}
}
