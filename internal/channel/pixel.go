// Package channel implements the two carrier channels: one bit per pixel in
// the blue sample's least significant bit, and zero-width marker runes
// appended to text.
package channel

import (
	"errors"
	"fmt"
	"iter"

	"github.com/faanross/simulacra_stego/internal/spec"
)

// ErrCapacityExceeded is returned when a bit sequence does not fit the
// carrier. The carrier is left untouched.
var ErrCapacityExceeded = errors.New("message too large for this image")

// Pixel embeds into interleaved RGBA samples. Only the blue sample's LSB
// of each pixel is written; R, G and A are never touched.
type Pixel struct{}

// EmbedBit modifies the LSB of a color value to store a bit
func EmbedBit(colorValue uint8, bit bool) uint8 {
	if bit {
		// Set LSB to 1: use bitwise OR with 1
		return colorValue | 1
	}
	// Set LSB to 0: use bitwise AND with 254 (11111110)
	return colorValue & 0xFE
}

// Capacity is the number of bits pix can carry: one per pixel.
func (Pixel) Capacity(pix []byte) int {
	return len(pix) / spec.BYTES_PER_PX
}

// Embed writes bits into pix starting at pixel 0. The capacity check
// happens before any sample is modified.
func (p Pixel) Embed(pix []byte, bits []bool) error {
	if capacity := p.Capacity(pix); len(bits) > capacity {
		return fmt.Errorf("%w: need %d bits, have %d", ErrCapacityExceeded, len(bits), capacity)
	}

	bitIndex := 0
	for i := 0; i+spec.BYTES_PER_PX <= len(pix) && bitIndex < len(bits); i += spec.BYTES_PER_PX {
		pix[i+spec.BLUE_OFFSET] = EmbedBit(pix[i+spec.BLUE_OFFSET], bits[bitIndex])
		bitIndex++
	}
	return nil
}

// Extract yields the blue LSB of every pixel, in order, on demand.
func (Pixel) Extract(pix []byte) iter.Seq[bool] {
	return func(yield func(bool) bool) {
		for i := 0; i+spec.BYTES_PER_PX <= len(pix); i += spec.BYTES_PER_PX {
			if !yield(pix[i+spec.BLUE_OFFSET]&1 == 1) {
				return
			}
		}
	}
}
