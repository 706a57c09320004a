package channel

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/faanross/simulacra_stego/internal/frame"
)

func TestEmbedBit(t *testing.T) {
	tests := []struct {
		in   uint8
		bit  bool
		want uint8
	}{
		{0x00, true, 0x01},
		{0x01, true, 0x01},
		{0xFF, false, 0xFE},
		{0xFE, false, 0xFE},
		{0x80, true, 0x81},
	}
	for _, tt := range tests {
		if got := EmbedBit(tt.in, tt.bit); got != tt.want {
			t.Errorf("EmbedBit(%#x, %v) = %#x, want %#x", tt.in, tt.bit, got, tt.want)
		}
	}
}

func pixels(n int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, n*4)
}

func TestPixelEmbedTouchesBlueOnly(t *testing.T) {
	pix := pixels(16, 0x55)
	bits := frame.Bits([]byte{0xA5, 0x3C})

	var p Pixel
	if err := p.Embed(pix, bits); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	for i := 0; i < len(pix); i += 4 {
		if pix[i] != 0x55 || pix[i+1] != 0x55 || pix[i+3] != 0x55 {
			t.Fatalf("pixel %d: non-blue sample changed: %v", i/4, pix[i:i+4])
		}
		if d := int(pix[i+2]) - 0x55; d < -1 || d > 1 {
			t.Fatalf("pixel %d: blue moved by %d", i/4, d)
		}
	}

	got := make([]bool, 0, len(bits))
	for bit := range p.Extract(pix) {
		got = append(got, bit)
	}
	if len(got) != 16 {
		t.Fatalf("extracted %d bits, want 16", len(got))
	}
	if !bytes.Equal(frame.Bytes(got), []byte{0xA5, 0x3C}) {
		t.Errorf("extracted %x, want a53c", frame.Bytes(got))
	}
}

func TestPixelCapacityBoundary(t *testing.T) {
	var p Pixel
	pix := pixels(24, 0x10)

	if got := p.Capacity(pix); got != 24 {
		t.Fatalf("Capacity = %d, want 24", got)
	}
	if err := p.Embed(pix, make([]bool, 24)); err != nil {
		t.Errorf("exact fit: %v", err)
	}

	before := append([]byte(nil), pix...)
	over := make([]bool, 25)
	for i := range over {
		over[i] = true
	}
	err := p.Embed(pix, over)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("one bit over: err = %v, want ErrCapacityExceeded", err)
	}
	if !bytes.Equal(pix, before) {
		t.Error("buffer modified by a failed embed")
	}
}

func TestPixelExtractStopsEarly(t *testing.T) {
	var p Pixel
	n := 0
	for range p.Extract(pixels(100, 0)) {
		n++
		if n == 10 {
			break
		}
	}
	if n != 10 {
		t.Errorf("pulled %d bits", n)
	}
}

func TestTextEmbedAppendsSuffix(t *testing.T) {
	var tc Text
	cover := "The quick brown fox."
	bits := frame.Frame([]byte("hi"))

	out := tc.Embed(cover, bits)
	if !strings.HasPrefix(out, cover) {
		t.Fatal("cover text not preserved as prefix")
	}
	if got := tc.Count(out); got != len(bits) {
		t.Errorf("Count = %d, want %d", got, len(bits))
	}
	if got := tc.Strip(out); got != cover {
		t.Errorf("Strip = %q, want %q", got, cover)
	}
}

func TestTextExtractIgnoresInsertedContent(t *testing.T) {
	var tc Text
	out := tc.Embed("cover", frame.Frame([]byte("secret")))

	// Interleave visible edits between every marker rune.
	var sb strings.Builder
	for _, r := range out {
		sb.WriteRune(r)
		sb.WriteString("x ")
	}
	edited := "prefix " + sb.String() + " suffix"

	got, ok := frame.Unframe(tc.Extract(edited))
	if !ok || got != "secret" {
		t.Errorf("Unframe = (%q, %v), want (%q, true)", got, ok, "secret")
	}
}

func TestTextExtractNoMarkers(t *testing.T) {
	var tc Text
	n := 0
	for range tc.Extract("plain text with no markers") {
		n++
	}
	if n != 0 {
		t.Errorf("extracted %d bits from plain text", n)
	}
}
