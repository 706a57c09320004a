package stego

import (
	"fmt"
	"iter"
	"strings"

	"github.com/faanross/simulacra_stego/internal/channel"
	"github.com/faanross/simulacra_stego/internal/spec"
)

// Kind tags a carrier variant.
type Kind string

const (
	KindImage Kind = "image"
	KindText  Kind = "text"
)

// ParseKind validates a carrier kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindImage, KindText:
		return k, nil
	default:
		return "", fmt.Errorf("unknown carrier kind %q", s)
	}
}

// Carrier is the medium a message hides in. ImageCarrier and TextCarrier
// are the two variants; each routes to its channel codec.
type Carrier interface {
	Kind() Kind
	// Empty reports whether the carrier is unusable.
	Empty() bool
	// Capacity is the number of frame bits that fit, or -1 when unbounded.
	Capacity() int
	// Embed writes bits and returns the resulting carrier. It fails without
	// modifying anything when the bits do not fit.
	Embed(bits []bool) (Carrier, error)
	// Extract yields the carrier's hidden bit stream lazily.
	Extract() iter.Seq[bool]
	// HasMarkers reports whether the carrier holds any channel bits at all.
	HasMarkers() bool
}

// ImageCarrier is a flat RGBA buffer, row major, 4 bytes per pixel,
// non-premultiplied. Embed mutates Pix in place.
type ImageCarrier struct {
	Pix    []byte
	Width  int
	Height int
}

// NewImageCarrier wraps a pixel buffer.
func NewImageCarrier(pix []byte, width, height int) *ImageCarrier {
	return &ImageCarrier{Pix: pix, Width: width, Height: height}
}

func (c *ImageCarrier) Kind() Kind { return KindImage }

// Empty also rejects buffers whose length disagrees with the dimensions.
func (c *ImageCarrier) Empty() bool {
	if c == nil || len(c.Pix) == 0 || c.Width <= 0 || c.Height <= 0 {
		return true
	}
	return len(c.Pix) != c.Width*c.Height*spec.BYTES_PER_PX
}

func (c *ImageCarrier) Capacity() int {
	return channel.Pixel{}.Capacity(c.Pix)
}

func (c *ImageCarrier) Embed(bits []bool) (Carrier, error) {
	if err := (channel.Pixel{}).Embed(c.Pix, bits); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ImageCarrier) Extract() iter.Seq[bool] {
	return channel.Pixel{}.Extract(c.Pix)
}

// HasMarkers is always true for images: every pixel carries a bit.
func (c *ImageCarrier) HasMarkers() bool {
	return len(c.Pix) >= spec.BYTES_PER_PX
}

// TextCarrier is a Unicode document. Embed returns a new TextCarrier.
type TextCarrier struct {
	Text string
}

// NewTextCarrier wraps a cover text.
func NewTextCarrier(text string) TextCarrier {
	return TextCarrier{Text: text}
}

func (c TextCarrier) Kind() Kind { return KindText }

// Empty treats whitespace-only text as empty.
func (c TextCarrier) Empty() bool {
	return strings.TrimSpace(c.Text) == ""
}

func (c TextCarrier) Capacity() int { return -1 }

func (c TextCarrier) Embed(bits []bool) (Carrier, error) {
	return TextCarrier{Text: channel.Text{}.Embed(c.Text, bits)}, nil
}

func (c TextCarrier) Extract() iter.Seq[bool] {
	return channel.Text{}.Extract(c.Text)
}

func (c TextCarrier) HasMarkers() bool {
	return channel.Text{}.Count(c.Text) > 0
}

// Cover returns the text with every marker removed.
func (c TextCarrier) Cover() string {
	return channel.Text{}.Strip(c.Text)
}

func (c TextCarrier) String() string { return c.Text }
