// Package imageio moves images between files and the flat RGBA buffers the
// pixel channel works on.
//
// Buffers are non-premultiplied (image.NRGBA layout), the same samples a
// browser canvas exposes, so the blue LSB survives semi-transparent pixels.
// Output is always PNG: any lossy format would destroy the channel.
package imageio

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"

	"github.com/faanross/simulacra_stego/internal/stego"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Loaded is a decoded carrier plus the format it came from.
type Loaded struct {
	Carrier *stego.ImageCarrier
	Format  string
}

// Load decodes any registered raster format into an image carrier at
// native resolution.
func Load(r io.Reader) (*Loaded, error) {
	img, format, err := image.Decode(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return &Loaded{Carrier: ToCarrier(img), Format: format}, nil
}

// LoadFile opens and decodes path.
func LoadFile(path string) (*Loaded, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer file.Close()
	return Load(file)
}

// ToCarrier copies img into a tightly packed NRGBA buffer. NRGBA sources
// are copied row by row so no sample passes through premultiplication.
func ToCarrier(img image.Image) *stego.ImageCarrier {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))

	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < height; y++ {
			srcOff := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src.Pix[srcOff:srcOff+width*4])
		}
	} else {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				dst.SetNRGBA(x, y, c)
			}
		}
	}

	return stego.NewImageCarrier(dst.Pix, width, height)
}

// ToImage views a carrier as an image without copying.
func ToImage(c *stego.ImageCarrier) *image.NRGBA {
	return &image.NRGBA{
		Pix:    c.Pix,
		Stride: c.Width * 4,
		Rect:   image.Rect(0, 0, c.Width, c.Height),
	}
}

// Encode writes c as PNG.
func Encode(w io.Writer, c *stego.ImageCarrier) error {
	if c.Empty() {
		return stego.ErrInvalidCarrier
	}
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(w, ToImage(c)); err != nil {
		return fmt.Errorf("PNG encoding failed: %w", err)
	}
	return nil
}

// SaveFile writes c as PNG to path, replacing it atomically.
func SaveFile(path string, c *stego.ImageCarrier) error {
	tempFile := path + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("cannot create output file: %w", err)
	}

	if err := Encode(file, c); err != nil {
		file.Close()
		os.Remove(tempFile)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("closing output file: %w", err)
	}

	if err := os.Rename(tempFile, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
