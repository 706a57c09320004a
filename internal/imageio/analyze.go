package imageio

import (
	"math"

	"github.com/faanross/simulacra_stego/internal/frame"
	"github.com/faanross/simulacra_stego/internal/stego"
)

// Analysis summarises the blue-channel LSB plane of a carrier.
type Analysis struct {
	Width, Height int
	CapacityBits  int
	Zeros, Ones   int     // LSB counts over the sampled pixels
	Entropy       float64 // Shannon entropy of the LSB plane packed into bytes (max 8.0)
	RedAvg        int
	GreenAvg      int
	BlueAvg       int
	// Terminated is true when the LSB stream holds an EOT-terminated
	// payload; PayloadBytes is its length.
	Terminated   bool
	PayloadBytes int
}

// ZeroRatio is the percentage of sampled LSBs equal to 0.
func (a Analysis) ZeroRatio() float64 {
	total := a.Zeros + a.Ones
	if total == 0 {
		return 0
	}
	return float64(a.Zeros) / float64(total) * 100
}

// LooksRandom reports a near even LSB split, typical of encrypted payloads
// or noise.
func (a Analysis) LooksRandom() bool {
	r := a.ZeroRatio()
	return r > 45 && r < 55
}

// sampleSize bounds the pixels used for distribution statistics.
const sampleSize = 10000

// Analyze performs LSB analysis on the carrier
func Analyze(c *stego.ImageCarrier) Analysis {
	a := Analysis{
		Width:        c.Width,
		Height:       c.Height,
		CapacityBits: c.Capacity(),
	}

	// LSB distribution and channel averages over the first pixels
	frequency := make(map[byte]int)
	var (
		bitBuffer        byte
		bitCount         int
		rSum, gSum, bSum int64
	)
	pixels := min(len(c.Pix)/4, sampleSize)
	for p := 0; p < pixels; p++ {
		i := p * 4
		rSum += int64(c.Pix[i])
		gSum += int64(c.Pix[i+1])
		bSum += int64(c.Pix[i+2])

		bit := c.Pix[i+2] & 1
		if bit == 0 {
			a.Zeros++
		} else {
			a.Ones++
		}

		bitBuffer = bitBuffer<<1 | bit
		bitCount++
		if bitCount == 8 {
			frequency[bitBuffer]++
			bitBuffer, bitCount = 0, 0
		}
	}

	if pixels > 0 {
		a.RedAvg = int(rSum / int64(pixels))
		a.GreenAvg = int(gSum / int64(pixels))
		a.BlueAvg = int(bSum / int64(pixels))
	}

	// Calculate entropy
	total := 0
	for _, count := range frequency {
		total += count
	}
	for _, count := range frequency {
		p := float64(count) / float64(total)
		if p > 0 {
			a.Entropy -= p * math.Log2(p)
		}
	}

	payload, terminated := frame.Unframe(c.Extract())
	a.Terminated = terminated
	if terminated {
		a.PayloadBytes = len(payload)
	}

	return a
}
