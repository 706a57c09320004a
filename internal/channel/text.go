package channel

import (
	"iter"
	"strings"

	"github.com/faanross/simulacra_stego/internal/spec"
)

// Text hides bits as zero-width runes appended to a cover text.
//
// Extraction filters markers wherever they occur, so the cover text may be
// edited around the suffix as long as no marker is removed or added.
// Cover text that already contains a marker rune corrupts the result; this
// is not detected.
type Text struct{}

// Embed returns carrier followed by one marker rune per bit.
func (Text) Embed(carrier string, bits []bool) string {
	var sb strings.Builder
	sb.Grow(len(carrier) + len(bits)*3)
	sb.WriteString(carrier)
	for _, bit := range bits {
		if bit {
			sb.WriteRune(spec.ONE_BIT)
		} else {
			sb.WriteRune(spec.ZERO_BIT)
		}
	}
	return sb.String()
}

// Extract yields a bit for every marker rune in carrier, in order.
func (Text) Extract(carrier string) iter.Seq[bool] {
	return func(yield func(bool) bool) {
		for _, r := range carrier {
			switch r {
			case spec.ZERO_BIT:
				if !yield(false) {
					return
				}
			case spec.ONE_BIT:
				if !yield(true) {
					return
				}
			}
		}
	}
}

// Count returns the number of marker runes in carrier.
func (Text) Count(carrier string) int {
	return strings.Count(carrier, string(spec.ZERO_BIT)) + strings.Count(carrier, string(spec.ONE_BIT))
}

// Strip removes every marker rune, leaving the visible cover text.
func (Text) Strip(carrier string) string {
	return strings.Map(func(r rune) rune {
		if r == spec.ZERO_BIT || r == spec.ONE_BIT {
			return -1
		}
		return r
	}, carrier)
}
