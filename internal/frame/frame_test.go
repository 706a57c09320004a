package frame

import (
	"bytes"
	"iter"
	"testing"
)

func TestBitsMSBFirst(t *testing.T) {
	bits := Bits([]byte{0x80, 0x01})
	want := []bool{
		true, false, false, false, false, false, false, false,
		false, false, false, false, false, false, false, true,
	}
	if len(bits) != len(want) {
		t.Fatalf("len = %d, want %d", len(bits), len(want))
	}
	for i := range want {
		if bits[i] != want[i] {
			t.Errorf("bit %d = %v, want %v", i, bits[i], want[i])
		}
	}
}

func TestBytesDropsPartialGroup(t *testing.T) {
	bits := append(Bits([]byte("hi")), true, true, false)
	if got := Bytes(bits); !bytes.Equal(got, []byte("hi")) {
		t.Errorf("Bytes = %q, want %q", got, "hi")
	}
}

func TestFrameAppendsTerminator(t *testing.T) {
	bits := Frame([]byte("abc"))
	if len(bits) != Len(3) || len(bits)%8 != 0 {
		t.Fatalf("len = %d, want %d", len(bits), Len(3))
	}
	if got := Bytes(bits); string(got) != "abcEOT" {
		t.Errorf("framed bytes = %q, want %q", got, "abcEOT")
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	if got := Bytes(Frame(nil)); string(got) != "EOT" {
		t.Errorf("framed bytes = %q, want %q", got, "EOT")
	}
}

func TestUnframe(t *testing.T) {
	tests := []struct {
		name           string
		bits           []bool
		want           string
		wantTerminated bool
	}{
		{"simple", Frame([]byte("Hello world!")), "Hello world!", true},
		{"empty payload", Frame(nil), "", true},
		{"utf8 payload", Frame([]byte("héllo ✓")), "héllo ✓", true},
		{"no terminator", Bits([]byte("Hello")), "Hello", false},
		{"empty source", nil, "", false},
		{"trailing garbage", append(Frame([]byte("ok")), Bits([]byte("junk"))...), "ok", true},
		{"first terminator wins", append(Frame([]byte("one")), Frame([]byte("two"))...), "one", true},
		{"partial byte", append(Bits([]byte("ab")), true, false), "ab", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, terminated := Unframe(Slice(tt.bits))
			if got != tt.want || terminated != tt.wantTerminated {
				t.Errorf("Unframe = (%q, %v), want (%q, %v)",
					got, terminated, tt.want, tt.wantTerminated)
			}
		})
	}
}

// counting wraps a bit source and records how many bits were pulled.
func counting(bits []bool, pulled *int) iter.Seq[bool] {
	return func(yield func(bool) bool) {
		for _, b := range bits {
			*pulled++
			if !yield(b) {
				return
			}
		}
	}
}

func TestUnframeStopsAtTerminator(t *testing.T) {
	framed := Frame([]byte("stop here"))
	bits := append(framed, Bits(bytes.Repeat([]byte{0xAA}, 1000))...)

	pulled := 0
	got, ok := Unframe(counting(bits, &pulled))
	if !ok || got != "stop here" {
		t.Fatalf("Unframe = (%q, %v)", got, ok)
	}
	if pulled != len(framed) {
		t.Errorf("pulled %d bits, want exactly %d", pulled, len(framed))
	}
}

func TestUnframeTerminatorInsidePayload(t *testing.T) {
	// The terminator is not escaped, so a payload containing it is cut short.
	got, ok := Unframe(Slice(Frame([]byte("beforeEOTafter"))))
	if !ok || got != "before" {
		t.Errorf("Unframe = (%q, %v), want (%q, true)", got, ok, "before")
	}
}
