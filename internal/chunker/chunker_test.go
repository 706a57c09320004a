package chunker

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"slices"
	"strings"
	"testing"
)

func newTestChunker(encoding string) *Chunker {
	return New(Config{
		Encoding: encoding,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func randomData(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func TestSplitReassemble(t *testing.T) {
	for _, encoding := range []string{ENCODE_BASE32, ENCODE_HEX} {
		for _, size := range []int{1, 97, 128, 129, 1000, 5000} {
			c := newTestChunker(encoding)
			data := randomData(size)

			msg, err := c.Split(data, "image")
			if err != nil {
				t.Fatalf("%s/%d: Split: %v", encoding, size, err)
			}

			want := (size + c.PayloadSize() - 1) / c.PayloadSize()
			if len(msg.Chunks) != want {
				t.Errorf("%s/%d: %d chunks, want %d", encoding, size, len(msg.Chunks), want)
			}
			for _, chunk := range msg.Chunks {
				if len(chunk.Encoded) > SAFE_CHUNK_SIZE {
					t.Fatalf("%s/%d: encoded chunk is %d chars", encoding, size, len(chunk.Encoded))
				}
			}

			// Round trip through the encoded text in reverse order.
			var decoded []Chunk
			for _, chunk := range slices.Backward(msg.Chunks) {
				d, err := c.Decode(chunk.Encoded)
				if err != nil {
					t.Fatalf("%s/%d: Decode: %v", encoding, size, err)
				}
				decoded = append(decoded, *d)
			}

			got, err := c.Reassemble(decoded)
			if err != nil {
				t.Fatalf("%s/%d: Reassemble: %v", encoding, size, err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("%s/%d: data mismatch", encoding, size)
			}
			if err := msg.Manifest().Verify(got); err != nil {
				t.Errorf("%s/%d: Verify: %v", encoding, size, err)
			}
		}
	}
}

func TestDecodeOtherEncoding(t *testing.T) {
	msg, err := newTestChunker(ENCODE_HEX).Split([]byte("hex encoded carrier"), "text")
	if err != nil {
		t.Fatal(err)
	}
	chunk, err := newTestChunker(ENCODE_BASE32).Decode(msg.Chunks[0].Encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(chunk.Payload) != "hex encoded carrier" {
		t.Errorf("payload = %q", chunk.Payload)
	}
}

func TestReassembleFailures(t *testing.T) {
	c := newTestChunker(ENCODE_BASE32)
	msg, err := c.Split(randomData(600), "image")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Reassemble(nil); !errors.Is(err, ErrNoChunks) {
		t.Errorf("nil: err = %v", err)
	}

	missing := slices.Delete(slices.Clone(msg.Chunks), 1, 2)
	_, err = c.Reassemble(missing)
	if !errors.Is(err, ErrIncomplete) || !strings.Contains(err.Error(), "[1]") {
		t.Errorf("missing: err = %v", err)
	}

	corrupt := slices.Clone(msg.Chunks)
	corrupt[2].Payload = slices.Clone(corrupt[2].Payload)
	corrupt[2].Payload[0] ^= 0xFF
	if _, err := c.Reassemble(corrupt); !errors.Is(err, ErrChecksum) {
		t.Errorf("corrupt: err = %v", err)
	}

	other, err := c.Split(randomData(600), "image")
	if err != nil {
		t.Fatal(err)
	}
	mixed := append(slices.Clone(msg.Chunks[:2]), other.Chunks[2:]...)
	if _, err := c.Reassemble(mixed); err == nil || !strings.Contains(err.Error(), "mixed") {
		t.Errorf("mixed: err = %v", err)
	}

	// Duplicates from retried queries are tolerated.
	dup := append(slices.Clone(msg.Chunks), msg.Chunks[0])
	if got, err := c.Reassemble(dup); err != nil || !bytes.Equal(got, msg.Data) {
		t.Errorf("duplicates: err = %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := newTestChunker(ENCODE_BASE32)
	for _, in := range []string{"", "not base32 or hex!", "ABCDEFGH", "00112233"} {
		if _, err := c.Decode(in); !errors.Is(err, ErrInvalidChunk) {
			t.Errorf("Decode(%q) err = %v", in, err)
		}
	}
}

func TestSplitEmpty(t *testing.T) {
	if _, err := newTestChunker("").Split(nil, "text"); err == nil {
		t.Error("empty data chunked")
	}
}

func TestMessageIDsDiffer(t *testing.T) {
	c := newTestChunker("")
	a, _ := c.Split([]byte("same"), "text")
	b, _ := c.Split([]byte("same"), "text")
	if a.IDString() == b.IDString() {
		t.Error("identical message IDs for two publishes")
	}
	if len(a.IDString()) != 16 {
		t.Errorf("ID %q not 16 hex chars", a.IDString())
	}
}
