package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/faanross/simulacra_stego/internal/imageio"
	"github.com/faanross/simulacra_stego/internal/stego"
	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "json": FormatJSON, "yaml": FormatYAML} {
		if got, err := ParseFormat(in); err != nil || got != want {
			t.Errorf("ParseFormat(%q) = (%q, %v)", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("xml accepted")
	}
}

func TestRevealedText(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, FormatText).Revealed(RevealResult{Kind: "text", Message: "meet at dawn"})
	if !strings.Contains(buf.String(), "meet at dawn") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestStructuredFormats(t *testing.T) {
	r := PublishResult{MessageID: "abcd", Kind: "image", Bytes: 10, Chunks: 1}

	var jbuf bytes.Buffer
	New(&jbuf, FormatJSON).Published(r)
	var fromJSON PublishResult
	if err := json.Unmarshal(jbuf.Bytes(), &fromJSON); err != nil || fromJSON != r {
		t.Errorf("json = (%+v, %v)", fromJSON, err)
	}

	var ybuf bytes.Buffer
	New(&ybuf, FormatYAML).Published(r)
	var fromYAML PublishResult
	if err := yaml.Unmarshal(ybuf.Bytes(), &fromYAML); err != nil || fromYAML != r {
		t.Errorf("yaml = (%+v, %v)", fromYAML, err)
	}
}

func TestCapacityAndHidden(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, FormatText)

	p.Capacity(stego.CapacityReport{Kind: stego.KindImage, CapacityBits: 64, RequiredBits: 72})
	if !strings.Contains(buf.String(), "Largest payload: 5 bytes") || !strings.Contains(buf.String(), "too large") {
		t.Errorf("capacity output = %q", buf.String())
	}

	buf.Reset()
	p.Hidden(HideResult{Kind: "text", Output: "out.txt", Capacity: -1, Required: 80})
	if !strings.Contains(buf.String(), "unbounded") || !strings.Contains(buf.String(), "out.txt") {
		t.Errorf("hidden output = %q", buf.String())
	}
}

func TestAnalysisAndError(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, FormatText)

	p.Analysis(imageio.Analysis{Width: 2, Height: 2, CapacityBits: 4, Zeros: 2, Ones: 2, Terminated: true, PayloadBytes: 3})
	out := buf.String()
	if !strings.Contains(out, "2x2") || !strings.Contains(out, "encrypted/random") || !strings.Contains(out, "3 bytes") {
		t.Errorf("analysis output = %q", out)
	}

	buf.Reset()
	p.Error(stego.ErrNoHiddenMessage)
	if !strings.Contains(buf.String(), stego.Describe(stego.ErrNoHiddenMessage)) {
		t.Errorf("error output = %q", buf.String())
	}
	buf.Reset()
	p.Error(errors.New("disk on fire"))
	if !strings.Contains(buf.String(), "disk on fire") {
		t.Errorf("error output = %q", buf.String())
	}
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar(&buf, 4)
	pb.Update(2)
	pb.Finish()
	if !strings.Contains(buf.String(), "2/4 (50.0%)") {
		t.Errorf("bar = %q", buf.String())
	}
}
