// Package output renders command results for the terminal, or as JSON or
// YAML for scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/faanross/simulacra_stego/internal/imageio"
	"github.com/faanross/simulacra_stego/internal/stego"
	"gopkg.in/yaml.v3"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	messageStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("57")).
			Padding(0, 1)
)

// Format selects how results are written.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text (or empty), json and yaml.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
}

// Printer writes results to w.
type Printer struct {
	w      io.Writer
	format Format
}

// New creates a Printer.
func New(w io.Writer, format Format) *Printer {
	return &Printer{w: w, format: format}
}

// structured writes v as JSON or YAML and reports whether it did.
func (p *Printer) structured(v any) bool {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		enc.Encode(v)
		return true
	case FormatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		enc.Encode(v)
		enc.Close()
		return true
	}
	return false
}

func (p *Printer) title(s string) {
	fmt.Fprintf(p.w, "\n%s\n", titleStyle.Render(s))
}

func (p *Printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, "   "+format+"\n", args...)
}

// HideResult describes a completed hide.
type HideResult struct {
	Kind      string `json:"kind" yaml:"kind"`
	Output    string `json:"output" yaml:"output"`
	Encrypted bool   `json:"encrypted" yaml:"encrypted"`
	Cipher    string `json:"cipher,omitempty" yaml:"cipher,omitempty"`
	Message   int    `json:"message_bytes" yaml:"message_bytes"`
	Capacity  int    `json:"capacity_bits" yaml:"capacity_bits"`
	Required  int    `json:"required_bits" yaml:"required_bits"`
}

// Hidden reports a successful hide.
func (p *Printer) Hidden(r HideResult) {
	if p.structured(r) {
		return
	}
	p.title("📊 Steganography Parameters:")
	p.line("Carrier: %s", r.Kind)
	p.line("Message size: %d bytes", r.Message)
	p.line("Bits needed: %d", r.Required)
	if r.Capacity >= 0 {
		p.line("Total capacity: %d bits", r.Capacity)
		p.line("Utilization: %.1f%%", float64(r.Required)/float64(r.Capacity)*100)
	} else {
		p.line("Total capacity: unbounded")
	}
	if r.Encrypted {
		p.line("Encryption: %s", r.Cipher)
	} else {
		p.line("Encryption: %s", dimStyle.Render("none"))
	}
	fmt.Fprintf(p.w, "\n%s\n", okStyle.Render("✅ Message hidden → "+r.Output))
}

// RevealResult describes a recovered message.
type RevealResult struct {
	Kind    string `json:"kind" yaml:"kind"`
	Source  string `json:"source" yaml:"source"`
	Message string `json:"message" yaml:"message"`
}

// Revealed prints a recovered message.
func (p *Printer) Revealed(r RevealResult) {
	if p.structured(r) {
		return
	}
	p.title("🔓 Hidden message:")
	fmt.Fprintln(p.w, messageStyle.Render(r.Message))
}

// Capacity prints a capacity report.
func (p *Printer) Capacity(r stego.CapacityReport) {
	if p.structured(struct {
		Kind         string `json:"kind" yaml:"kind"`
		CapacityBits int    `json:"capacity_bits" yaml:"capacity_bits"`
		MaxPayload   int    `json:"max_payload_bytes" yaml:"max_payload_bytes"`
		RequiredBits int    `json:"required_bits" yaml:"required_bits"`
		Fits         bool   `json:"fits" yaml:"fits"`
	}{string(r.Kind), r.CapacityBits, r.MaxPayloadBytes(), r.RequiredBits, r.Fits}) {
		return
	}

	p.title("📏 Capacity:")
	if r.CapacityBits < 0 {
		p.line("Carrier: %s (unbounded)", r.Kind)
	} else {
		p.line("Carrier: %s, %d bits", r.Kind, r.CapacityBits)
		p.line("Largest payload: %d bytes", r.MaxPayloadBytes())
	}
	if r.RequiredBits > 0 {
		p.line("Message needs: %d bits", r.RequiredBits)
		if r.Fits {
			p.line("%s", okStyle.Render("✅ Message fits"))
		} else {
			p.line("%s", errorStyle.Render("❌ Message too large for this image"))
		}
	}
}

// Analysis prints an LSB analysis of an image carrier.
func (p *Printer) Analysis(a imageio.Analysis) {
	if p.structured(a) {
		return
	}

	p.title("🔒 Security Analysis:")
	p.line("Image dimensions: %dx%d", a.Width, a.Height)
	p.line("Total capacity: %d bits", a.CapacityBits)
	p.line("LSB Entropy: %.4f bits (max: 8.0)", a.Entropy)
	p.line("LSB Distribution (sample):")
	p.line("  0s: %.1f%%", a.ZeroRatio())
	p.line("  1s: %.1f%%", 100-a.ZeroRatio())
	if a.LooksRandom() {
		p.line("🔐 Appears to contain encrypted/random data")
	} else {
		p.line("📸 Appears to be a natural image")
	}

	p.line("")
	p.line("Color Channel Analysis:")
	p.line("  Red avg: %d", a.RedAvg)
	p.line("  Green avg: %d", a.GreenAvg)
	p.line("  Blue avg: %d", a.BlueAvg)

	if a.Terminated {
		p.line("%s", warnStyle.Render(fmt.Sprintf("⚠️  Terminated payload found (%d bytes)", a.PayloadBytes)))
	} else {
		p.line("%s", dimStyle.Render("No terminated payload in the blue LSB plane"))
	}
}

// PublishResult describes an upload.
type PublishResult struct {
	MessageID string `json:"message_id" yaml:"message_id"`
	Kind      string `json:"kind" yaml:"kind"`
	Bytes     int    `json:"bytes" yaml:"bytes"`
	Chunks    int    `json:"chunks" yaml:"chunks"`
	Server    string `json:"server" yaml:"server"`
}

// Published reports an uploaded carrier.
func (p *Printer) Published(r PublishResult) {
	if p.structured(r) {
		return
	}
	p.title("📤 Upload successful!")
	p.line("Message ID: %s", r.MessageID)
	p.line("Carrier: %s, %d bytes", r.Kind, r.Bytes)
	p.line("Chunks uploaded: %d", r.Chunks)
	fmt.Fprintf(p.w, "\nReceiver should query for message: %s\n", r.MessageID)
}

// Zone prints zone file text as-is.
func (p *Printer) Zone(zone string) {
	fmt.Fprint(p.w, zone)
}

// Error prints a user-facing description of err.
func (p *Printer) Error(err error) {
	fmt.Fprintln(p.w, errorStyle.Render("❌ "+stego.Describe(err)))
}

// ProgressBar draws a single-line progress bar.
type ProgressBar struct {
	w     io.Writer
	total int
}

// NewProgressBar creates a bar for total steps.
func NewProgressBar(w io.Writer, total int) *ProgressBar {
	return &ProgressBar{w: w, total: total}
}

// Update redraws the bar at current.
func (pb *ProgressBar) Update(current int) {
	if pb.total <= 0 {
		return
	}
	percent := float64(current) / float64(pb.total) * 100
	barWidth := 30
	filled := min(int(float64(barWidth)*percent/100), barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	fmt.Fprintf(pb.w, "\r   [%s] %d/%d (%.1f%%)", bar, current, pb.total, percent)
}

// Finish ends the bar line.
func (pb *ProgressBar) Finish() {
	fmt.Fprintln(pb.w)
}
