package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/faanross/simulacra_stego/internal/dnsserver"
	"github.com/faanross/simulacra_stego/internal/imageio"
	"github.com/faanross/simulacra_stego/internal/stego"
	"github.com/miekg/dns"
)

// testConfig writes a config with a cheap KDF and returns its path.
func testConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "kdf_iterations: 1000\nage_work_factor: 10\nlog_level: error\n" + extra
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

type result struct {
	stdout, stderr string
	err            error
}

// run executes the CLI with args and the given stdin.
func run(t *testing.T, cfg, stdin string, args ...string) result {
	t.Helper()
	a := &app{readPassword: func(string, int) ([]byte, error) {
		return []byte("prompted-password"), nil
	}}
	root := newRoot(a)

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--config", cfg))
	err := root.Execute()
	return result{out.String(), errOut.String(), err}
}

func writeCoverImage(t *testing.T, w, h int) string {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	path := filepath.Join(t.TempDir(), "cover.png")
	if err := imageio.SaveFile(path, imageio.ToCarrier(img)); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHideRevealImage(t *testing.T) {
	cfg := testConfig(t, "")
	cover := writeCoverImage(t, 64, 64)

	r := run(t, cfg, "", "hide", "-i", cover, "-m", "meet at dawn", "-p", "correct horse")
	if r.err != nil {
		t.Fatalf("hide: %v\n%s", r.err, r.stderr)
	}
	outPath := strings.TrimSuffix(cover, ".png") + "_stego.png"
	if !strings.Contains(r.stdout, outPath) {
		t.Errorf("hide output missing path: %s", r.stdout)
	}

	r = run(t, cfg, "", "reveal", "-i", outPath, "-p", "correct horse", "-o", "json")
	if r.err != nil {
		t.Fatalf("reveal: %v", r.err)
	}
	var got struct{ Message string }
	if err := json.Unmarshal([]byte(r.stdout), &got); err != nil || got.Message != "meet at dawn" {
		t.Errorf("reveal output = %q (%v)", r.stdout, err)
	}

	r = run(t, cfg, "", "reveal", "-i", outPath, "-p", "wrong horse")
	if !errors.Is(r.err, stego.ErrDecryptionFailed) {
		t.Errorf("wrong password: err = %v", r.err)
	}

	r = run(t, cfg, "", "reveal", "-i", cover)
	if !errors.Is(r.err, stego.ErrNoHiddenMessage) {
		t.Errorf("clean cover: err = %v", r.err)
	}
}

func TestHideRevealTextViaStdio(t *testing.T) {
	cfg := testConfig(t, "cipher: age\n")

	r := run(t, cfg, "Dear Bob, nothing unusual here.", "hide", "-t", "-", "-m", "the eagle has landed", "--prompt")
	if r.err != nil {
		t.Fatalf("hide: %v", r.err)
	}
	if !strings.HasPrefix(r.stdout, "Dear Bob, nothing unusual here.") {
		t.Fatalf("stego text = %q", r.stdout)
	}

	r2 := run(t, cfg, r.stdout, "reveal", "-t", "-", "--prompt")
	if r2.err != nil {
		t.Fatalf("reveal: %v", r2.err)
	}
	if !strings.Contains(r2.stdout, "the eagle has landed") {
		t.Errorf("reveal output = %q", r2.stdout)
	}

	r3 := run(t, cfg, r.stdout, "strip")
	if r3.err != nil || r3.stdout != "Dear Bob, nothing unusual here." {
		t.Errorf("strip = (%q, %v)", r3.stdout, r3.err)
	}
}

func TestHideTextToFile(t *testing.T) {
	cfg := testConfig(t, "")
	dir := t.TempDir()
	in := filepath.Join(dir, "letter.txt")
	out := filepath.Join(dir, "letter_out.txt")
	secret := filepath.Join(dir, "secret.txt")
	os.WriteFile(in, []byte("Plain cover text."), 0644)
	os.WriteFile(secret, []byte("from a file"), 0644)

	r := run(t, cfg, "", "hide", "-t", in, "--message-file", secret, "-O", out)
	if r.err != nil {
		t.Fatalf("hide: %v", r.err)
	}
	if !strings.Contains(r.stdout, "unbounded") {
		t.Errorf("report = %q", r.stdout)
	}

	r = run(t, cfg, "", "reveal", "-t", out)
	if r.err != nil || !strings.Contains(r.stdout, "from a file") {
		t.Errorf("reveal = (%q, %v)", r.stdout, r.err)
	}
}

func TestCapacityAndAnalyze(t *testing.T) {
	cfg := testConfig(t, "")
	cover := writeCoverImage(t, 8, 8)

	r := run(t, cfg, "", "capacity", "-i", cover, "-m", "abcdef", "-o", "json")
	if r.err != nil {
		t.Fatal(r.err)
	}
	var report struct {
		CapacityBits int  `json:"capacity_bits"`
		MaxPayload   int  `json:"max_payload_bytes"`
		Fits         bool `json:"fits"`
	}
	if err := json.Unmarshal([]byte(r.stdout), &report); err != nil {
		t.Fatal(err)
	}
	if report.CapacityBits != 64 || report.MaxPayload != 5 || report.Fits {
		t.Errorf("report = %+v", report)
	}

	r = run(t, cfg, "", "hide", "-i", cover, "-m", "abcdef")
	if !errors.Is(r.err, stego.ErrCapacityExceeded) {
		t.Errorf("oversized hide: err = %v", r.err)
	}

	r = run(t, cfg, "", "analyze", "-i", cover)
	if r.err != nil || !strings.Contains(r.stdout, "Security Analysis") {
		t.Errorf("analyze = (%q, %v)", r.stdout, r.err)
	}
}

func TestFlagValidation(t *testing.T) {
	cfg := testConfig(t, "")
	tests := [][]string{
		{"hide", "-m", "x"},                               // no carrier
		{"hide", "-i", "a.png", "-t", "b.txt", "-m", "x"}, // both carriers
		{"hide", "-t", "-"},                               // no message
		{"reveal", "-t", "-", "-p", "x", "--prompt"},      // both password sources
		{"reveal", "-t", "-", "--cipher", "rot13"},        // bad cipher
		{"reveal", "-t", "-", "-o", "xml"},                // bad format
	}
	for _, args := range tests {
		if r := run(t, cfg, "cover", args...); r.err == nil {
			t.Errorf("%v: expected an error", args)
		}
	}
}

func TestPublishZone(t *testing.T) {
	cfg := testConfig(t, "dns:\n  domain: stego.test\n")
	path := filepath.Join(t.TempDir(), "note.txt")
	os.WriteFile(path, bytes.Repeat([]byte("carrier "), 50), 0644)

	r := run(t, cfg, "", "publish", "-f", path, "--zone")
	if r.err != nil {
		t.Fatal(r.err)
	}
	if !strings.Contains(r.stdout, ".data.stego.test. 300 IN TXT") || !strings.Contains(r.stdout, ":text\"") {
		t.Errorf("zone = %s", r.stdout)
	}
}

func TestPublishFetchOverDNS(t *testing.T) {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := dnsserver.New("covert.example.com", dnsserver.NewMemoryStorage(), discard)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	started := make(chan struct{})
	dnsSrv := &dns.Server{PacketConn: pc, Handler: srv, NotifyStartedFunc: func() { close(started) }}
	go dnsSrv.ActivateAndServe()
	<-started
	defer dnsSrv.Shutdown()
	api := httptest.NewServer(srv.HTTPHandler())
	defer api.Close()

	cfg := testConfig(t, "dns:\n  server: "+pc.LocalAddr().String()+"\n  upload_url: "+api.URL+"\n  timeout: 2s\n")
	cover := writeCoverImage(t, 48, 48)

	if r := run(t, cfg, "", "hide", "-i", cover, "-m", "over the wire", "-p", "pw"); r.err != nil {
		t.Fatal(r.err)
	}
	stegoPath := strings.TrimSuffix(cover, ".png") + "_stego.png"

	r := run(t, cfg, "", "publish", "-f", stegoPath, "-o", "json")
	if r.err != nil {
		t.Fatalf("publish: %v", r.err)
	}
	var pub struct {
		MessageID string `json:"message_id"`
		Kind      string `json:"kind"`
	}
	if err := json.Unmarshal([]byte(r.stdout), &pub); err != nil || pub.Kind != "image" {
		t.Fatalf("publish output = %q (%v)", r.stdout, err)
	}

	saved := filepath.Join(t.TempDir(), "received.png")
	r = run(t, cfg, "", "fetch", "--id", pub.MessageID, "-p", "pw", "-O", saved)
	if r.err != nil {
		t.Fatalf("fetch: %v", r.err)
	}
	if !strings.Contains(r.stdout, "over the wire") {
		t.Errorf("fetch output = %q", r.stdout)
	}
	if _, err := os.Stat(saved); err != nil {
		t.Errorf("carrier not saved: %v", err)
	}

	// The manifest fetch above delivered the message, so polling sees nothing.
	r = run(t, cfg, "", "fetch", "--poll", "--client", "late")
	if r.err != nil || !strings.Contains(r.stderr, "No new messages") {
		t.Errorf("poll = (%q, %v)", r.stderr, r.err)
	}
}
