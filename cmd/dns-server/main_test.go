package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/faanross/simulacra_stego/internal/dnsserver"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-d", "stego.test", "--data-file", "state.json", "--ttl", "2h"})
	if err != nil {
		t.Fatal(err)
	}
	if o.domain != "stego.test" || o.dataFile != "state.json" || o.ttl != 2*time.Hour {
		t.Errorf("options = %+v", o)
	}
	if o.addr != ":5353" || o.httpAddr != ":8080" || o.clean != time.Hour {
		t.Errorf("defaults = %+v", o)
	}

	for _, args := range [][]string{{"--clean", "0s"}, {"--ttl", "-1h"}, {"--bogus"}} {
		if _, err := parseFlags(args); err == nil {
			t.Errorf("%v: expected an error", args)
		}
	}
}

func TestPrintStats(t *testing.T) {
	storage := dnsserver.NewMemoryStorage()
	queue := dnsserver.NewQueueManager(storage)
	if err := queue.PublishMessage("abcd", map[string]string{"c-0-abcd": "x"}, "1:00:text"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	printStats(&buf, storage)
	out := buf.String()
	if !strings.Contains(out, "Total messages: 1") || !strings.Contains(out, "abcd: 1 chunks, status=") {
		t.Errorf("stats = %q", out)
	}
}
