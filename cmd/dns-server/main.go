package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faanross/simulacra_stego/internal/config"
	"github.com/faanross/simulacra_stego/internal/dnsserver"
	"github.com/miekg/dns"
	flag "github.com/spf13/pflag"
)

type options struct {
	domain   string
	addr     string
	httpAddr string
	dataFile string
	zoneFile string
	clean    time.Duration
	ttl      time.Duration
	logLevel string
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("dns-server", flag.ContinueOnError)
	fs.StringVarP(&o.domain, "domain", "d", "covert.example.com", "domain to serve")
	fs.StringVarP(&o.addr, "addr", "a", ":5353", "DNS listen address (UDP)")
	fs.StringVar(&o.httpAddr, "http", ":8080", "HTTP upload API listen address")
	fs.StringVar(&o.dataFile, "data-file", "", "persist messages to this JSON file (default: in-memory)")
	fs.StringVar(&o.zoneFile, "zone", "", "zone file to load at startup")
	fs.DurationVar(&o.clean, "clean", time.Hour, "cleanup interval for old messages")
	fs.DurationVar(&o.ttl, "ttl", 24*time.Hour, "age after which messages expire")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.clean <= 0 || o.ttl <= 0 {
		return nil, errors.New("--clean and --ttl must be positive")
	}
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func openStorage(o *options, logger *slog.Logger) (dnsserver.Storage, error) {
	if o.dataFile == "" {
		logger.Info("using in-memory storage")
		return dnsserver.NewMemoryStorage(), nil
	}
	logger.Info("using persistent storage", "file", o.dataFile)
	return dnsserver.NewFileStorage(o.dataFile)
}

func run(ctx context.Context, o *options) error {
	level, err := config.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	storage, err := openStorage(o, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	server := dnsserver.New(o.domain, storage, logger)

	if o.zoneFile != "" {
		content, err := os.ReadFile(o.zoneFile)
		if err != nil {
			return fmt.Errorf("failed to read zone file: %w", err)
		}
		id, err := server.LoadZone(string(content))
		if err != nil {
			return fmt.Errorf("failed to load zone file: %w", err)
		}
		fmt.Printf("✅ Loaded message %s from zone file\n", id)
	}

	go server.CleanLoop(ctx, o.clean, o.ttl)

	api := &http.Server{Addr: o.httpAddr, Handler: server.HTTPHandler()}
	dnsSrv := &dns.Server{Addr: o.addr, Net: "udp", Handler: server}

	errc := make(chan error, 2)
	go func() {
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("HTTP API: %w", err)
		}
	}()
	go func() {
		if err := dnsSrv.ListenAndServe(); err != nil {
			errc <- fmt.Errorf("DNS server: %w", err)
		}
	}()

	fmt.Printf("\n🌐 DNS server starting on %s\n", o.addr)
	fmt.Printf("📍 Domain: %s\n", o.domain)
	fmt.Printf("📡 HTTP API: %s\n", o.httpAddr)
	if o.dataFile != "" {
		fmt.Printf("💾 Storage: persistent (%s)\n", o.dataFile)
	} else {
		fmt.Println("💾 Storage: in-memory")
	}
	fmt.Printf("🧹 Cleanup: every %v, expiry after %v\n", o.clean, o.ttl)
	printStats(os.Stdout, storage)
	fmt.Println("\n✅ Server ready!")

	select {
	case <-ctx.Done():
		fmt.Println("\n🛑 Shutting down...")
	case err = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	api.Shutdown(shutdownCtx)
	dnsSrv.ShutdownContext(shutdownCtx)

	printStats(os.Stdout, storage)
	if fs, ok := storage.(*dnsserver.FileStorage); ok {
		if serr := fs.Save(); serr != nil {
			logger.Error("failed to save state", "error", serr)
		} else {
			fmt.Println("💾 State saved to disk")
		}
	}
	return err
}

func printStats(w io.Writer, storage dnsserver.Storage) {
	stats := storage.GetStats()
	fmt.Fprintf(w, "\n📊 Storage Statistics:\n")
	fmt.Fprintf(w, "   Total messages: %d\n", stats.TotalMessages)
	fmt.Fprintf(w, "   New (undelivered): %d\n", stats.NewMessages)
	fmt.Fprintf(w, "   Delivered: %d\n", stats.Delivered)
	fmt.Fprintf(w, "   Consumed: %d\n", stats.Consumed)
	fmt.Fprintf(w, "   Expired: %d\n", stats.Expired)
	fmt.Fprintf(w, "   Total chunks: %d\n", stats.TotalChunks)

	messages, _ := storage.ListMessages()
	if len(messages) > 0 {
		fmt.Fprintln(w, "\n📬 Stored Messages:")
		for _, m := range messages {
			fmt.Fprintf(w, "   %s: %d chunks, status=%s\n", m.ID, m.TotalChunks, m.State)
		}
	}
}
