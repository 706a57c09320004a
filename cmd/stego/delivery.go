package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/faanross/simulacra_stego/internal/chunker"
	"github.com/faanross/simulacra_stego/internal/dnsclient"
	"github.com/faanross/simulacra_stego/internal/imageio"
	"github.com/faanross/simulacra_stego/internal/output"
	"github.com/faanross/simulacra_stego/internal/stego"
	"github.com/spf13/cobra"
)

// dnsFlags override the dns section of the config.
type dnsFlags struct {
	server    string
	domain    string
	uploadURL string
}

func (d *dnsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.server, "server", "", "DNS server host:port (overrides config)")
	cmd.Flags().StringVar(&d.domain, "domain", "", "served domain (overrides config)")
	cmd.Flags().StringVar(&d.uploadURL, "upload-url", "", "HTTP API base URL (overrides config)")
}

func (a *app) dnsClient(d *dnsFlags, progress func(done, total int)) *dnsclient.Client {
	opts := dnsclient.Options{
		Server:     a.cfg.DNS.Server,
		Domain:     a.cfg.DNS.Domain,
		UploadURL:  a.cfg.DNS.UploadURL,
		Timeout:    a.cfg.DNS.Timeout,
		MaxRetries: 3,
		RetryDelay: a.cfg.DNS.Timeout / 5,
		Logger:     a.logger,
		Progress:   progress,
	}
	if d.server != "" {
		opts.Server = d.server
	}
	if d.domain != "" {
		opts.Domain = d.domain
	}
	if d.uploadURL != "" {
		opts.UploadURL = d.uploadURL
	}
	return dnsclient.New(opts)
}

func (a *app) publishCmd() *cobra.Command {
	var (
		dns      dnsFlags
		file     string
		kind     string
		encoding string
		zone     bool
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Split a carrier into DNS TXT chunks and upload it",
		Example: `  stego publish -f cover_stego.png
  stego publish -f letter.txt --kind text --zone > letter.zone`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read carrier: %w", err)
			}
			k, err := carrierKind(kind, file)
			if err != nil {
				return err
			}

			chk := chunker.New(chunker.Config{Encoding: encoding, Logger: a.logger})
			msg, err := chk.Split(data, string(k))
			if err != nil {
				return fmt.Errorf("failed to chunk: %w", err)
			}

			if zone {
				domain := a.cfg.DNS.Domain
				if dns.domain != "" {
					domain = dns.domain
				}
				enc := chunker.NewDNSEncoder(domain)
				_, records := enc.Records(msg)
				a.printer.Zone(enc.ZoneFile(records))
				return nil
			}

			client := a.dnsClient(&dns, nil)
			resp, err := client.Upload(cmd.Context(), msg)
			if err != nil {
				return err
			}
			a.printer.Published(output.PublishResult{
				MessageID: resp.MessageID,
				Kind:      string(k),
				Bytes:     len(data),
				Chunks:    resp.Chunks,
				Server:    a.cfg.DNS.UploadURL,
			})
			return nil
		},
	}

	dns.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "carrier file to publish")
	cmd.Flags().StringVar(&kind, "kind", "", "carrier kind: image or text (default: from file extension)")
	cmd.Flags().StringVar(&encoding, "encoding", chunker.ENCODE_BASE32, "chunk encoding: base32 or hex")
	cmd.Flags().BoolVar(&zone, "zone", false, "print a BIND zone file instead of uploading")
	cmd.MarkFlagRequired("file")
	return cmd
}

// carrierKind uses the explicit kind, else guesses from the file name.
func carrierKind(kind, file string) (stego.Kind, error) {
	if kind != "" {
		return stego.ParseKind(kind)
	}
	switch strings.ToLower(filepath.Ext(file)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return stego.KindImage, nil
	}
	return stego.KindText, nil
}

func (a *app) fetchCmd() *cobra.Command {
	var (
		dns      dnsFlags
		pw       passwordFlags
		id       string
		poll     bool
		clientID string
		out      string
		noReveal bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Retrieve a carrier over DNS and reveal its message",
		Example: `  stego fetch --id 3f2a9c0d11e4b7a8 --prompt
  stego fetch --poll --client receiver1 -O received.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var bar *output.ProgressBar
			client := a.dnsClient(&dns, func(done, total int) {
				if bar == nil {
					bar = output.NewProgressBar(cmd.ErrOrStderr(), total)
				}
				bar.Update(done)
			})

			if poll {
				ids, err := client.Poll(ctx, clientID)
				if err != nil {
					return fmt.Errorf("poll failed: %w", err)
				}
				if len(ids) == 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), "📭 No new messages")
					return nil
				}
				a.logger.Info("new messages", "ids", ids)
				id = ids[0]
			}

			data, manifest, err := client.Fetch(ctx, id)
			if bar != nil {
				bar.Finish()
			}
			if err != nil {
				return fmt.Errorf("retrieval failed: %w", err)
			}

			if out != "" {
				if err := os.WriteFile(out, data, 0644); err != nil {
					return fmt.Errorf("failed to save: %w", err)
				}
				a.logger.Info("carrier saved", "path", out, "bytes", len(data))
			}

			if poll {
				if err := client.Ack(ctx, id, clientID); err != nil {
					a.logger.Warn("acknowledge failed", "id", id, "error", err)
				}
			}
			if noReveal {
				return nil
			}

			c, err := carrierFromBytes(manifest.Kind, data)
			if err != nil {
				return err
			}
			password, err := a.resolvePassword(&pw, false)
			if err != nil {
				return err
			}
			message, err := a.service.Reveal(c, password)
			if err != nil {
				return err
			}
			a.printer.Revealed(output.RevealResult{Kind: manifest.Kind, Source: id, Message: message})
			return nil
		},
	}

	dns.register(cmd)
	pw.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "message ID to retrieve")
	cmd.Flags().BoolVar(&poll, "poll", false, "fetch the oldest message not yet seen by --client")
	cmd.Flags().StringVar(&clientID, "client", "receiver1", "client ID for --poll")
	cmd.Flags().StringVarP(&out, "out", "O", "", "also save the carrier to this file")
	cmd.Flags().BoolVar(&noReveal, "no-reveal", false, "only retrieve the carrier")
	cmd.MarkFlagsMutuallyExclusive("id", "poll")
	cmd.MarkFlagsOneRequired("id", "poll")
	return cmd
}

// carrierFromBytes decodes fetched data as the kind named in the manifest.
func carrierFromBytes(kind string, data []byte) (stego.Carrier, error) {
	k, err := stego.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	if k == stego.KindText {
		return stego.NewTextCarrier(string(data)), nil
	}
	loaded, err := imageio.Load(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return loaded.Carrier, nil
}
