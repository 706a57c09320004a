package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/faanross/simulacra_stego/internal/config"
	"github.com/faanross/simulacra_stego/internal/output"
	"github.com/faanross/simulacra_stego/internal/scrypto"
	"github.com/faanross/simulacra_stego/internal/spec"
	"github.com/faanross/simulacra_stego/internal/stego"
	"github.com/spf13/cobra"
)

// app is the state shared by all subcommands, set up in PersistentPreRunE.
type app struct {
	// global flags
	cfgFile      string
	outputFormat string
	logLevel     string
	cipher       string

	cfg     *config.Config
	logger  *slog.Logger
	printer *output.Printer
	service *stego.Service

	// readPassword prompts on the terminal; replaced in tests.
	readPassword func(prompt string, minLen int) ([]byte, error)
}

func newRootCmd() *cobra.Command {
	return newRoot(&app{readPassword: scrypto.GetSecurePassword})
}

func newRoot(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "stego",
		Short: "Hide text in images or plain text, and move carriers over DNS",
		Long: `stego hides a message in the blue-channel least significant bits of an
image, or as invisible zero-width characters appended to ordinary text.
Messages can be password protected. Carriers can be published to and
fetched from a DNS TXT server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ~/.simulacra/config.yaml)")
	flags.StringVarP(&a.outputFormat, "output", "o", "text", "output format: text, json, yaml")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.StringVar(&a.cipher, "cipher", "", "cipher for new messages: aes-gcm, age, openssl (overrides config)")

	root.AddCommand(
		a.hideCmd(),
		a.revealCmd(),
		a.capacityCmd(),
		a.analyzeCmd(),
		a.stripCmd(),
		a.publishCmd(),
		a.fetchCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	path := a.cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with flags
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.cipher != "" {
		cfg.Cipher = a.cipher
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	format, err := output.ParseFormat(a.outputFormat)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.printer = output.New(cmd.OutOrStdout(), format)
	a.service = stego.New(
		stego.WithLogger(a.logger),
		stego.WithSealer(scrypto.NewSealer(cfg.SealerOptions(a.logger))),
	)
	return nil
}

// passwordFlags registers --password and --prompt on cmd.
type passwordFlags struct {
	password string
	prompt   bool
}

func (p *passwordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&p.password, "password", "p", "", "password (empty disables encryption)")
	cmd.Flags().BoolVar(&p.prompt, "prompt", false, "read the password from the terminal without echo")
	cmd.MarkFlagsMutuallyExclusive("password", "prompt")
}

// resolvePassword returns the password from the flag or the terminal prompt.
// New passwords from the prompt must meet the minimum length.
func (a *app) resolvePassword(p *passwordFlags, forNewMessage bool) (string, error) {
	if !p.prompt {
		return p.password, nil
	}
	minLen := 0
	if forNewMessage {
		minLen = spec.MIN_PASSWORD_LEN
	}
	pw, err := a.readPassword("🔑 Enter password: ", minLen)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// carrierFlags selects an image or text carrier file.
type carrierFlags struct {
	image string
	text  string
}

func (c *carrierFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&c.image, "image", "i", "", "image carrier (PNG, JPEG, GIF, BMP, TIFF, WebP)")
	cmd.Flags().StringVarP(&c.text, "text", "t", "", "text carrier file, - for stdin")
	cmd.MarkFlagsMutuallyExclusive("image", "text")
	cmd.MarkFlagsOneRequired("image", "text")
}

func (c *carrierFlags) source() string {
	if c.image != "" {
		return c.image
	}
	return c.text
}

// readText reads path, or stdin for "-".
func readText(cmd *cobra.Command, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// defaultOutput derives "<name>_stego<ext>" from the input path.
func defaultOutput(in, ext string) string {
	return strings.TrimSuffix(in, filepath.Ext(in)) + "_stego" + ext
}
