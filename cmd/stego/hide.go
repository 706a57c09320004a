package main

import (
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/faanross/simulacra_stego/internal/frame"
	"github.com/faanross/simulacra_stego/internal/imageio"
	"github.com/faanross/simulacra_stego/internal/output"
	"github.com/faanross/simulacra_stego/internal/stego"
	"github.com/spf13/cobra"
)

func (a *app) hideCmd() *cobra.Command {
	var (
		carrier     carrierFlags
		pw          passwordFlags
		message     string
		messageFile string
		out         string
	)

	cmd := &cobra.Command{
		Use:   "hide",
		Short: "Hide a message in an image or text carrier",
		Example: `  stego hide -i cover.png -m "meet at dawn" --prompt
  stego hide -t letter.txt --message-file secret.txt -o letter_out.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if messageFile != "" {
				data, err := os.ReadFile(messageFile)
				if err != nil {
					return fmt.Errorf("reading message: %w", err)
				}
				if !utf8.Valid(data) {
					return fmt.Errorf("message file %s is not UTF-8 text", messageFile)
				}
				message = string(data)
			}

			password, err := a.resolvePassword(&pw, true)
			if err != nil {
				return err
			}

			if carrier.image != "" {
				return a.hideInImage(carrier.image, out, message, password)
			}
			return a.hideInText(cmd, carrier.text, out, message, password)
		},
	}

	carrier.register(cmd)
	pw.register(cmd)
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to hide")
	cmd.Flags().StringVar(&messageFile, "message-file", "", "read the message from a file")
	cmd.Flags().StringVarP(&out, "out", "O", "", "output file (image default: <name>_stego.png; text default: stdout)")
	cmd.MarkFlagsMutuallyExclusive("message", "message-file")
	cmd.MarkFlagsOneRequired("message", "message-file")
	return cmd
}

func (a *app) hideInImage(in, out, message, password string) error {
	loaded, err := imageio.LoadFile(in)
	if err != nil {
		return err
	}
	a.logger.Debug("image loaded", "path", in, "format", loaded.Format,
		"width", loaded.Carrier.Width, "height", loaded.Carrier.Height)

	if out == "" {
		out = defaultOutput(in, ".png")
	}

	result, err := a.service.Hide(loaded.Carrier, message, password)
	if err != nil {
		return err
	}
	if err := imageio.SaveFile(out, result.(*stego.ImageCarrier)); err != nil {
		return err
	}

	a.printer.Hidden(a.hideResult(loaded.Carrier, out, message, password))
	return nil
}

func (a *app) hideInText(cmd *cobra.Command, in, out, message, password string) error {
	text, err := readText(cmd, in)
	if err != nil {
		return err
	}

	result, err := a.service.Hide(stego.NewTextCarrier(text), message, password)
	if err != nil {
		return err
	}
	stegoText := result.(stego.TextCarrier).Text

	// Without --out the carrier itself is the command output.
	if out == "" {
		fmt.Fprint(cmd.OutOrStdout(), stegoText)
		return nil
	}
	if err := os.WriteFile(out, []byte(stegoText), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}

	a.printer.Hidden(a.hideResult(result, out, message, password))
	return nil
}

// hideResult builds the report. The payload is re-measured by
// Service.Capacity, so with a password the required bits are those of a
// fresh encryption of the same length.
func (a *app) hideResult(c stego.Carrier, out, message, password string) output.HideResult {
	r := output.HideResult{
		Kind:      string(c.Kind()),
		Output:    out,
		Encrypted: password != "",
		Message:   len(message),
		Capacity:  c.Capacity(),
		Required:  frame.Len(len(message)),
	}
	if password != "" {
		r.Cipher = a.cfg.Cipher
		if report, err := a.service.Capacity(c, message, password); err == nil {
			r.Required = report.RequiredBits
		}
	}
	return r
}
