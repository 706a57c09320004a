package main

import (
	"github.com/faanross/simulacra_stego/internal/imageio"
	"github.com/faanross/simulacra_stego/internal/output"
	"github.com/faanross/simulacra_stego/internal/stego"
	"github.com/spf13/cobra"
)

func (a *app) revealCmd() *cobra.Command {
	var (
		carrier carrierFlags
		pw      passwordFlags
	)

	cmd := &cobra.Command{
		Use:     "reveal",
		Short:   "Recover a hidden message",
		Example: "  stego reveal -i cover_stego.png --prompt\n  pbpaste | stego reveal -t -",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadCarrier(cmd, &carrier)
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
			a.printer.Revealed(output.RevealResult{
				Kind:    string(c.Kind()),
				Source:  carrier.source(),
				Message: message,
			})
			return nil
		},
	}

	carrier.register(cmd)
	pw.register(cmd)
	return cmd
}

// loadCarrier reads the image or text selected by flags.
func (a *app) loadCarrier(cmd *cobra.Command, flags *carrierFlags) (stego.Carrier, error) {
	if flags.image != "" {
		loaded, err := imageio.LoadFile(flags.image)
		if err != nil {
			return nil, err
		}
		return loaded.Carrier, nil
	}
	text, err := readText(cmd, flags.text)
	if err != nil {
		return nil, err
	}
	return stego.NewTextCarrier(text), nil
}
