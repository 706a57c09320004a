package main

import (
	"fmt"

	"github.com/faanross/simulacra_stego/internal/channel"
	"github.com/faanross/simulacra_stego/internal/imageio"
	"github.com/spf13/cobra"
)

func (a *app) capacityCmd() *cobra.Command {
	var (
		carrier carrierFlags
		pw      passwordFlags
		message string
	)

	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Show how much a carrier can hold, and whether a message fits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadCarrier(cmd, &carrier)
			if err != nil {
				return err
			}
			password, err := a.resolvePassword(&pw, false)
			if err != nil {
				return err
			}
			report, err := a.service.Capacity(c, message, password)
			if err != nil {
				return err
			}
			if message == "" {
				report.RequiredBits = 0
			}
			a.printer.Capacity(report)
			return nil
		},
	}

	carrier.register(cmd)
	pw.register(cmd)
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to test against the carrier")
	return cmd
}

func (a *app) analyzeCmd() *cobra.Command {
	var image string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Report blue-channel LSB statistics of an image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := imageio.LoadFile(image)
			if err != nil {
				return err
			}
			a.printer.Analysis(imageio.Analyze(loaded.Carrier))
			return nil
		},
	}

	cmd.Flags().StringVarP(&image, "image", "i", "", "image to analyze")
	cmd.MarkFlagRequired("image")
	return cmd
}

func (a *app) stripCmd() *cobra.Command {
	var text string

	cmd := &cobra.Command{
		Use:   "strip",
		Short: "Print text with all zero-width markers removed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readText(cmd, text)
			if err != nil {
				return err
			}
			var codec channel.Text
			a.logger.Debug("stripping markers", "count", codec.Count(content))
			fmt.Fprint(cmd.OutOrStdout(), codec.Strip(content))
			return nil
		},
	}

	cmd.Flags().StringVarP(&text, "text", "t", "-", "text file, - for stdin")
	return cmd
}
