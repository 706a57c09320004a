// Command stego hides text in images or ordinary text and publishes the
// resulting carriers over DNS TXT records.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/faanross/simulacra_stego/internal/stego"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "❌", stego.Describe(err))
		os.Exit(1)
	}
}
