package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/abworrall/pano-composite/pkg/perr"
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case perr.Is(err, perr.InputError):
		return 2
	default:
		return 1
	}
}

func main() {
	// An interrupt stops the run at the next region boundary
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := newRootCmd(os.Stderr).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "panocomp: %v\n", err)
	}
	stop()
	os.Exit(exitCode(err))
}
