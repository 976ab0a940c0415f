// Package main is the entry point for the maatri console.
//
// maatri drives the registration and intake wizards, the role dashboards and
// the health data assistant from a terminal.
//
//	maatri --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/maatrinet/go-intake/cmd/maatri/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := commands.Root().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
