// squadctl is the operator CLI for squadops: catalog listing, local gate
// runs, RACI checks and database migrations.
package main

import (
	"fmt"
	"log/slog"
	"os"
)

func main() {
	// Runner chatter goes to stderr; stdout carries the command output.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
