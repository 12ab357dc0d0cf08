// Package main is the entry point for contact-mailer.
package main

import (
	"fmt"
	"os"

	"github.com/shineum/contact-mailer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
