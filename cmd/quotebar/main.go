// Package main is the quotebar entry point: a CLI over the usage engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crhistian-cornejo/quotebar/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:     "quotebar",
		Short:   "Track AI provider rate limits, request history and status pages",
		Version: version.Short(),
	}

	root.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
