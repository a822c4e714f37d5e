package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crhistian-cornejo/quotebar/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Info())
		},
	}
}
