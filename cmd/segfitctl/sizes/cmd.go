// Package sizes implements "segfitctl sizes".
package sizes

import (
	"fmt"

	"github.com/spf13/cobra"

	"segfit"
)

func NewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sizes",
		Short: "print the size-class table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			classes := segfit.SizeClasses()
			fmt.Fprintf(cmd.OutOrStdout(), "%-5s %-5s %s\n", "bin", "size", "align")
			for i, c := range classes {
				fmt.Fprintf(cmd.OutOrStdout(), "%-5d %-5d %d\n", i, c.Size, c.Alignment)
			}
			return nil
		},
	}
}
