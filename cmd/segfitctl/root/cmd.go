// Package root wires the segfitctl subcommands together, grounded on
// cmd/opm/root/cmd.go's pattern of a bare top-level command that does
// nothing but register children and a shared --debug flag.
package root

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"segfit/cmd/segfitctl/bench"
	"segfit/cmd/segfitctl/sizes"
)

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segfitctl",
		Short: "segfit allocator inspection and benchmark tool",
		Long:  "segfitctl drives an in-process segfit.Allocator for manual inspection of its size-class table and allocation behavior.",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Args: cobra.NoArgs,
	}

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.AddCommand(sizes.NewCmd(), bench.NewCmd())

	return cmd
}
