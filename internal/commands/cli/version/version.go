// Package version provides the version command.
package version

import (
	"fmt"
	"runtime"

	"github.com/andrei-cloud/go_procgen/internal/host"
	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the plugin version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s/%s)\n",
				host.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)

			return err
		},
	}
}
