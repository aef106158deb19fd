// Package cli provides centralized command registration.
package cli

import (
	"github.com/andrei-cloud/go_procgen/internal/commands/cli/inspect"
	"github.com/andrei-cloud/go_procgen/internal/commands/cli/render"
	"github.com/andrei-cloud/go_procgen/internal/commands/cli/script"
	"github.com/andrei-cloud/go_procgen/internal/commands/cli/version"
	"github.com/spf13/cobra"
)

// RegisterCommands registers all root commands.
func RegisterCommands(root *cobra.Command) error {
	root.AddCommand(render.NewRenderCommand())
	root.AddCommand(script.NewResolveCommand())
	root.AddCommand(script.NewCheckCommand())
	root.AddCommand(inspect.NewInspectCommand())
	root.AddCommand(version.NewVersionCommand())

	return nil
}
