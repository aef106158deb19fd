// Package inspect provides an interactive browser for scene files.
package inspect

import (
	"fmt"

	"github.com/andrei-cloud/go_procgen/internal/scene"
	"github.com/andrei-cloud/go_procgen/internal/searchpath"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect SCENE",
		Short: "Browse the nodes of a scene",
		Long: `Open an interactive browser over a scene's nodes, showing parameters and
the script each procedural node resolves to.`,
		Args: cobra.ExactArgs(1),
		RunE: runInspect,
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()
	u, err := scene.Load(fs, args[0])
	if err != nil {
		return fmt.Errorf("failed to load scene: %w", err)
	}

	model := newSceneModel(args[0], u, searchpath.New(fs))
	p := tea.NewProgram(model,
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("inspect failed: %w", err)
	}

	return nil
}
