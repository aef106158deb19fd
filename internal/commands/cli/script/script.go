// Package script provides commands that work on a single script outside a
// scene.
package script

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/andrei-cloud/go_procgen/internal/config"
	"github.com/andrei-cloud/go_procgen/internal/host"
	"github.com/andrei-cloud/go_procgen/internal/hostapi"
	"github.com/andrei-cloud/go_procgen/internal/interp"
	"github.com/andrei-cloud/go_procgen/internal/procedural"
	"github.com/andrei-cloud/go_procgen/internal/scene"
	"github.com/andrei-cloud/go_procgen/internal/searchpath"
	"github.com/dop251/goja_nodejs/require"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// ErrMissingFunctions is returned by check when a script lacks entry functions.
var ErrMissingFunctions = errors.New("missing entry functions")

// NewResolveCommand creates the resolve command.
func NewResolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve SCRIPT",
		Short: "Resolve a script reference against a search path",
		Long: `Print the path a procedural's data parameter resolves to, searching the
given path list. Entries of the form [NAME] expand to the environment variable NAME.`,
		Args: cobra.ExactArgs(1),
		RunE: runResolve,
	}

	cmd.Flags().String("searchpath", "", "procedural search path")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	searchPath, _ := cmd.Flags().GetString("searchpath")

	resolved, err := Resolve(searchpath.New(afero.NewOsFs()), searchPath, args[0])
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), resolved)

	return nil
}

// Resolve returns the normalized path scriptRef designates: scriptRef itself
// when it names a file, else the first match along searchPath.
func Resolve(r *searchpath.Resolver, searchPath, scriptRef string) (string, error) {
	if r.IsFile(scriptRef) {
		return r.Normalize(scriptRef), nil
	}
	found, err := r.Resolve(searchPath, scriptRef)
	if err != nil {
		return "", fmt.Errorf("procedural %q not found in path: %w", scriptRef, err)
	}

	return r.Normalize(found), nil
}

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check SCRIPT",
		Short: "Load a script and report its entry functions",
		Long: `Load a script standalone, with the host module bound to an empty scene,
and report which of Init, NumNodes, GetNode and Cleanup it defines.`,
		Args: cobra.ExactArgs(1),
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	opts := interp.OptionsFromConfig(config.Get())
	opts.Fs = afero.NewOsFs()

	defined, err := Check(opts, args[0])
	if defined != nil {
		if perr := Print(cmd.OutOrStdout(), defined); perr != nil {
			return perr
		}
	}

	return err
}

// Check loads path in a private interpreter and reports, per entry function,
// whether the script defines it. It fails with ErrMissingFunctions when any
// is absent.
func Check(opts interp.Options, path string) (map[string]bool, error) {
	empty := scene.NewUniverse()
	opts.NativeModules = map[string]require.ModuleLoader{
		hostapi.ModuleName: hostapi.Require(func() host.Universe { return empty }),
	}

	it, err := interp.Begin(opts)
	defer interp.End()
	if err != nil {
		return nil, err
	}

	defined := make(map[string]bool, len(procedural.Functions))
	err = it.Do(func(s *interp.Scope) error {
		rt := s.Runtime()
		mod, err := rt.LoadSource(procedural.ModuleName(path), path, procedural.Functions...)
		if err != nil {
			return err
		}
		defer func() { _ = mod.Release() }()

		for _, name := range procedural.Functions {
			_, err := rt.Attr(mod, name)
			defined[name] = err == nil
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	var missing []string
	for _, name := range procedural.Functions {
		if !defined[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return defined, fmt.Errorf("%w: %s", ErrMissingFunctions, strings.Join(missing, ", "))
	}

	return defined, nil
}

// Print writes the check report.
func Print(out io.Writer, defined map[string]bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "Function\tDefined")
	_, _ = fmt.Fprintln(w, "--------\t-------")
	for _, name := range procedural.Functions {
		_, _ = fmt.Fprintf(w, "%s\t%t\n", name, defined[name])
	}

	return w.Flush()
}
