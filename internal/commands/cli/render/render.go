// Package render provides the render command, which drives the plugin over
// a scene the way a renderer would.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andrei-cloud/go_procgen/internal/config"
	"github.com/andrei-cloud/go_procgen/internal/host"
	"github.com/andrei-cloud/go_procgen/internal/interp"
	"github.com/andrei-cloud/go_procgen/internal/plugin"
	"github.com/andrei-cloud/go_procgen/internal/procedural"
	"github.com/andrei-cloud/go_procgen/internal/scene"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ErrLoad is returned when the plugin load hook fails.
var ErrLoad = errors.New("plugin failed to load")

// Row is one expanded node.
type Row struct {
	Procedural string
	Index      int
	Node       string
}

// Result is the outcome of rendering a scene.
type Result struct {
	Rows []Row
	// Failed lists procedurals whose Init returned 0, in scene order.
	Failed []string
}

// Options configures Run.
type Options struct {
	Threads    int
	SearchPath string
	Interp     interp.Options
}

// NewRenderCommand creates the render command.
func NewRenderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render SCENE",
		Short: "Expand every procedural node of a scene",
		Long: `Load a scene, initialize every procedural node, expand them concurrently
and print the nodes each one produced.`,
		Args: cobra.ExactArgs(1),
		RunE: runRender,
	}

	cmd.Flags().Int("threads", 0, "number of render threads (default from config)")
	cmd.Flags().String("searchpath", "", "override options.procedural_searchpath")

	return cmd
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	threads, _ := cmd.Flags().GetInt("threads")
	if threads <= 0 {
		threads = cfg.Render.Threads
	}
	searchPath, _ := cmd.Flags().GetString("searchpath")

	fs := afero.NewOsFs()
	u, err := scene.Load(fs, args[0])
	if err != nil {
		return fmt.Errorf("failed to load scene: %w", err)
	}

	res, err := Run(cmd.Context(), fs, u, Options{
		Threads:    threads,
		SearchPath: searchPath,
		Interp:     interp.OptionsFromConfig(cfg),
	})
	if err != nil {
		return err
	}

	return Print(cmd.OutOrStdout(), res)
}

// Run binds the plugin to u, runs the load hook, initializes every
// procedural, expands them over opts.Threads workers, cleans them up and
// runs the unload hook.
func Run(ctx context.Context, fs afero.Fs, u *scene.Universe, opts Options) (*Result, error) {
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	if opts.SearchPath != "" {
		if o := u.Options(); o != nil {
			o.Set(host.ParamSearchPath, opts.SearchPath)
		}
	}

	plugin.Bind(plugin.Host{Universe: u, Fs: fs})
	var vt plugin.VTable
	if !plugin.Loader(&vt) {
		return nil, ErrLoad
	}
	if !plugin.Load(opts.Interp) {
		plugin.Unload()
		return nil, ErrLoad
	}
	defer plugin.Unload()

	procs := u.Procedurals()
	instances := make([]*procedural.Instance, len(procs))
	res := &Result{}
	for i, n := range procs {
		p, rc := vt.Init(n)
		if rc == 0 {
			res.Failed = append(res.Failed, n.Name())
		}
		instances[i] = p
	}

	expanded := make([][]Row, len(procs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Threads)
	for i, p := range instances {
		if p == nil || p.State() != procedural.Initialized {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n := vt.NumNodes(p)
			if n < 0 {
				log.Warn().Str("procedural", p.Name()).Int("count", n).Msg("negative node count, skipping")
				n = 0
			}
			rows := make([]Row, 0, n)
			for j := 0; j < n; j++ {
				name := "(none)"
				if node := vt.GetNode(p, j); node != nil {
					name = node.Name()
				}
				rows = append(rows, Row{Procedural: p.Name(), Index: j, Node: name})
			}
			expanded[i] = rows

			return nil
		})
	}
	err := g.Wait()

	for _, p := range instances {
		if p != nil {
			vt.Cleanup(p)
		}
	}
	if err != nil {
		return nil, err
	}

	for _, rows := range expanded {
		res.Rows = append(res.Rows, rows...)
	}

	return res, nil
}

// Print writes res as an aligned table.
func Print(out io.Writer, res *Result) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "Procedural\tIndex\tNode")
	_, _ = fmt.Fprintln(w, "----------\t-----\t----")
	for _, r := range res.Rows {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", r.Procedural, r.Index, r.Node)
	}
	for _, name := range res.Failed {
		_, _ = fmt.Fprintf(w, "%s\t-\t(init failed)\n", name)
	}

	return w.Flush()
}
