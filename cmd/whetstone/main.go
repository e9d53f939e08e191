package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/whetstone/internal/gitsrc"
)

var version = "dev"

type rootOptions struct {
	configPath string
	output     string
	logLevel   string
	stats      bool
}

// diffSource selects where a command reads its diff from: a file, stdin,
// or two revisions of a git repository.
type diffSource struct {
	from     string
	to       string
	repoPath string
}

func (d *diffSource) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.from, "from", "", "Diff from this git revision instead of reading a diff")
	cmd.Flags().StringVar(&d.to, "to", "HEAD", "Diff up to this git revision (with --from)")
	cmd.Flags().StringVar(&d.repoPath, "repo-path", ".", "Git repository for --from/--to")
}

func (d *diffSource) load(cmd *cobra.Command, args []string) (string, error) {
	if d.from != "" {
		r, err := gitsrc.Open(d.repoPath)
		if err != nil {
			return "", err
		}
		return r.Diff(cmd.Context(), d.from, d.to)
	}
	p := ""
	if len(args) > 0 {
		p = args[0]
	}
	b, err := readInput(cmd.InOrStdin(), p)
	if err != nil {
		return "", fmt.Errorf("reading diff: %w", err)
	}
	return string(b), nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "whetstone",
		Short:         "Index a codebase and retrieve review knowledge for diffs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validFormat(opts.output)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file path (default: environment and built-in defaults)")
	pf.StringVarP(&opts.output, "output", "o", formatTable, "Output format: table, json or yaml")
	pf.StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	pf.BoolVar(&opts.stats, "stats", false, "Print a run report to stderr")

	rootCmd.AddCommand(
		newParseCmd(opts),
		newExtractCmd(opts),
		newLanguagesCmd(opts),
		newIndexCmd(opts),
		newRetrieveCmd(opts),
		newRelatedCmd(opts),
		newContextCmd(opts),
		newGraphCmd(opts),
		newProvidersCmd(),
	)
	return rootCmd
}

// withApp builds the app for one command run and closes it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts.configPath, opts.logLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	return fn(ctx, a)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
