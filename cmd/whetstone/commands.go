package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/whetstone/internal/collector"
	"github.com/efebarandurmaz/whetstone/internal/diff"
	"github.com/efebarandurmaz/whetstone/internal/embed"
	"github.com/efebarandurmaz/whetstone/internal/extract"
	"github.com/efebarandurmaz/whetstone/internal/gitsrc"
	"github.com/efebarandurmaz/whetstone/internal/indexer"
	"github.com/efebarandurmaz/whetstone/internal/lang"
	"github.com/efebarandurmaz/whetstone/internal/metrics"
	"github.com/efebarandurmaz/whetstone/internal/retrieve"
)

func newParseCmd(opts *rootOptions) *cobra.Command {
	src := &diffSource{}
	cmd := &cobra.Command{
		Use:   "parse [diff-file]",
		Short: "Parse a unified diff into per-file changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := src.load(cmd, args)
			if err != nil {
				return err
			}
			changes := diff.Parse(text)
			return render(cmd.OutOrStdout(), opts.output, changes, func(tbl table.Writer) {
				tbl.AppendHeader(table.Row{"Path", "+", "-", "Hunks"})
				adds, dels := 0, 0
				for _, fc := range changes {
					tbl.AppendRow(table.Row{fc.Path, fc.Additions, fc.Deletions, len(fc.Hunks)})
					adds += fc.Additions
					dels += fc.Deletions
				}
				tbl.AppendFooter(table.Row{fmt.Sprintf("%d files", len(changes)), adds, dels, ""})
			})
		},
	}
	src.bind(cmd)
	return cmd
}

type extractedFile struct {
	Path           string `json:"path" yaml:"path"`
	extract.Result `json:",inline" yaml:",inline"`
}

func newExtractCmd(opts *rootOptions) *cobra.Command {
	var showCode bool
	cmd := &cobra.Command{
		Use:   "extract <file>...",
		Short: "Split source files into code units",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var out []extractedFile
				for _, p := range args {
					content, err := os.ReadFile(p)
					if err != nil {
						return err
					}
					out = append(out, extractedFile{
						Path:   filepath.ToSlash(p),
						Result: a.extractor.Analyze(ctx, filepath.ToSlash(p), content),
					})
				}
				return render(cmd.OutOrStdout(), opts.output, out, func(tbl table.Writer) {
					header := table.Row{"File", "Language", "Strategy", "Type", "Name", "Lines"}
					if showCode {
						header = append(header, "Code")
					}
					tbl.AppendHeader(header)
					for _, f := range out {
						for _, u := range f.Units {
							row := table.Row{f.Path, f.Language, f.Strategy, u.Type, u.Name, lineRange(u.LineStart, u.LineEnd)}
							if showCode {
								row = append(row, oneLine(u.Code, 60))
							}
							tbl.AppendRow(row)
						}
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&showCode, "code", false, "Include a one-line code preview in the table")
	return cmd
}

type languageInfo struct {
	Language lang.Language        `json:"language" yaml:"language"`
	Strategy extract.StrategyKind `json:"strategy" yaml:"strategy"`
}

type classifiedPath struct {
	Path     string        `json:"path" yaml:"path"`
	Language lang.Language `json:"language" yaml:"language"`
	Known    bool          `json:"known" yaml:"known"`
	Vendored bool          `json:"vendored" yaml:"vendored"`
}

func newLanguagesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "languages [path]...",
		Short: "List structurally supported languages, or classify paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if len(args) > 0 {
					out := make([]classifiedPath, 0, len(args))
					for _, p := range args {
						p = filepath.ToSlash(p)
						content, _ := os.ReadFile(p)
						l, ok := a.classifier.Classify(p, content)
						out = append(out, classifiedPath{Path: p, Language: l, Known: ok, Vendored: lang.IsVendored(p)})
					}
					return render(cmd.OutOrStdout(), opts.output, out, func(tbl table.Writer) {
						tbl.AppendHeader(table.Row{"Path", "Language", "Vendored"})
						for _, c := range out {
							l := string(c.Language)
							if !c.Known {
								l = "(unknown)"
							}
							tbl.AppendRow(table.Row{c.Path, l, c.Vendored})
						}
					})
				}

				var out []languageInfo
				for l, k := range a.extractor.Languages() {
					out = append(out, languageInfo{Language: l, Strategy: k})
				}
				sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
				return render(cmd.OutOrStdout(), opts.output, out, func(tbl table.Writer) {
					tbl.AppendHeader(table.Row{"Language", "Strategy"})
					for _, li := range out {
						tbl.AppendRow(table.Row{li.Language, li.Strategy})
					}
					tbl.AppendFooter(table.Row{"other", extract.KindFallback})
				})
			})
		},
	}
}

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var (
		rev    string
		repo   string
		ignore      []string
		keep        bool
		incremental bool
	)
	cmd := &cobra.Command{
		Use:   "index [dir]",
		Short: "Extract, embed and store the code units of a repository",
		Long: `Index walks a directory, or a git revision with --rev, and stores one
vector entry per code unit. Existing entries are cleared first unless --keep
is given. With --incremental only files whose content changed since the last
incremental run are re-embedded, and units of deleted files are removed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m := metrics.New("index")

				var src indexer.Source = indexer.Dir(root)
				if repo == "" {
					repo = a.cfg.Index.Repo
				}
				if rev != "" || repo == "" {
					if r, err := gitsrc.Open(root); err == nil {
						if rev != "" {
							if _, err := r.Resolve(rev); err != nil {
								return err
							}
							src = r.Tree(rev)
						}
						if repo == "" {
							repo = r.Slug()
						}
					} else if rev != "" {
						return err
					}
				}

				ix, err := a.Indexer(ctx, ignore)
				if err != nil {
					return err
				}
				run := ix.Reindex
				if keep {
					run = ix.Index
				}
				if incremental {
					run = func(ctx context.Context, src indexer.Source, repo string) (indexer.Stats, error) {
						return updateIndex(ctx, ix, src, repo, a.cfg.Index.StatePath)
					}
				}
				var stats indexer.Stats
				err = m.Time("index", func() error {
					var err error
					stats, err = run(ctx, src, repo)
					return err
				})
				m.CollectIndex(stats)
				m.Finish()
				if err != nil {
					return err
				}

				if opts.output == formatTable {
					m.PrintSummary(cmd.OutOrStdout())
					return nil
				}
				return render(cmd.OutOrStdout(), opts.output, m, nil)
			})
		},
	}
	cmd.Flags().StringVar(&rev, "rev", "", "Index this git revision instead of the working tree")
	cmd.Flags().StringVar(&repo, "repo", "", "Repository slug stored with each unit (default: index.repo or the origin remote)")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "Additional ignore globs")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep existing entries instead of clearing the index")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "Only re-index files changed since the last incremental run (state in index.state_path)")
	cmd.MarkFlagsMutuallyExclusive("keep", "incremental")
	return cmd
}

// updateIndex runs an incremental pass and persists its state.
func updateIndex(ctx context.Context, ix *indexer.Indexer, src indexer.Source, repo, statePath string) (indexer.Stats, error) {
	if statePath == "" {
		statePath = indexer.DefaultStatePath
	}
	prev, err := indexer.LoadState(statePath)
	if err != nil {
		return indexer.Stats{Repo: repo}, err
	}
	stats, next, err := ix.Update(ctx, src, repo, prev)
	if err != nil {
		return stats, err
	}
	return stats, next.Save(statePath)
}

func newRetrieveCmd(opts *rootOptions) *cobra.Command {
	src := &diffSource{}
	var (
		topK      int
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "retrieve [diff-file]",
		Short: "Find indexed code similar to the lines a diff adds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := src.load(cmd, args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				r, err := a.Retriever(ctx)
				if err != nil {
					return err
				}
				ro := r.Options()
				if cmd.Flags().Changed("top-k") {
					ro.TopK = topK
				}
				if cmd.Flags().Changed("threshold") {
					ro.Threshold = threshold
				}

				m := metrics.New("retrieve")
				changes := diff.Parse(text)
				var patterns []retrieve.Pattern
				err = m.Time("patterns", func() error {
					var err error
					patterns, err = r.PatternsWith(ctx, changes, ro)
					return err
				})
				if err != nil {
					return err
				}
				m.CollectRetrieval(len(changes), countHunks(changes), &retrieve.Knowledge{Patterns: patterns})
				m.Finish()
				report(cmd, opts, m)

				return render(cmd.OutOrStdout(), opts.output, patterns, func(tbl table.Writer) {
					tbl.AppendHeader(table.Row{"Score", "Source", "Description", "Snippet"})
					for _, p := range patterns {
						tbl.AppendRow(table.Row{fmt.Sprintf("%.3f", p.Similarity), p.SourcePath, p.Description, oneLine(p.Snippet, 60)})
					}
				})
			})
		},
	}
	src.bind(cmd)
	cmd.Flags().IntVar(&topK, "top-k", 0, "Results per hunk (default: retrieval.top_k)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity (default: retrieval.threshold)")
	return cmd
}

func newRelatedCmd(opts *rootOptions) *cobra.Command {
	src := &diffSource{}
	cmd := &cobra.Command{
		Use:   "related [diff-file]",
		Short: "List indexed files whose names match the changed files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := src.load(cmd, args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				idx, err := a.Index(ctx)
				if err != nil {
					return err
				}
				// Name matching needs no embeddings.
				r := retrieve.New(idx, nil, retrieve.WithLogger(a.logger))
				related, err := r.Related(ctx, diff.Parse(text))
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, related, func(tbl table.Writer) {
					tbl.AppendHeader(table.Row{"Path", "Relationship", "Reason"})
					for _, f := range related {
						tbl.AppendRow(table.Row{f.Path, f.Relationship, f.Reason})
					}
				})
			})
		},
	}
	src.bind(cmd)
	return cmd
}

func newContextCmd(opts *rootOptions) *cobra.Command {
	src := &diffSource{}
	var (
		meta        collector.PRMetadata
		noKnowledge bool
	)
	cmd := &cobra.Command{
		Use:   "context [diff-file]",
		Short: "Assemble the full review context of a change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := src.load(cmd, args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var r *retrieve.Retriever
				if !noKnowledge {
					r, err = a.Retriever(ctx)
					if errors.Is(err, errNoEmbedder) {
						a.logger.Info("no embedding provider, collecting without knowledge")
						r, err = nil, nil
					}
					if err != nil {
						return err
					}
				}

				m := metrics.New("context")
				c := collector.New(a.classifier, r, a.logger)
				out := c.Collect(ctx, collector.Request{DiffText: text, Metadata: meta})
				m.CollectRetrieval(len(out.FileChanges), countHunks(out.FileChanges), out.Knowledge)
				m.Finish()
				report(cmd, opts, m)

				return render(cmd.OutOrStdout(), opts.output, out, func(tbl table.Writer) {
					tbl.AppendRow(table.Row{"Title", out.Metadata.Title})
					tbl.AppendRow(table.Row{"Files", len(out.FileChanges)})
					tbl.AppendRow(table.Row{"Languages", strings.Join(out.CIConfig.Languages, ", ")})
					tbl.AppendRow(table.Row{"Test", out.CIConfig.TestCommand})
					tbl.AppendRow(table.Row{"Lint", out.CIConfig.LintCommand})
					tbl.AppendRow(table.Row{"Build", out.CIConfig.BuildCommand})
					if k := out.Knowledge; k != nil {
						tbl.AppendSeparator()
						for _, p := range k.Patterns {
							tbl.AppendRow(table.Row{fmt.Sprintf("Pattern %.3f", p.Similarity), p.SourcePath})
						}
						for _, f := range k.Related {
							tbl.AppendRow(table.Row{"Related", f.Path})
						}
					}
				})
			})
		},
	}
	src.bind(cmd)
	f := cmd.Flags()
	f.StringVar(&meta.Repo, "repo", "", "Repository slug")
	f.IntVar(&meta.Number, "number", 0, "Pull request number")
	f.StringVar(&meta.Title, "title", "", "Pull request title")
	f.StringVar(&meta.Description, "description", "", "Pull request description")
	f.StringSliceVar(&meta.Labels, "labels", nil, "Pull request labels")
	f.StringVar(&meta.Author, "author", "", "Pull request author")
	f.StringVar(&meta.BaseBranch, "base", "", "Base branch")
	f.StringVar(&meta.TargetBranch, "target", "", "Target branch")
	f.BoolVar(&noKnowledge, "no-knowledge", false, "Skip similarity retrieval")
	return cmd
}

func newGraphCmd(opts *rootOptions) *cobra.Command {
	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Query the code graph built during indexing",
	}
	unitsCmd := &cobra.Command{
		Use:   "units <repo> <path>",
		Short: "List the units a file defines",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				g, err := a.Graph(ctx)
				if err != nil {
					return err
				}
				if g == nil {
					return errors.New("no graph configured (set graph.uri or WHETSTONE_GRAPH_URI)")
				}
				units, err := g.FileUnits(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, units, func(tbl table.Writer) {
					tbl.AppendHeader(table.Row{"Type", "Name", "Lines", "ID"})
					for _, u := range units {
						tbl.AppendRow(table.Row{u.Type, u.Name, lineRange(u.LineStart, u.LineEnd), u.ID})
					}
				})
			})
		},
	}
	graphCmd.AddCommand(unitsCmd)
	return graphCmd
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List available embedding providers",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Available embedding providers:")
			fmt.Fprintln(w)
			names := make([]string, 0, len(embed.KnownProviders))
			for name := range embed.KnownProviders {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "  %-10s %s\n", name, embed.KnownProviders[name])
			}
			fmt.Fprintln(w, "  gemini     (Google Gemini API, requires api_key)")
			fmt.Fprintln(w, "  custom     (set base_url to any OpenAI-compatible endpoint)")
			fmt.Fprintln(w, "  none       (no embeddings; parse, extract and related still work)")
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Configure in whetstone.yaml or via environment:")
			fmt.Fprintln(w, "  WHETSTONE_EMBED_PROVIDER=ollama")
			fmt.Fprintln(w, "  WHETSTONE_EMBED_MODEL=nomic-embed-text")
		},
	}
}

// report prints the run report to stderr when --stats is set.
func report(cmd *cobra.Command, opts *rootOptions, m *metrics.RunMetrics) {
	if opts.stats {
		m.PrintSummary(cmd.ErrOrStderr())
	}
}

func countHunks(changes []diff.FileChange) int {
	n := 0
	for _, fc := range changes {
		n += len(fc.Hunks)
	}
	return n
}
