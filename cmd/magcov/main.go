// magcov inspects and combines persisted coverage aggregates.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chazu/magcov/config"
	"github.com/chazu/magcov/coverage"
	"github.com/chazu/magcov/diag"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the state shared by all subcommands.
type app struct {
	configDir string
	verbosity int

	cfg *config.Config
	rep diag.Reporter
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "magcov",
		Short:         "Inspect and combine coverage aggregates",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configDir, "config-dir", ".", "directory to search upward for "+config.FileName)
	root.PersistentFlags().CountVarP(&a.verbosity, "verbose", "v", "increase log verbosity")

	root.AddCommand(
		newMergeCmd(a),
		newSummaryCmd(a),
		newApplyRawCmd(a),
		newConvertCmd(a),
	)
	return root
}

// setup loads the configuration and routes the error side channel.
func (a *app) setup() error {
	cfg, err := config.FindAndLoad(a.configDir)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default()
		cfg.Log.File = ""
	}
	a.cfg = cfg
	diag.Configure(max(a.verbosity, cfg.Log.Verbosity), cfg.LogFilePath())
	a.rep = diag.NewLogReporter("cli")
	return nil
}

func readProject(path string) (*coverage.Project, coverage.Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	p, f, err := coverage.Unmarshal(data)
	if err != nil {
		return nil, f, fmt.Errorf("%s: %w", path, err)
	}
	return p, f, nil
}

func writeProject(path string, p *coverage.Project, f coverage.Format) error {
	data, err := coverage.Marshal(p, f)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// formatFlag resolves an optional --format value, falling back to def.
func formatFlag(s string, def coverage.Format) (coverage.Format, error) {
	if s == "" {
		return def, nil
	}
	return coverage.ParseFormat(s)
}

// =============================================================================
// merge
// =============================================================================

func newMergeCmd(a *app) *cobra.Command {
	var out, format string
	cmd := &cobra.Command{
		Use:   "merge -o OUT INPUT...",
		Short: "Merge aggregates into one",
		Long: `Merges the line and branch counters of every input into one aggregate.
The output uses the format of the first input unless --format is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			merged := coverage.NewProject()
			var first coverage.Format
			for i, path := range args {
				p, f, err := readProject(path)
				if err != nil {
					return err
				}
				if i == 0 {
					first = f
				}
				merged.Merge(p)
			}
			f, err := formatFlag(format, first)
			if err != nil {
				return err
			}
			if err := writeProject(out, merged, f); err != nil {
				return err
			}
			a.rep.Info(fmt.Sprintf("merged %d aggregates into %s", len(args), out))
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", out, merged.Summary())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file")
	cmd.Flags().StringVar(&format, "format", "", "output format: binary or snapshot")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// =============================================================================
// summary
// =============================================================================

func newSummaryCmd(a *app) *cobra.Command {
	var perClass bool
	cmd := &cobra.Command{
		Use:   "summary FILE...",
		Short: "Print line and branch totals",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for _, path := range args {
				p, f, err := readProject(path)
				if err != nil {
					return err
				}
				if perClass {
					for _, c := range p.Classes() {
						fmt.Fprintf(w, "  %s: %s\n", c.Name, c.Summary())
					}
				}
				s := p.Summary()
				fmt.Fprintf(w, "%s (%s, %d classes): %s\n", path, f, p.Len(), s)
				fmt.Fprintf(w, "  line rate %.1f%%, branch rate %.1f%%\n", 100*s.LineRate(), 100*s.BranchRate())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&perClass, "classes", false, "also print one row per class")
	return cmd
}

// =============================================================================
// apply-raw
// =============================================================================

func newApplyRawCmd(a *app) *cobra.Command {
	var rawPath, out string
	cmd := &cobra.Command{
		Use:   "apply-raw --raw HITS -o OUT SNAPSHOT",
		Short: "Fold raw hit arrays into a snapshot",
		Long: `Adds the per-class hit arrays of a raw dump onto a snapshot aggregate.
Binary aggregates do not keep counter ids and cannot take raw hits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, f, err := readProject(args[0])
			if err != nil {
				return err
			}
			if f != coverage.Snapshot {
				return fmt.Errorf("%s: raw hits need counter ids, which the %s format drops", args[0], f)
			}
			data, err := os.ReadFile(rawPath)
			if err != nil {
				return err
			}
			raw, err := coverage.UnmarshalRaw(data)
			if err != nil {
				return fmt.Errorf("%s: %w", rawPath, err)
			}
			applied := coverage.ApplyRaw(p, raw, a.rep)
			if err := writeProject(out, p, coverage.Snapshot); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d of %d classes: %s\n", applied, len(raw.Classes), p.Summary())
			return nil
		},
	}
	cmd.Flags().StringVar(&rawPath, "raw", "", "raw hits file (CBOR)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file")
	_ = cmd.MarkFlagRequired("raw")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// =============================================================================
// convert
// =============================================================================

func newConvertCmd(a *app) *cobra.Command {
	var out, to string
	cmd := &cobra.Command{
		Use:   "convert --to FORMAT -o OUT INPUT",
		Short: "Rewrite an aggregate in another format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, from, err := readProject(args[0])
			if err != nil {
				return err
			}
			f, err := coverage.ParseFormat(to)
			if err != nil {
				return err
			}
			if from == coverage.Snapshot && f == coverage.Binary {
				a.rep.Info(fmt.Sprintf("%s: counter ids are dropped in the binary format", args[0]))
			}
			if err := writeProject(out, p, f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) -> %s (%s)\n", args[0], from, out, f)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target format: binary or snapshot")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
