package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gitrdm/gokanbtd/internal/parallel"
	"github.com/gitrdm/gokanbtd/pkg/search"
	"github.com/gitrdm/gokanbtd/pkg/td"
	"github.com/gitrdm/gokanbtd/pkg/wcsp"
)

// signalContext is cancelled on interrupt, which stops running searches
// with their best solution so far.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

// runSolver loads a problem and solves it with cfg. Search limits are not
// errors here: the partial result is returned with them.
func runSolver(ctx context.Context, path string, cfg search.SearchConfig, m *search.Metrics) (*search.Result, error) {
	net, err := wcsp.LoadProblem(path)
	if err != nil {
		return nil, err
	}
	s, err := search.NewSolver(net, cfg,
		search.WithLogger(log.WithField("problem", path)),
		search.WithMetrics(m),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	res, err := s.Solve(ctx)
	if err != nil && res == nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return res, nil
}

func printResult(w io.Writer, path string, res *search.Result) {
	switch res.Status {
	case search.StatusCounted:
		if res.Approximate {
			fmt.Fprintf(w, "%s: ~%s solutions (<= %s)\n", path, res.NbSolutions, res.SolutionsUpperBound)
		} else {
			fmt.Fprintf(w, "%s: %s solutions\n", path, res.NbSolutions)
		}
		return
	case search.StatusInfeasible:
		fmt.Fprintf(w, "%s: %s\n", path, res.Status)
		return
	}
	fmt.Fprintf(w, "%s: %s cost %s lb %s\n", path, res.Status, res.Cost, res.LowerBound)
	if res.Solution != nil {
		fmt.Fprintf(w, "  %v\n", res.Solution)
	}
}

func newSolveCmd(opts *globalOptions) *cobra.Command {
	var stats bool
	cmd := &cobra.Command{
		Use:   "solve PROBLEM",
		Short: "Find an optimal solution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.searchConfig()
			if err != nil {
				return err
			}
			m, reg, err := opts.metrics()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()
			res, err := runSolver(ctx, args[0], cfg, m)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), args[0], res)
			if stats {
				fmt.Fprintln(cmd.OutOrStdout(), res.Stats.String())
			}
			return opts.writeMetrics(reg)
		},
	}
	cmd.Flags().BoolVar(&stats, "stats", false, "print search statistics")
	return cmd
}

func newCountCmd(opts *globalOptions) *cobra.Command {
	var approximate bool
	cmd := &cobra.Command{
		Use:   "count PROBLEM",
		Short: "Count the solutions of cost zero",
		Long: `Count the assignments of cost zero. Unless --btd-mode is given the
count uses backtracking with tree decomposition (#BTD).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.searchConfig()
			if err != nil {
				return err
			}
			if !opts.flags.Changed("btd-mode") {
				cfg.BTDMode = 1
			}
			cfg.AllSolutions = true
			cfg.HBFS = false
			cfg.InitialUpperBound = 1
			cfg.ApproximateCounting = approximate
			ctx, cancel := signalContext(cmd)
			defer cancel()
			res, err := runSolver(ctx, args[0], cfg, nil)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), args[0], res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&approximate, "approximate", false, "estimate the count when the decomposition splits in parts")
	return cmd
}

func newDecomposeCmd(opts *globalOptions) *cobra.Command {
	var coveringOut string
	cmd := &cobra.Command{
		Use:   "decompose PROBLEM",
		Short: "Build and print the tree decomposition of a problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.searchConfig()
			if err != nil {
				return err
			}
			net, err := wcsp.LoadProblem(args[0])
			if err != nil {
				return err
			}
			dopts := cfg.Decomposition.Options
			dopts.Logger = log.StandardLogger()
			dopts.PathDecomposition = cfg.BTDMode == 3
			var t *td.TreeDecomposition
			if cfg.Decomposition.CoveringFile != "" {
				t, err = td.LoadCovering(net, cfg.Decomposition.CoveringFile, dopts)
			} else {
				t, err = td.New(net, dopts)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			t.PrintStats(out)
			t.Print(out)
			if coveringOut == "" {
				return nil
			}
			f, err := os.Create(coveringOut)
			if err != nil {
				return errors.Wrap(err, "creating covering file")
			}
			if err := t.WriteCovering(f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&coveringOut, "output", "o", "", "write the clusters as a covering file")
	return cmd
}

func newBatchCmd(opts *globalOptions) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "batch PROBLEM...",
		Short: "Solve many problems concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.searchConfig()
			if err != nil {
				return err
			}
			m, reg, err := opts.metrics()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			pool := parallel.NewWorkerPool(workers)
			defer pool.Shutdown()
			jobs := make([]parallel.Job[*search.Result], len(args))
			for i, path := range args {
				path := path
				jobs[i] = func(ctx context.Context) (*search.Result, error) {
					return runSolver(ctx, path, cfg, m)
				}
			}
			failed := 0
			for _, o := range parallel.RunBatch(ctx, pool, jobs) {
				if o.Err != nil {
					failed++
					log.WithError(o.Err).WithField("problem", args[o.Index]).Error("solve failed")
					continue
				}
				printResult(cmd.OutOrStdout(), args[o.Index], o.Result)
			}
			if err := opts.writeMetrics(reg); err != nil {
				return err
			}
			if failed > 0 {
				return errors.Errorf("%d of %d problems failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "concurrent solvers, 0 for one per CPU")
	return cmd
}

func newCompareCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare PROBLEM",
		Short: "Solve a problem with and without tree decomposition and compare",
		Long: `Solve the problem twice at the same time: with depth-first branch and
bound, and with the configured decomposition mode (BTD when none is given).
The command fails when both searches complete with different optima.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.searchConfig()
			if err != nil {
				return err
			}
			dfbb := cfg
			dfbb.BTDMode = 0
			btd := cfg
			if btd.BTDMode == 0 {
				btd.BTDMode = 1
			}
			btd.Restarts = 0

			ctx, cancel := signalContext(cmd)
			defer cancel()
			var results [2]*search.Result
			g, gctx := errgroup.WithContext(ctx)
			for i, c := range []search.SearchConfig{dfbb, btd} {
				i, c := i, c
				g.Go(func() error {
					res, err := runSolver(gctx, args[0], c, nil)
					results[i] = res
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-8s %-10s %8s %10s %10s %12s\n", "mode", "status", "cost", "nodes", "backtracks", "time")
			for i, res := range results {
				fmt.Fprintf(out, "%-8s %-10s %8s %10d %10d %12v\n",
					fmt.Sprintf("B%d", []int{dfbb.BTDMode, btd.BTDMode}[i]),
					res.Status, res.Cost, res.Stats.Nodes, res.Stats.Backtracks, res.Stats.SearchTime)
			}
			a, b := results[0], results[1]
			if a.Status != search.StatusLimited && b.Status != search.StatusLimited && a.Cost != b.Cost {
				return errors.Errorf("optima differ: %s without decomposition, %s with", a.Cost, b.Cost)
			}
			return nil
		},
	}
	return cmd
}
