// Command btdsolve solves weighted constraint satisfaction problems given
// as YAML files with depth-first branch and bound, backtracking with tree
// decomposition, Russian doll search or solution counting.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "btdsolve",
		Short:         "Weighted CSP solver with tree decomposition and hybrid best-first search",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogging()
		},
	}
	opts.bind(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newSolveCmd(opts),
		newCountCmd(opts),
		newDecomposeCmd(opts),
		newBatchCmd(opts),
		newCompareCmd(opts),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("btdsolve failed")
		os.Exit(1)
	}
}
