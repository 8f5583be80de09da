// Command nonsense learns Markov chain models from chat messages and
// generates new sentences from them, either from the command line or as a
// long-running HTTP service.
package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

type rootOptions struct {
	configPath string
	verbose    bool
	stderr     io.Writer
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{stderr: os.Stderr}

	root := &cobra.Command{
		Use:          "nonsense",
		Short:        "Markov chain chatter: learn from messages, talk back",
		Version:      Version + " (" + Commit + ", " + BuildDate + ")",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.stderr = cmd.ErrOrStderr()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml", "path to the configuration file (.json, .yaml or .yml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newTrainCmd(opts),
		newGenerateCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newStatsCmd(opts),
		newPruneCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
