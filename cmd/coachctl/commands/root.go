package commands

import (
	"github.com/spf13/cobra"

	"coachmic/internal/logger"
)

var verbose bool

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "coachctl",
		Short: "Voice coaching coordinator tools",
		Long: `coachctl drives the coachmic voice coordinator without the desktop shell.

Configuration comes from the same COACHMIC_* and DEEPGRAM_* environment
variables (and optional .env / tuning.yaml) as the app.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetVerbose(true)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(newListenCommand())
	root.AddCommand(newClassifyCommand())
	root.AddCommand(newBackoffCommand())
	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCommand().Execute()
}
