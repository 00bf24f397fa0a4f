package commands

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"coachmic/internal/config"
	"coachmic/internal/usecase"
)

func newBackoffCommand() *cobra.Command {
	var tuningPath string
	cmd := &cobra.Command{
		Use:   "backoff",
		Short: "Print the listen retry schedule",
		Long: `Print the delay before each automatic listen retry and where the
coordinator gives up and reports speech as unavailable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tuning, err := config.LoadTuning(afero.NewOsFs(), tuningPath)
			if err != nil {
				return err
			}
			policy := usecase.DefaultRetryPolicy()
			if tuning.Retry.Base > 0 {
				policy.Base = tuning.Retry.Base
			}
			if tuning.Retry.Factor >= 1 {
				policy.Factor = tuning.Retry.Factor
			}
			if tuning.Retry.MaxJitter > 0 {
				policy.MaxJitter = tuning.Retry.MaxJitter
			}
			if tuning.Retry.MaxRetries > 0 {
				policy.MaxRetries = tuning.Retry.MaxRetries
			}
			printSchedule(cmd, policy)
			return nil
		},
	}
	cmd.Flags().StringVar(&tuningPath, "tuning", "", "tuning YAML file with a retry section")
	return cmd
}

func printSchedule(cmd *cobra.Command, policy usecase.RetryPolicy) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%-8s %-12s %s", "retry", "min", "max")))
	for n := 1; ; n++ {
		if policy.Exhausted(n) {
			fmt.Fprintf(out, "%-8d %s\n", n, errorStyle.Render("unavailable"))
			return
		}
		base := policy.BaseDelay(n)
		fmt.Fprintf(out, "%-8d %-12s %s\n", n, base, base+policy.MaxJitter)
	}
}
