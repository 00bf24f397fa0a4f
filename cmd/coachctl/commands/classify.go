package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"coachmic/internal/config"
	"coachmic/internal/domain"
	"coachmic/internal/trigger"
)

type classifyOptions struct {
	confidence  float64
	final       bool
	backend     string
	aliasesPath string
	tuningPath  string
}

func newClassifyCommand() *cobra.Command {
	opts := classifyOptions{}
	cmd := &cobra.Command{
		Use:   "classify <utterance>",
		Short: "Show how an utterance would be classified",
		Long: `Run an utterance through aliases, normalization and the trigger parser.

Examples:
  coachctl classify "Let's go!"
  coachctl classify --backend platform --confidence 0.15 "go"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().Float64Var(&opts.confidence, "confidence", 0, "recognizer confidence (platform backend)")
	cmd.Flags().BoolVar(&opts.final, "final", false, "treat the result as final")
	cmd.Flags().StringVar(&opts.backend, "backend", config.BackendNative, "backend that produced the result (native|platform)")
	cmd.Flags().StringVar(&opts.aliasesPath, "aliases", "", "alias rules file")
	cmd.Flags().StringVar(&opts.tuningPath, "tuning", "", "tuning YAML file with a trigger section")
	return cmd
}

func runClassify(cmd *cobra.Command, text string, opts classifyOptions) error {
	backend := domain.Backend(strings.ToLower(opts.backend))
	if backend != domain.BackendNative && backend != domain.BackendPlatform {
		return fmt.Errorf("%w %q", config.ErrUnknownBackend, opts.backend)
	}

	fsys := afero.NewOsFs()
	aliases, err := trigger.LoadAliases(fsys, opts.aliasesPath)
	if err != nil {
		return err
	}
	tuning, err := config.LoadTuning(fsys, opts.tuningPath)
	if err != nil {
		return err
	}
	parser := trigger.NewParser(tuning.Trigger, aliases)

	event := parser.Parse(domain.Recognition{
		Text:       text,
		Confidence: opts.confidence,
		IsFinal:    opts.final || backend == domain.BackendNative,
		Backend:    backend,
	})

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, labelStyle.Render("utterance")+text)
	fmt.Fprintln(out, labelStyle.Render("normalized")+event.Text)
	fmt.Fprintln(out, labelStyle.Render("command")+commandStyle.Render(string(event.Kind)))
	return nil
}
