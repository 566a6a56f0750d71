package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/yvan/internal/app"
	"github.com/hyperjump/yvan/internal/cli"
	"github.com/hyperjump/yvan/internal/models"
)

func newAskCmd(opts *options) *cobra.Command {
	var diagnose bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Long: `Answers a question from the indexed documents and lists the source files the
answer was built from. The question is all arguments joined by spaces, so quoting
is optional. With --diagnose the text is read as a description of symptoms and
the answer follows the diagnosis outline.`,
		Example: `  yvan ask đau đầu do phong hàn
  yvan ask --diagnose "mất ngủ, hay quên, hồi hộp"
  yvan ask --server "" --output json "Quy tỳ thang"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := opts.format()
			if err != nil {
				return err
			}
			question := buildQuestion(args)
			if question == "" {
				return errors.New("question is empty")
			}

			var ans *models.Answer
			if opts.serverURL != "" {
				c := opts.client()
				if diagnose {
					ans, err = c.Diagnose(cmd.Context(), question)
				} else {
					ans, err = c.Ask(cmd.Context(), question)
				}
			} else {
				a, _, cleanup, openErr := opts.openApp(app.WithWatch(false), app.WithBootstrap(false))
				if openErr != nil {
					return openErr
				}
				defer cleanup()
				if diagnose {
					ans, err = a.Diagnose(cmd.Context(), question)
				} else {
					ans, err = a.AnswerQuestion(cmd.Context(), question)
				}
			}
			if err != nil {
				return err
			}
			return cli.WriteAnswer(cmd.OutOrStdout(), question, ans, format)
		},
	}
	cmd.Flags().BoolVar(&diagnose, "diagnose", false, "treat the text as symptoms and answer with a diagnosis")
	return cmd
}

// buildQuestion joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
