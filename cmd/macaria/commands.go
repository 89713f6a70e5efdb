package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/nadzzz/macaria/internal/credential"
	"github.com/nadzzz/macaria/internal/dispatch"
	"github.com/nadzzz/macaria/internal/interpreter/fastpath"
	"github.com/nadzzz/macaria/internal/message"
	"github.com/nadzzz/macaria/internal/status"
	"github.com/nadzzz/macaria/internal/textnorm"
	"github.com/nadzzz/macaria/internal/tts"
)

func newClassifyCommand(opts *options) *cobra.Command {
	var localOnly bool
	cmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Classify one utterance and print the resulting command",
		Long: `Classify runs the fast path and, on a miss, the remote classifier.
The wake word is not required.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			if localOnly {
				rule, ok := fastpath.New().Explain(textnorm.Normalize(text))
				if !ok {
					fmt.Fprintln(out, message.Unrecognized)
					return nil
				}
				fmt.Fprintf(out, "%s\t(local, rule %s)\n", rule.Command, rule.Name)
				return nil
			}

			_, cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			classifier, err := newClassifier(cfg.Interpreter)
			if err != nil {
				return err
			}
			pipeline := dispatch.New(nil, credential.New(cfg.Credential, nil), classifier)
			defer pipeline.Close()

			res := pipeline.Resolve(cmd.Context(), text)
			switch res.Path {
			case dispatch.PathLocal:
				fmt.Fprintf(out, "%s\t(local, rule %s)\n", res.Command, res.Rule)
			default:
				note := ""
				if res.CredentialMissing {
					note = ", no credential"
				}
				fmt.Fprintf(out, "%s\t(remote %s, %s%s)\n", res.Command, res.Backend, res.Latency.Round(time.Millisecond), note)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&localOnly, "local-only", false, "only run the fast path")
	return cmd
}

func newVocabCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vocab",
		Short: "List the command vocabulary and the fast-path rules",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			rules := make(map[message.Command][]string)
			for _, r := range fastpath.New().Rules() {
				rules[r.Command] = append(rules[r.Command], r.Name)
			}

			table := uitable.New()
			table.MaxColWidth = 60
			table.AddRow("LABEL", "TAG", "FAST PATH")
			for _, c := range message.Vocabulary() {
				table.AddRow(c, c.Tag(), strings.Join(rules[c], ", "))
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			fmt.Fprintf(cmd.OutOrStdout(), "\nnegation markers (fast path declines): %s\n",
				strings.Join(fastpath.NegationMarkers(), ", "))
		},
	}
}

func newExplainCommand(opts *options) *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Speak the usage help",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if printOnly {
				fmt.Fprintln(cmd.OutOrStdout(), tts.Explanation(cfg.Session.WakeWord))
				return nil
			}
			cfg.TTS.Enabled = true

			board := status.NewBoard()
			sink := status.NewFanout(board, status.NewLogSink(nil))
			announcer, err := newAnnouncer(cfg.TTS, credential.New(cfg.Credential, sink), sink)
			if err != nil {
				return err
			}
			defer announcer.Close()
			announcer.SetWakeWord(cfg.Session.WakeWord)

			if err := announcer.Explain(cmd.Context()); err != nil {
				return fmt.Errorf("%s: %w", board.Snapshot().Substatus, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), board.Snapshot().Substatus)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the help text instead of speaking it")
	cmd.Flags().String("tts-backend", "openai", "speech backend: openai or piper")
	return cmd
}
