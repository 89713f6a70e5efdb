// Macaria is a Spanish voice-command front-end. It listens for transcripts,
// waits for the wake word and maps each order to a closed vocabulary of
// motion commands.
//
// Usage:
//
//	macaria run [flags]
//	macaria classify "Macaria, gira a la derecha"
//	macaria vocab
//	macaria explain
//	macaria version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nadzzz/macaria/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// options are the persistent flags shared by every command.
type options struct {
	configFile string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("macaria failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "macaria",
		Short:         "Voice-command front-end with a closed Spanish vocabulary",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "path to config file (e.g. configs/macaria.yaml)")
	pf.String("logging-level", "info", "log level: debug, info, warn, error")
	pf.String("logging-format", "json", "log format: json or text")
	pf.String("interpreter-backend", "openai", "remote classifier backend: openai or local")

	root.AddCommand(
		newRunCommand(opts),
		newClassifyCommand(opts),
		newVocabCommand(),
		newExplainCommand(opts),
		newVersionCommand(),
	)
	return root
}

// load reads the configuration with the command's flags layered on top and
// sets up logging.
func (o *options) load(cmd *cobra.Command) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(o.configFile)
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	config.SetupLogging(cfg.Logging)
	return loader, cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "macaria %s\n", version)
		},
	}
}
