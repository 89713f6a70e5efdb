package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nadzzz/macaria/internal/config"
	"github.com/nadzzz/macaria/internal/credential"
	"github.com/nadzzz/macaria/internal/dispatch"
	"github.com/nadzzz/macaria/internal/health"
	"github.com/nadzzz/macaria/internal/interpreter/fastpath"
	"github.com/nadzzz/macaria/internal/metrics"
	"github.com/nadzzz/macaria/internal/session"
	"github.com/nadzzz/macaria/internal/status"
	grpctransport "github.com/nadzzz/macaria/internal/transport/grpc"
	httptransport "github.com/nadzzz/macaria/internal/transport/http"
)

func newRunCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the voice-command daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), loader, cfg)
		},
	}

	f := cmd.Flags()
	f.String("recognizer-source", "lines", "transcript source: lines, mqtt, http or microphone")
	f.String("recognizer-lines-path", "-", "transcript file for the lines source (- for stdin)")
	f.String("session-wake-word", "macaria", "wake word that activates the session")
	f.Duration("session-idle-timeout", 20*time.Second, "inactivity window before suspending")
	f.Bool("tts-enabled", false, "enable spoken help")
	return cmd
}

func run(ctx context.Context, loader *config.Loader, cfg *config.Config) error {
	slog.Info("macaria starting", "version", version, "source", cfg.Recognizer.Source, "backend", cfg.Interpreter.Backend)

	// The daemon stops when the session loop ends, even without a signal.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	client, err := newMQTTClient(cfg.MQTT)
	if err != nil {
		return err
	}

	board := status.NewBoard()
	sinks := []status.Sink{board, status.NewLogSink(slog.Default())}
	var publisher *status.Publisher
	if client != nil {
		publisher = newPublisher(client, cfg.MQTT)
		sinks = append(sinks, publisher)
	}
	sink := status.NewFanout(sinks...)

	creds := credential.New(cfg.Credential, sink)
	classifier, err := newClassifier(cfg.Interpreter)
	if err != nil {
		return err
	}
	matcher := fastpath.New()
	pipeline := dispatch.New(matcher, creds, classifier)
	defer pipeline.Close()

	rec, injector, err := newRecognizer(cfg, client, creds)
	if err != nil {
		return err
	}

	announcer, err := newAnnouncer(cfg.TTS, creds, sink)
	if err != nil {
		return err
	}
	if announcer != nil {
		defer announcer.Close()
		announcer.SetWakeWord(cfg.Session.WakeWord)
	}

	machine := session.New(rec, pipeline, sink, session.OptionsFromConfig(cfg.Session))

	loader.Watch(func(next *config.Config) {
		reloadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := machine.Reconfigure(reloadCtx, session.Settings{
			WakeWord:    next.Session.WakeWord,
			IdleTimeout: next.Session.IdleTimeout,
		})
		if err != nil {
			slog.Warn("session settings not applied", "error", err)
			return
		}
		if announcer != nil {
			announcer.SetWakeWord(next.Session.WakeWord)
		}
	})

	healthServer := health.New(cfg.Server.HealthPort, metrics.Registry)
	var grpcServer *grpctransport.Server
	if cfg.Server.GRPCPort > 0 {
		grpcServer = grpctransport.New(cfg.Server.GRPCPort)
	}

	g, gctx := errgroup.WithContext(ctx)

	if client != nil {
		if err := client.Start(gctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			client.Disconnect(shutdownCtx)
		}()
		g.Go(func() error { return publisher.Run(gctx) })
	}

	g.Go(func() error { return healthServer.ListenAndServe(gctx) })

	if grpcServer != nil {
		g.Go(func() error { return grpcServer.Start(gctx) })
	}

	if cfg.HTTP.Enabled {
		deps := httptransport.Deps{
			Injector: machine,
			Status:   board,
			Session:  machine,
			Matcher:  matcher,
		}
		if injector != nil {
			deps.Injector = injector
		}
		if announcer != nil {
			deps.Explainer = announcer
		}
		api := httptransport.New(cfg.HTTP.Port, deps)
		g.Go(func() error { return api.ListenAndServe(gctx) })
	}

	g.Go(func() error {
		setReady(healthServer, grpcServer, true)
		defer setReady(healthServer, grpcServer, false)
		defer stop()

		err := machine.Run(gctx)
		if err != nil {
			return fmt.Errorf("session: %w", err)
		}
		slog.Info("session loop finished")
		return nil
	})

	slog.Info("macaria ready",
		"health_port", cfg.Server.HealthPort,
		"grpc_port", cfg.Server.GRPCPort,
		"http_enabled", cfg.HTTP.Enabled)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	slog.Info("macaria stopped")
	return err
}

func setReady(h *health.Server, g *grpctransport.Server, ready bool) {
	h.SetReady(ready)
	if g != nil {
		g.SetServing(ready)
	}
}
