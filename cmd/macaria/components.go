package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/nadzzz/macaria/internal/audio"
	"github.com/nadzzz/macaria/internal/config"
	"github.com/nadzzz/macaria/internal/credential"
	"github.com/nadzzz/macaria/internal/interpreter"
	localinterp "github.com/nadzzz/macaria/internal/interpreter/local"
	openaiinterp "github.com/nadzzz/macaria/internal/interpreter/openai"
	"github.com/nadzzz/macaria/internal/message"
	"github.com/nadzzz/macaria/internal/mqtt"
	"github.com/nadzzz/macaria/internal/recognizer"
	"github.com/nadzzz/macaria/internal/recognizer/inject"
	"github.com/nadzzz/macaria/internal/recognizer/lines"
	"github.com/nadzzz/macaria/internal/recognizer/microphone"
	mqttrec "github.com/nadzzz/macaria/internal/recognizer/mqtt"
	"github.com/nadzzz/macaria/internal/status"
	"github.com/nadzzz/macaria/internal/tts"
	openaitts "github.com/nadzzz/macaria/internal/tts/openai"
	"github.com/nadzzz/macaria/internal/tts/piper"
)

// newClassifier initializes the remote classifier backend.
func newClassifier(cfg config.InterpreterConfig) (interpreter.Classifier, error) {
	switch cfg.Backend {
	case "openai":
		slog.Info("using OpenAI classifier", "model", cfg.OpenAI.Model)
		return openaiinterp.New(cfg.OpenAI, cfg.Timeout), nil
	case "local":
		slog.Info("using local classifier", "endpoint", cfg.Local.Endpoint, "model", cfg.Local.Model)
		return localinterp.New(cfg.Local, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown interpreter backend %q", cfg.Backend)
	}
}

// newMQTTClient returns nil when MQTT is disabled.
func newMQTTClient(cfg config.MQTTConfig) (mqtt.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return mqtt.NewClient(mqtt.Config{
		BrokerURL: cfg.Broker,
		ClientID:  cfg.ClientID,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
}

// newPublisher mirrors status onto the broker.
func newPublisher(client mqtt.Client, cfg config.MQTTConfig) *status.Publisher {
	return status.NewPublisher(client, status.PublisherConfig{
		CommandTopic: cfg.CommandTopic,
		StatusTopic:  cfg.StatusTopic,
		QoS:          cfg.QoS,
		TagOf: func(label string) string {
			return message.Command(label).Tag()
		},
	})
}

// newRecognizer selects the transcript source. The inject recognizer is
// returned separately so the HTTP API can feed it.
func newRecognizer(cfg *config.Config, client mqtt.Client, creds credential.Source) (recognizer.Recognizer, *inject.Recognizer, error) {
	switch cfg.Recognizer.Source {
	case "lines":
		return lines.New(afero.NewOsFs(), cfg.Recognizer.Lines.Path, os.Stdin), nil, nil
	case "mqtt":
		if client == nil {
			return nil, nil, fmt.Errorf("recognizer source mqtt requires mqtt.enabled")
		}
		return mqttrec.New(client, cfg.MQTT.TranscriptTopic, cfg.MQTT.QoS), nil, nil
	case "http":
		rec := inject.New(16)
		return rec, rec, nil
	case "microphone":
		mic := cfg.Recognizer.Microphone
		transcriber := microphone.NewWhisperClient(mic.Endpoint, mic.Model, mic.Language, creds, cfg.Interpreter.Timeout)
		return microphone.New(mic, microphone.PulseSource{Device: mic.Device}, transcriber), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown recognizer source %q", cfg.Recognizer.Source)
	}
}

// newAnnouncer returns nil when speech synthesis is disabled.
func newAnnouncer(cfg config.TTSConfig, creds credential.Source, reporter tts.Reporter) (*tts.Announcer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var synth tts.Synthesizer
	switch cfg.Backend {
	case "openai":
		synth = openaitts.New(cfg, creds, 0)
	case "piper":
		synth = piper.New(cfg)
	default:
		return nil, fmt.Errorf("unknown tts backend %q", cfg.Backend)
	}

	var player audio.Player
	if cfg.Player.Enabled {
		player = audio.NewPulsePlayer()
	}
	slog.Info("speech synthesis enabled", "backend", synth.Name(), "locale", cfg.Locale, "playback", player != nil)
	return tts.NewAnnouncer(synth, player, reporter, cfg), nil
}
