// Package config handles loading and validating the macaria configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root configuration for the macaria daemon.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Session     SessionConfig     `mapstructure:"session"`
	Recognizer  RecognizerConfig  `mapstructure:"recognizer"`
	Credential  CredentialConfig  `mapstructure:"credential"`
	Interpreter InterpreterConfig `mapstructure:"interpreter"`
	TTS         TTSConfig         `mapstructure:"tts"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the health check and gRPC health settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
	GRPCPort   int `mapstructure:"grpc_port"` // 0 disables the gRPC health service
}

// SessionConfig drives the interaction state machine.
type SessionConfig struct {
	WakeWord         string        `mapstructure:"wake_word"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	RestartDelay     time.Duration `mapstructure:"restart_delay"`
	DropStaleResults bool          `mapstructure:"drop_stale_results"`
}

// RecognizerConfig selects the speech-to-text source.
type RecognizerConfig struct {
	Source     string           `mapstructure:"source"` // "lines", "mqtt", "http", "microphone"
	Lines      LinesConfig      `mapstructure:"lines"`
	Microphone MicrophoneConfig `mapstructure:"microphone"`
}

// LinesConfig reads finalized transcripts one per line.
type LinesConfig struct {
	Path string `mapstructure:"path"` // "-" or empty for stdin
}

// MicrophoneConfig drives PulseAudio capture and Whisper transcription.
type MicrophoneConfig struct {
	Device           string        `mapstructure:"device"`
	Endpoint         string        `mapstructure:"endpoint"`
	Model            string        `mapstructure:"model"`
	Language         string        `mapstructure:"language"` // ISO-639-1
	SpeechThreshold  float64       `mapstructure:"speech_threshold"`
	SilenceThreshold float64       `mapstructure:"silence_threshold"`
	SilenceHold      time.Duration `mapstructure:"silence_hold"`
	MaxUtterance     time.Duration `mapstructure:"max_utterance"`
}

// CredentialConfig describes where the classification credential comes from.
type CredentialConfig struct {
	APIKey    string        `mapstructure:"api_key"`    // static key, skips the lookup
	LookupURL string        `mapstructure:"lookup_url"` // remote record store
	Fields    []string      `mapstructure:"fields"`     // secret field names, first match wins
	Timeout   time.Duration `mapstructure:"timeout"`
}

// InterpreterConfig selects and configures the remote classifier backend.
type InterpreterConfig struct {
	Backend string        `mapstructure:"backend"` // "openai" or "local"
	Timeout time.Duration `mapstructure:"timeout"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Local   LocalConfig   `mapstructure:"local"`
}

// OpenAIConfig holds OpenAI Responses API settings.
type OpenAIConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

// LocalConfig holds self-hosted LLM settings.
type LocalConfig struct {
	Endpoint          string `mapstructure:"endpoint"` // /v1/chat/completions or Ollama /api/generate
	Model             string `mapstructure:"model"`
	RequireCredential bool   `mapstructure:"require_credential"`
}

// TTSConfig selects and configures the text-to-speech backend.
type TTSConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Backend string       `mapstructure:"backend"` // "openai" or "piper"
	Locale  string       `mapstructure:"locale"`
	Gender  string       `mapstructure:"gender"` // preferred voice gender: "female", "male", ""
	Voice   string       `mapstructure:"voice"`  // explicit voice, skips selection
	Rate    float64      `mapstructure:"rate"`
	Pitch   float64      `mapstructure:"pitch"`
	OpenAI  OpenAITTS    `mapstructure:"openai"`
	Piper   PiperConfig  `mapstructure:"piper"`
	Player  PlayerConfig `mapstructure:"player"`
}

// OpenAITTS holds OpenAI speech synthesis settings.
type OpenAITTS struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
	Voice    string `mapstructure:"voice"`
}

// PiperConfig holds Piper TTS settings (Wyoming protocol).
//
// For a single Piper instance that serves all locales, set Endpoint.
// Endpoints maps a language code to a dedicated instance and takes
// precedence when it has an entry for the requested locale.
type PiperConfig struct {
	Endpoint  string            `mapstructure:"endpoint"`
	Endpoints map[string]string `mapstructure:"endpoints"`
	Voices    map[string]string `mapstructure:"voices"` // language code -> voice model override
}

// PlayerConfig configures audio playback of synthesized speech.
type PlayerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MQTTConfig configures the broker connection shared by the MQTT recognizer
// and the command publisher.
type MQTTConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Broker          string `mapstructure:"broker"`
	ClientID        string `mapstructure:"client_id"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	TranscriptTopic string `mapstructure:"transcript_topic"`
	CommandTopic    string `mapstructure:"command_topic"`
	StatusTopic     string `mapstructure:"status_topic"`
	QoS             int    `mapstructure:"qos"`
}

// HTTPConfig configures the HTTP control API.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Loader owns the viper instance so the configuration can be re-read when
// the file changes.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares defaults, the config file search order and environment
// overrides. If configFile is non-empty it is used directly; otherwise the
// standard search order applies: ./macaria.yaml, ./configs/macaria.yaml,
// /etc/macaria/macaria.yaml.
func NewLoader(configFile string) *Loader {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("macaria")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/macaria")
	}

	// Environment variables: MACARIA_SESSION_WAKE_WORD, MACARIA_INTERPRETER_BACKEND, etc.
	v.SetEnvPrefix("MACARIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("session.wake_word", "macaria")
	v.SetDefault("session.idle_timeout", 20*time.Second)
	v.SetDefault("session.restart_delay", time.Duration(0))
	v.SetDefault("session.drop_stale_results", true)
	v.SetDefault("recognizer.source", "lines")
	v.SetDefault("recognizer.lines.path", "-")
	v.SetDefault("recognizer.microphone.endpoint", "https://api.openai.com/v1/audio/transcriptions")
	v.SetDefault("recognizer.microphone.model", "gpt-4o-transcribe")
	v.SetDefault("recognizer.microphone.language", "es")
	v.SetDefault("recognizer.microphone.speech_threshold", 0.015)
	v.SetDefault("recognizer.microphone.silence_threshold", 0.008)
	v.SetDefault("recognizer.microphone.silence_hold", 700*time.Millisecond)
	v.SetDefault("recognizer.microphone.max_utterance", 15*time.Second)
	v.SetDefault("credential.lookup_url", "")
	v.SetDefault("credential.fields", []string{"apikey", "apiKey"})
	v.SetDefault("credential.timeout", 10*time.Second)
	v.SetDefault("interpreter.backend", "openai")
	v.SetDefault("interpreter.timeout", 15*time.Second)
	v.SetDefault("interpreter.openai.endpoint", "https://api.openai.com/v1/responses")
	v.SetDefault("interpreter.openai.model", "gpt-4o-mini")
	v.SetDefault("interpreter.local.endpoint", "http://localhost:11434/v1/chat/completions")
	v.SetDefault("interpreter.local.model", "llama3")
	v.SetDefault("interpreter.local.require_credential", true)
	v.SetDefault("tts.enabled", false)
	v.SetDefault("tts.backend", "openai")
	v.SetDefault("tts.locale", "es-MX")
	v.SetDefault("tts.gender", "female")
	v.SetDefault("tts.rate", 1.0)
	v.SetDefault("tts.pitch", 1.0)
	v.SetDefault("tts.openai.endpoint", "https://api.openai.com/v1/audio/speech")
	v.SetDefault("tts.openai.model", "gpt-4o-mini-tts")
	v.SetDefault("tts.openai.voice", "shimmer")
	v.SetDefault("tts.piper.endpoint", "localhost:10200")
	v.SetDefault("tts.player.enabled", true)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "macaria")
	v.SetDefault("mqtt.transcript_topic", "macaria/transcripts")
	v.SetDefault("mqtt.command_topic", "macaria/commands")
	v.SetDefault("mqtt.status_topic", "macaria/status")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// BindFlags lets command-line flags override file and environment values.
// Flags are matched to viper keys with dots and underscores spelled as
// dashes (e.g. --session-wake-word for session.wake_word).
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	keys := make(map[string]string)
	for _, k := range l.v.AllKeys() {
		keys[flagName(k)] = k
	}

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := keys[f.Name]
		if !ok {
			return
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("binding flag %q: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

func flagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

// Load reads the configuration file (optional: env vars and defaults are
// sufficient), unmarshals and validates it.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", l.v.ConfigFileUsed())
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${OPENAI_API_KEY}")
	cfg.Credential.APIKey = resolveEnvRef(cfg.Credential.APIKey)
	cfg.Credential.LookupURL = resolveEnvRef(cfg.Credential.LookupURL)
	cfg.MQTT.Password = resolveEnvRef(cfg.MQTT.Password)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch re-reads the config file whenever it changes and hands the new
// configuration to fn. Invalid files are logged and skipped. Watch is a
// no-op when no config file was found.
func (l *Loader) Watch(fn func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			slog.Warn("ignoring invalid config change", "path", e.Name, "error", err)
			return
		}
		slog.Info("config reloaded", "path", e.Name)
		fn(cfg)
	})
	l.v.WatchConfig()
}

// Load is a convenience for one-shot commands that never watch the file.
func Load(configFile string) (*Config, error) {
	return NewLoader(configFile).Load()
}

// Validate checks values that would otherwise fail far from their source.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Session.WakeWord) == "" {
		errs = append(errs, errors.New("session.wake_word must not be empty"))
	}
	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout must be positive, got %s", c.Session.IdleTimeout))
	}
	if c.Session.RestartDelay < 0 {
		errs = append(errs, fmt.Errorf("session.restart_delay must not be negative, got %s", c.Session.RestartDelay))
	}

	switch c.Recognizer.Source {
	case "lines", "http", "microphone":
	case "mqtt":
		if !c.MQTT.Enabled {
			errs = append(errs, errors.New("recognizer.source mqtt requires mqtt.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown recognizer.source %q", c.Recognizer.Source))
	}
	if c.Recognizer.Source == "http" && !c.HTTP.Enabled {
		errs = append(errs, errors.New("recognizer.source http requires http.enabled"))
	}

	switch c.Interpreter.Backend {
	case "openai", "local":
	default:
		errs = append(errs, fmt.Errorf("unknown interpreter.backend %q", c.Interpreter.Backend))
	}

	if c.TTS.Enabled {
		switch c.TTS.Backend {
		case "openai", "piper":
		default:
			errs = append(errs, fmt.Errorf("unknown tts.backend %q", c.TTS.Backend))
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}

	return errors.Join(errs...)
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
// A reference to an unset variable resolves to "" so it reads as absent.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		return os.Getenv(val[2 : len(val)-1])
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
