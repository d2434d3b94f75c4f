package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Synth      SynthConfig      `mapstructure:"synth"`
	Generate   GenerateConfig   `mapstructure:"generate"`
	Transcribe TranscribeConfig `mapstructure:"transcribe"`
	Bus        BusConfig        `mapstructure:"bus"`
	History    HistoryConfig    `mapstructure:"history"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

type PathsConfig struct {
	BundleManifest string `mapstructure:"bundle_manifest"`
	EngineParams   string `mapstructure:"engine_params"`
	VocabTable     string `mapstructure:"vocab_table"`
	VoicesDir      string `mapstructure:"voices_dir"`
}

type RuntimeConfig struct {
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTAPIVersion  uint32 `mapstructure:"ort_api_version"`
}

type SynthConfig struct {
	Voice       string  `mapstructure:"voice"`
	Rate        float64 `mapstructure:"rate"`
	RefineSteps int     `mapstructure:"refine_steps"`
	FallbackCLI string  `mapstructure:"fallback_cli"`
}

type GenerateConfig struct {
	Endpoint         string  `mapstructure:"endpoint"`
	Model            string  `mapstructure:"model"`
	SystemPrompt     string  `mapstructure:"system_prompt"`
	Temperature      float64 `mapstructure:"temperature"`
	MaxReplyTokens   int     `mapstructure:"max_reply_tokens"`
	MaxHistoryTokens int     `mapstructure:"max_history_tokens"`
	TokenizerModel   string  `mapstructure:"tokenizer_model"`
}

type TranscribeConfig struct {
	Language  string `mapstructure:"language"`
	MinLength int    `mapstructure:"min_length"`
}

type BusConfig struct {
	Embedded       bool     `mapstructure:"embedded"`
	Port           int      `mapstructure:"port"`
	Servers        []string `mapstructure:"servers"`
	ConnectTimeout int      `mapstructure:"connect_timeout_ms"`
}

type HistoryConfig struct {
	Path          string `mapstructure:"path"`
	RetentionMode string `mapstructure:"retention_mode"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Paths: PathsConfig{
			BundleManifest: "models/manifest.json",
			EngineParams:   "models/engine.json",
			VocabTable:     "models/vocab.json",
			VoicesDir:      "models/voices",
		},
		Runtime: RuntimeConfig{
			ORTLibraryPath: "",
			ORTAPIVersion:  0,
		},
		Synth: SynthConfig{
			Voice:       "M3",
			Rate:        1.0,
			RefineSteps: 10,
			FallbackCLI: "",
		},
		Generate: GenerateConfig{
			Endpoint:         "http://127.0.0.1:11434",
			Model:            "llama3.2:latest",
			SystemPrompt:     "You are a concise voice assistant. Answer in one or two short sentences.",
			Temperature:      0.7,
			MaxReplyTokens:   256,
			MaxHistoryTokens: 2048,
			TokenizerModel:   "",
		},
		Transcribe: TranscribeConfig{
			Language:  "en",
			MinLength: 2,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://127.0.0.1:4222"},
			ConnectTimeout: 2000,
		},
		History: HistoryConfig{
			Path:          "data/history.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "",
			OTLPInsecure: false,
			MetricsAddr:  "",
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("paths-bundle-manifest", defaults.Paths.BundleManifest, "Path to model bundle manifest JSON")
	fs.String("paths-engine-params", defaults.Paths.EngineParams, "Path to engine params JSON")
	fs.String("paths-vocab-table", defaults.Paths.VocabTable, "Path to character vocabulary JSON")
	fs.String("paths-voices-dir", defaults.Paths.VoicesDir, "Directory containing per-voice JSON files")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("synth-voice", defaults.Synth.Voice, "Default voice id")
	fs.Float64("synth-rate", defaults.Synth.Rate, "Speech rate factor (>1 slows, <1 speeds)")
	fs.Int("synth-refine-steps", defaults.Synth.RefineSteps, "Latent refinement step count")
	fs.String("generate-endpoint", defaults.Generate.Endpoint, "Generation runtime endpoint")
	fs.String("generate-model", defaults.Generate.Model, "Generation model name")
	fs.Bool("bus-embedded", defaults.Bus.Embedded, "Run an embedded NATS server")
	fs.Int("bus-port", defaults.Bus.Port, "Embedded NATS server port")
	fs.String("history-path", defaults.History.Path, "Turn history database path")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("MORTI")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "MORTI_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("morti")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("paths.bundle_manifest", c.Paths.BundleManifest)
	v.SetDefault("paths.engine_params", c.Paths.EngineParams)
	v.SetDefault("paths.vocab_table", c.Paths.VocabTable)
	v.SetDefault("paths.voices_dir", c.Paths.VoicesDir)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_api_version", c.Runtime.ORTAPIVersion)
	v.SetDefault("synth.voice", c.Synth.Voice)
	v.SetDefault("synth.rate", c.Synth.Rate)
	v.SetDefault("synth.refine_steps", c.Synth.RefineSteps)
	v.SetDefault("synth.fallback_cli", c.Synth.FallbackCLI)
	v.SetDefault("generate.endpoint", c.Generate.Endpoint)
	v.SetDefault("generate.model", c.Generate.Model)
	v.SetDefault("generate.system_prompt", c.Generate.SystemPrompt)
	v.SetDefault("generate.temperature", c.Generate.Temperature)
	v.SetDefault("generate.max_reply_tokens", c.Generate.MaxReplyTokens)
	v.SetDefault("generate.max_history_tokens", c.Generate.MaxHistoryTokens)
	v.SetDefault("generate.tokenizer_model", c.Generate.TokenizerModel)
	v.SetDefault("transcribe.language", c.Transcribe.Language)
	v.SetDefault("transcribe.min_length", c.Transcribe.MinLength)
	v.SetDefault("bus.embedded", c.Bus.Embedded)
	v.SetDefault("bus.port", c.Bus.Port)
	v.SetDefault("bus.servers", c.Bus.Servers)
	v.SetDefault("bus.connect_timeout_ms", c.Bus.ConnectTimeout)
	v.SetDefault("history.path", c.History.Path)
	v.SetDefault("history.retention_mode", c.History.RetentionMode)
	v.SetDefault("history.retention_days", c.History.RetentionDays)
	v.SetDefault("telemetry.otlp_endpoint", c.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.otlp_insecure", c.Telemetry.OTLPInsecure)
	v.SetDefault("telemetry.metrics_addr", c.Telemetry.MetricsAddr)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("log_level", "log-level")
	v.RegisterAlias("paths.bundle_manifest", "paths-bundle-manifest")
	v.RegisterAlias("paths.engine_params", "paths-engine-params")
	v.RegisterAlias("paths.vocab_table", "paths-vocab-table")
	v.RegisterAlias("paths.voices_dir", "paths-voices-dir")
	v.RegisterAlias("runtime.ort_library_path", "runtime-ort-library-path")
	v.RegisterAlias("runtime.ort_library_path", "ort-lib")
	v.RegisterAlias("synth.voice", "synth-voice")
	v.RegisterAlias("synth.rate", "synth-rate")
	v.RegisterAlias("synth.refine_steps", "synth-refine-steps")
	v.RegisterAlias("generate.endpoint", "generate-endpoint")
	v.RegisterAlias("generate.model", "generate-model")
	v.RegisterAlias("bus.embedded", "bus-embedded")
	v.RegisterAlias("bus.port", "bus-port")
	v.RegisterAlias("history.path", "history-path")
}
