package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName   string              `yaml:"runtime_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Bus           BusConfig           `yaml:"bus"`
	Devices       DevicesConfig       `yaml:"devices"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Cleanup       CleanupConfig       `yaml:"cleanup"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	History       HistoryConfig       `yaml:"history"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// DevicesConfig describes how the daemon talks to the OS audio subsystem.
// In exec mode the three commands are the device boundary: list_command must
// print a JSON array of device descriptors, play_command consumes raw 16-bit
// little-endian PCM on stdin, record_command produces it on stdout. The
// placeholders {device}, {rate} and {channels} are substituted before a
// command is run.
type DevicesConfig struct {
	Mode          string `yaml:"mode"` // mock, exec
	ListCommand   string `yaml:"list_command"`
	PlayCommand   string `yaml:"play_command"`
	RecordCommand string `yaml:"record_command"`
}

type SynthesisConfig struct {
	Voice        string `yaml:"voice"`
	SampleRate   int    `yaml:"sample_rate"`
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	TimeoutMS    int    `yaml:"timeout_ms"`
	LocalMode    string `yaml:"local_mode"` // mock, exec
	LocalCommand string `yaml:"local_command"`
}

type TranscriptionConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, exec, server
	Command    string `yaml:"command"`
	ServerURL  string `yaml:"server_url"`
	ModelPath  string `yaml:"model_path"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type CleanupConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type PipelineConfig struct {
	Supersede      string   `yaml:"supersede"` // drop, replace
	Targets        []string `yaml:"targets"`
	RecordSeconds  int      `yaml:"record_seconds"`
	StageTimeoutMS int      `yaml:"stage_timeout_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "vmic-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Devices: DevicesConfig{
			Mode: "mock",
		},
		Synthesis: SynthesisConfig{
			Voice:      "alloy",
			SampleRate: 24000,
			Endpoint:   "https://api.openai.com",
			Model:      "tts-1",
			TimeoutMS:  30000,
			LocalMode:  "mock",
		},
		Transcription: TranscriptionConfig{
			Enabled:    false,
			Mode:       "mock",
			Language:   "en",
			SampleRate: 16000,
			Channels:   1,
		},
		Cleanup: CleanupConfig{
			Enabled:   false,
			Endpoint:  "http://localhost:8010",
			Language:  "en-US",
			TimeoutMS: 10000,
		},
		Pipeline: PipelineConfig{
			Supersede:      "drop",
			Targets:        nil,
			RecordSeconds:  5,
			StageTimeoutMS: 45000,
		},
		History: HistoryConfig{
			Path:          "./data/vmic-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRuns:       10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VMIC_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VMIC_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VMIC_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VMIC_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VMIC_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VMIC_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VMIC_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "VMIC_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VMIC_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VMIC_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VMIC_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VMIC_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VMIC_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VMIC_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VMIC_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Devices.Mode, "VMIC_DEVICES_MODE")
	overrideString(&cfg.Devices.ListCommand, "VMIC_DEVICES_LIST_COMMAND")
	overrideString(&cfg.Devices.PlayCommand, "VMIC_DEVICES_PLAY_COMMAND")
	overrideString(&cfg.Devices.RecordCommand, "VMIC_DEVICES_RECORD_COMMAND")
	overrideString(&cfg.Synthesis.Voice, "VMIC_SYNTHESIS_VOICE")
	overrideInt(&cfg.Synthesis.SampleRate, "VMIC_SYNTHESIS_SAMPLE_RATE")
	overrideString(&cfg.Synthesis.Endpoint, "VMIC_SYNTHESIS_ENDPOINT")
	overrideString(&cfg.Synthesis.Model, "VMIC_SYNTHESIS_MODEL")
	overrideString(&cfg.Synthesis.APIKey, "VMIC_SYNTHESIS_API_KEY")
	overrideInt(&cfg.Synthesis.TimeoutMS, "VMIC_SYNTHESIS_TIMEOUT_MS")
	overrideString(&cfg.Synthesis.LocalMode, "VMIC_SYNTHESIS_LOCAL_MODE")
	overrideString(&cfg.Synthesis.LocalCommand, "VMIC_SYNTHESIS_LOCAL_COMMAND")
	overrideBool(&cfg.Transcription.Enabled, "VMIC_TRANSCRIPTION_ENABLED")
	overrideString(&cfg.Transcription.Mode, "VMIC_TRANSCRIPTION_MODE")
	overrideString(&cfg.Transcription.Command, "VMIC_TRANSCRIPTION_COMMAND")
	overrideString(&cfg.Transcription.ServerURL, "VMIC_TRANSCRIPTION_SERVER_URL")
	overrideString(&cfg.Transcription.ModelPath, "VMIC_TRANSCRIPTION_MODEL_PATH")
	overrideString(&cfg.Transcription.Language, "VMIC_TRANSCRIPTION_LANGUAGE")
	overrideInt(&cfg.Transcription.SampleRate, "VMIC_TRANSCRIPTION_SAMPLE_RATE")
	overrideInt(&cfg.Transcription.Channels, "VMIC_TRANSCRIPTION_CHANNELS")
	overrideBool(&cfg.Cleanup.Enabled, "VMIC_CLEANUP_ENABLED")
	overrideString(&cfg.Cleanup.Endpoint, "VMIC_CLEANUP_ENDPOINT")
	overrideString(&cfg.Cleanup.Language, "VMIC_CLEANUP_LANGUAGE")
	overrideInt(&cfg.Cleanup.TimeoutMS, "VMIC_CLEANUP_TIMEOUT_MS")
	overrideString(&cfg.Pipeline.Supersede, "VMIC_PIPELINE_SUPERSEDE")
	overrideStringSlice(&cfg.Pipeline.Targets, "VMIC_PIPELINE_TARGETS")
	overrideInt(&cfg.Pipeline.RecordSeconds, "VMIC_PIPELINE_RECORD_SECONDS")
	overrideInt(&cfg.Pipeline.StageTimeoutMS, "VMIC_PIPELINE_STAGE_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "VMIC_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "VMIC_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "VMIC_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxRuns, "VMIC_HISTORY_MAX_RUNS")
	overrideBool(&cfg.History.VacuumOnStart, "VMIC_HISTORY_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Devices.Mode {
	case "mock":
	case "exec":
		if cfg.Devices.ListCommand == "" {
			return errors.New("devices.list_command must be set when mode=exec")
		}
		if cfg.Devices.PlayCommand == "" {
			return errors.New("devices.play_command must be set when mode=exec")
		}
	default:
		return errors.New("devices.mode must be one of mock|exec")
	}
	if cfg.Synthesis.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	switch cfg.Synthesis.LocalMode {
	case "mock":
	case "exec":
		if cfg.Synthesis.LocalCommand == "" {
			return errors.New("synthesis.local_command must be set when local_mode=exec")
		}
	default:
		return errors.New("synthesis.local_mode must be one of mock|exec")
	}
	if cfg.Synthesis.APIKey != "" {
		if cfg.Synthesis.Endpoint == "" {
			return errors.New("synthesis.endpoint must be set when an api key is configured")
		}
		if cfg.Synthesis.Model == "" {
			return errors.New("synthesis.model must be set when an api key is configured")
		}
	}
	if cfg.Transcription.Enabled {
		switch cfg.Transcription.Mode {
		case "mock":
		case "exec":
			if cfg.Transcription.Command == "" {
				return errors.New("transcription.command must be set when mode=exec")
			}
		case "server":
			if cfg.Transcription.ServerURL == "" {
				return errors.New("transcription.server_url must be set when mode=server")
			}
		default:
			return errors.New("transcription.mode must be one of mock|exec|server")
		}
		if cfg.Transcription.SampleRate <= 0 {
			return errors.New("transcription.sample_rate must be positive")
		}
		if cfg.Transcription.Channels <= 0 {
			return errors.New("transcription.channels must be positive")
		}
		if cfg.Devices.Mode == "exec" && cfg.Devices.RecordCommand == "" {
			return errors.New("devices.record_command must be set when transcription is enabled and devices.mode=exec")
		}
	}
	if cfg.Cleanup.Enabled {
		if cfg.Cleanup.Endpoint == "" {
			return errors.New("cleanup.endpoint must not be empty when cleanup is enabled")
		}
		if cfg.Cleanup.Language == "" {
			return errors.New("cleanup.language must not be empty when cleanup is enabled")
		}
	}
	switch cfg.Pipeline.Supersede {
	case "drop", "replace":
	default:
		return errors.New("pipeline.supersede must be one of drop|replace")
	}
	if cfg.Pipeline.RecordSeconds <= 0 {
		return errors.New("pipeline.record_seconds must be positive")
	}
	if cfg.Pipeline.StageTimeoutMS <= 0 {
		return errors.New("pipeline.stage_timeout_ms must be positive")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}
