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

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// EngineConfig selects and configures the speech-recognition backend.
type EngineConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

type CaptureConfig struct {
	Backend          string `yaml:"backend"` // mock, portaudio
	Device           string `yaml:"device"`
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	AutoGainControl  bool   `yaml:"auto_gain_control"`
	RecordDir        string `yaml:"record_dir"`
}

// SessionConfig tunes the restart policy that keeps a captioning session
// alive across recognizer terminations.
type SessionConfig struct {
	AutoRestart               bool `yaml:"auto_restart"`
	BaseEndDelayMS            int  `yaml:"base_end_delay_ms"`
	EndDelayCapMS             int  `yaml:"end_delay_cap_ms"`
	BaseErrorDelayMS          int  `yaml:"base_error_delay_ms"`
	ErrorDelayCapMS           int  `yaml:"error_delay_cap_ms"`
	RecreateThreshold         int  `yaml:"recreate_threshold"`
	ActivityTimeoutMS         int  `yaml:"activity_timeout_ms"`
	ActivityCheckIntervalMS   int  `yaml:"activity_check_interval_ms"`
	PeriodicRefreshIntervalMS int  `yaml:"periodic_refresh_interval_ms"`
	ResumeDelayMS             int  `yaml:"resume_delay_ms"`
}

type TranscriptConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type FilterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Module  string `yaml:"module"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Engine      EngineConfig     `yaml:"engine"`
	Capture     CaptureConfig    `yaml:"capture"`
	Session     SessionConfig    `yaml:"session"`
	Transcript  TranscriptConfig `yaml:"transcript"`
	Filter      FilterConfig     `yaml:"filter"`
}

func Default() Config {
	return Config{
		RuntimeName: "livecapd",
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
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Engine: EngineConfig{
			Mode:     "mock",
			Language: "en-US",
		},
		Capture: CaptureConfig{
			Backend:          "mock",
			SampleRate:       16000,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		Session: SessionConfig{
			AutoRestart:               true,
			BaseEndDelayMS:            500,
			EndDelayCapMS:             3000,
			BaseErrorDelayMS:          1000,
			ErrorDelayCapMS:           5000,
			RecreateThreshold:         5,
			ActivityTimeoutMS:         300000,
			ActivityCheckIntervalMS:   30000,
			PeriodicRefreshIntervalMS: 1800000,
			ResumeDelayMS:             1000,
		},
		Transcript: TranscriptConfig{
			Path:          "./data/transcript.db",
			RetentionDays: 30,
			MaxEntries:    100000,
		},
		Filter: FilterConfig{
			Enabled: false,
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
	overrideString(&cfg.RuntimeName, "LIVECAP_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LIVECAP_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LIVECAP_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LIVECAP_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LIVECAP_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LIVECAP_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LIVECAP_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "LIVECAP_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LIVECAP_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LIVECAP_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LIVECAP_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LIVECAP_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LIVECAP_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LIVECAP_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LIVECAP_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LIVECAP_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Engine.Mode, "LIVECAP_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "LIVECAP_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "LIVECAP_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.Language, "LIVECAP_ENGINE_LANGUAGE")
	overrideString(&cfg.Capture.Backend, "LIVECAP_CAPTURE_BACKEND")
	overrideString(&cfg.Capture.Device, "LIVECAP_CAPTURE_DEVICE")
	overrideInt(&cfg.Capture.SampleRate, "LIVECAP_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "LIVECAP_CAPTURE_CHANNELS")
	overrideBool(&cfg.Capture.EchoCancellation, "LIVECAP_CAPTURE_ECHO_CANCELLATION")
	overrideBool(&cfg.Capture.NoiseSuppression, "LIVECAP_CAPTURE_NOISE_SUPPRESSION")
	overrideBool(&cfg.Capture.AutoGainControl, "LIVECAP_CAPTURE_AUTO_GAIN_CONTROL")
	overrideString(&cfg.Capture.RecordDir, "LIVECAP_CAPTURE_RECORD_DIR")
	overrideBool(&cfg.Session.AutoRestart, "LIVECAP_SESSION_AUTO_RESTART")
	overrideInt(&cfg.Session.BaseEndDelayMS, "LIVECAP_SESSION_BASE_END_DELAY_MS")
	overrideInt(&cfg.Session.EndDelayCapMS, "LIVECAP_SESSION_END_DELAY_CAP_MS")
	overrideInt(&cfg.Session.BaseErrorDelayMS, "LIVECAP_SESSION_BASE_ERROR_DELAY_MS")
	overrideInt(&cfg.Session.ErrorDelayCapMS, "LIVECAP_SESSION_ERROR_DELAY_CAP_MS")
	overrideInt(&cfg.Session.RecreateThreshold, "LIVECAP_SESSION_RECREATE_THRESHOLD")
	overrideInt(&cfg.Session.ActivityTimeoutMS, "LIVECAP_SESSION_ACTIVITY_TIMEOUT_MS")
	overrideInt(&cfg.Session.ActivityCheckIntervalMS, "LIVECAP_SESSION_ACTIVITY_CHECK_INTERVAL_MS")
	overrideInt(&cfg.Session.PeriodicRefreshIntervalMS, "LIVECAP_SESSION_PERIODIC_REFRESH_INTERVAL_MS")
	overrideInt(&cfg.Session.ResumeDelayMS, "LIVECAP_SESSION_RESUME_DELAY_MS")
	overrideString(&cfg.Transcript.Path, "LIVECAP_TRANSCRIPT_PATH")
	overrideInt(&cfg.Transcript.RetentionDays, "LIVECAP_TRANSCRIPT_RETENTION_DAYS")
	overrideInt(&cfg.Transcript.MaxEntries, "LIVECAP_TRANSCRIPT_MAX_ENTRIES")
	overrideBool(&cfg.Transcript.VacuumOnStart, "LIVECAP_TRANSCRIPT_VACUUM_ON_START")
	overrideBool(&cfg.Filter.Enabled, "LIVECAP_FILTER_ENABLED")
	overrideString(&cfg.Filter.Module, "LIVECAP_FILTER_MODULE")
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
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.Language == "" {
		return errors.New("engine.language must not be empty")
	}
	switch cfg.Capture.Backend {
	case "mock", "portaudio":
	default:
		return errors.New("capture.backend must be one of mock|portaudio")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	s := cfg.Session
	if s.BaseEndDelayMS <= 0 || s.BaseErrorDelayMS <= 0 {
		return errors.New("session restart base delays must be positive")
	}
	if s.EndDelayCapMS < s.BaseEndDelayMS {
		return errors.New("session.end_delay_cap_ms must be >= base_end_delay_ms")
	}
	if s.ErrorDelayCapMS < s.BaseErrorDelayMS {
		return errors.New("session.error_delay_cap_ms must be >= base_error_delay_ms")
	}
	if s.RecreateThreshold < 0 {
		return errors.New("session.recreate_threshold must be >= 0")
	}
	if s.ActivityCheckIntervalMS <= 0 {
		return errors.New("session.activity_check_interval_ms must be positive")
	}
	if s.ActivityTimeoutMS <= s.ActivityCheckIntervalMS {
		return errors.New("session.activity_timeout_ms must be greater than the check interval")
	}
	if s.PeriodicRefreshIntervalMS <= 0 {
		return errors.New("session.periodic_refresh_interval_ms must be positive")
	}
	if s.ResumeDelayMS < 0 {
		return errors.New("session.resume_delay_ms must be >= 0")
	}
	if cfg.Transcript.RetentionDays < 0 {
		return errors.New("transcript.retention_days must be >= 0")
	}
	if cfg.Transcript.MaxEntries < 0 {
		return errors.New("transcript.max_entries must be >= 0")
	}
	if cfg.Filter.Enabled && cfg.Filter.Module == "" {
		return errors.New("filter.module must be set when the filter is enabled")
	}
	return nil
}
