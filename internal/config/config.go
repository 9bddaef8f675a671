package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	Narration   NarrationConfig `yaml:"narration"`
	Providers   ProvidersConfig `yaml:"providers"`
	Personas    []PersonaConfig `yaml:"personas"`
	History     HistoryConfig   `yaml:"history"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

// NarrationConfig controls the synthesis pipeline and playback queue.
type NarrationConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Provider         string `yaml:"provider"` // mock, local, openai, elevenlabs, gemini, playht
	Persona          string `yaml:"persona"`
	CacheDir         string `yaml:"cache_dir"`
	CacheMaxAgeDays  int    `yaml:"cache_max_age_days"`
	SweepIntervalMin int    `yaml:"cache_sweep_interval_min"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
	MaxRetries       int    `yaml:"max_retries"`
	RetryDelayMS     int    `yaml:"retry_delay_ms"`
	LineDelayMS      int    `yaml:"line_delay_ms"`
	PlayerCommand    string `yaml:"player_command"`
}

type ProvidersConfig struct {
	Local      LocalProviderConfig      `yaml:"local"`
	OpenAI     OpenAIProviderConfig     `yaml:"openai"`
	ElevenLabs ElevenLabsProviderConfig `yaml:"elevenlabs"`
	Gemini     GeminiProviderConfig     `yaml:"gemini"`
	PlayHT     PlayHTProviderConfig     `yaml:"playht"`
}

type LocalProviderConfig struct {
	Command         string `yaml:"command"`
	Voice           string `yaml:"voice"`
	SampleRate      int    `yaml:"sample_rate"`
	ReferenceSample string `yaml:"reference_sample"`
}

type OpenAIProviderConfig struct {
	APIKey  string  `yaml:"api_key"`
	BaseURL string  `yaml:"base_url"`
	Model   string  `yaml:"model"`
	Voice   string  `yaml:"voice"`
	Format  string  `yaml:"format"`
	Speed   float64 `yaml:"speed"`
}

type ElevenLabsProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	ModelID string `yaml:"model_id"`
	Voice   string `yaml:"voice"`
}

type GeminiProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
}

type PlayHTProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	UserID     string `yaml:"user_id"`
	BaseURL    string `yaml:"base_url"`
	Voice      string `yaml:"voice"`
	Format     string `yaml:"format"`
	SampleRate int    `yaml:"sample_rate"`
}

// PersonaConfig describes a narration voice style. Entries override the
// built-in catalog by name.
type PersonaConfig struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
	Pacing string `yaml:"pacing"`
	Pitch  string `yaml:"pitch"`
	Tone   string `yaml:"tone"`
	Voice  string `yaml:"voice"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "aria-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "aria-node-1",
			Role:              "narrator",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Narration: NarrationConfig{
			Enabled:          true,
			Provider:         "mock",
			CacheDir:         filepath.Join(os.TempDir(), "aria-voice-cache"),
			CacheMaxAgeDays:  7,
			SweepIntervalMin: 360,
			RequestTimeoutMS: 30000,
			MaxRetries:       2,
			RetryDelayMS:     250,
			LineDelayMS:      100,
		},
		Providers: ProvidersConfig{
			Local: LocalProviderConfig{
				SampleRate: 24000,
			},
			OpenAI: OpenAIProviderConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "tts-1",
				Voice:   "alloy",
				Format:  "mp3",
				Speed:   1.0,
			},
			ElevenLabs: ElevenLabsProviderConfig{
				BaseURL: "https://api.elevenlabs.io/v1",
				ModelID: "eleven_multilingual_v2",
				Voice:   "21m00Tcm4TlvDq8ikWAM",
			},
			Gemini: GeminiProviderConfig{
				BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
				Model:      "gemini-2.5-flash-preview-tts",
				Voice:      "kore",
				SampleRate: 24000,
			},
			PlayHT: PlayHTProviderConfig{
				BaseURL:    "https://api.play.ht/api/v2",
				Voice:      "larry",
				Format:     "mp3",
				SampleRate: 24000,
			},
		},
		History: HistoryConfig{
			Path:          "./data/aria-history.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxEntries:    20000,
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
	overrideString(&cfg.RuntimeName, "ARIA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "ARIA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ARIA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ARIA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "ARIA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ARIA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ARIA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "ARIA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "ARIA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "ARIA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "ARIA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "ARIA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ARIA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ARIA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ARIA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ARIA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ARIA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "ARIA_NODE_ID")
	overrideString(&cfg.Node.Role, "ARIA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "ARIA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "ARIA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideBool(&cfg.Narration.Enabled, "ARIA_NARRATION_ENABLED")
	overrideString(&cfg.Narration.Provider, "ARIA_NARRATION_PROVIDER")
	overrideString(&cfg.Narration.Persona, "ARIA_NARRATION_PERSONA")
	overrideString(&cfg.Narration.CacheDir, "ARIA_NARRATION_CACHE_DIR")
	overrideInt(&cfg.Narration.CacheMaxAgeDays, "ARIA_NARRATION_CACHE_MAX_AGE_DAYS")
	overrideInt(&cfg.Narration.SweepIntervalMin, "ARIA_NARRATION_CACHE_SWEEP_INTERVAL_MIN")
	overrideInt(&cfg.Narration.RequestTimeoutMS, "ARIA_NARRATION_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.Narration.MaxRetries, "ARIA_NARRATION_MAX_RETRIES")
	overrideInt(&cfg.Narration.RetryDelayMS, "ARIA_NARRATION_RETRY_DELAY_MS")
	overrideInt(&cfg.Narration.LineDelayMS, "ARIA_NARRATION_LINE_DELAY_MS")
	overrideString(&cfg.Narration.PlayerCommand, "ARIA_NARRATION_PLAYER_COMMAND")
	overrideString(&cfg.Providers.Local.Command, "ARIA_PROVIDER_LOCAL_COMMAND")
	overrideString(&cfg.Providers.Local.Voice, "ARIA_PROVIDER_LOCAL_VOICE")
	overrideInt(&cfg.Providers.Local.SampleRate, "ARIA_PROVIDER_LOCAL_SAMPLE_RATE")
	overrideString(&cfg.Providers.Local.ReferenceSample, "ARIA_PROVIDER_LOCAL_REFERENCE_SAMPLE")
	overrideString(&cfg.Providers.OpenAI.APIKey, "ARIA_PROVIDER_OPENAI_API_KEY")
	overrideString(&cfg.Providers.OpenAI.BaseURL, "ARIA_PROVIDER_OPENAI_BASE_URL")
	overrideString(&cfg.Providers.OpenAI.Model, "ARIA_PROVIDER_OPENAI_MODEL")
	overrideString(&cfg.Providers.OpenAI.Voice, "ARIA_PROVIDER_OPENAI_VOICE")
	overrideString(&cfg.Providers.OpenAI.Format, "ARIA_PROVIDER_OPENAI_FORMAT")
	overrideFloat(&cfg.Providers.OpenAI.Speed, "ARIA_PROVIDER_OPENAI_SPEED")
	overrideString(&cfg.Providers.ElevenLabs.APIKey, "ARIA_PROVIDER_ELEVENLABS_API_KEY")
	overrideString(&cfg.Providers.ElevenLabs.BaseURL, "ARIA_PROVIDER_ELEVENLABS_BASE_URL")
	overrideString(&cfg.Providers.ElevenLabs.ModelID, "ARIA_PROVIDER_ELEVENLABS_MODEL_ID")
	overrideString(&cfg.Providers.ElevenLabs.Voice, "ARIA_PROVIDER_ELEVENLABS_VOICE")
	overrideString(&cfg.Providers.Gemini.APIKey, "ARIA_PROVIDER_GEMINI_API_KEY")
	overrideString(&cfg.Providers.Gemini.BaseURL, "ARIA_PROVIDER_GEMINI_BASE_URL")
	overrideString(&cfg.Providers.Gemini.Model, "ARIA_PROVIDER_GEMINI_MODEL")
	overrideString(&cfg.Providers.Gemini.Voice, "ARIA_PROVIDER_GEMINI_VOICE")
	overrideInt(&cfg.Providers.Gemini.SampleRate, "ARIA_PROVIDER_GEMINI_SAMPLE_RATE")
	overrideString(&cfg.Providers.PlayHT.APIKey, "ARIA_PROVIDER_PLAYHT_API_KEY")
	overrideString(&cfg.Providers.PlayHT.UserID, "ARIA_PROVIDER_PLAYHT_USER_ID")
	overrideString(&cfg.Providers.PlayHT.BaseURL, "ARIA_PROVIDER_PLAYHT_BASE_URL")
	overrideString(&cfg.Providers.PlayHT.Voice, "ARIA_PROVIDER_PLAYHT_VOICE")
	overrideString(&cfg.Providers.PlayHT.Format, "ARIA_PROVIDER_PLAYHT_FORMAT")
	overrideInt(&cfg.Providers.PlayHT.SampleRate, "ARIA_PROVIDER_PLAYHT_SAMPLE_RATE")
	overrideString(&cfg.History.Path, "ARIA_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "ARIA_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "ARIA_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxEntries, "ARIA_HISTORY_MAX_ENTRIES")
	overrideBool(&cfg.History.VacuumOnStart, "ARIA_HISTORY_VACUUM_ON_START")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
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
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Narration.Enabled {
		switch cfg.Narration.Provider {
		case "mock", "local", "openai", "elevenlabs", "gemini", "playht":
		default:
			return errors.New("narration.provider must be one of mock|local|openai|elevenlabs|gemini|playht")
		}
		if cfg.Narration.CacheDir == "" {
			return errors.New("narration.cache_dir must not be empty")
		}
		if cfg.Narration.CacheMaxAgeDays < 0 {
			return errors.New("narration.cache_max_age_days must be >= 0")
		}
		if cfg.Narration.RequestTimeoutMS <= 0 {
			return errors.New("narration.request_timeout_ms must be positive")
		}
		if cfg.Narration.MaxRetries < 0 {
			return errors.New("narration.max_retries must be >= 0")
		}
		if cfg.Narration.RetryDelayMS < 0 {
			return errors.New("narration.retry_delay_ms must be >= 0")
		}
		if cfg.Narration.LineDelayMS < 0 {
			return errors.New("narration.line_delay_ms must be >= 0")
		}
	}
	for _, p := range cfg.Personas {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New("personas entries must have a name")
		}
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}
