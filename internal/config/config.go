// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"signal-insights/internal/data"
	"signal-insights/internal/llm"
)

type Config struct {
	Server struct {
		UIPort int `mapstructure:"ui_port"`
	} `mapstructure:"server"`
	Source struct {
		Path   string `mapstructure:"path"`
		Window int    `mapstructure:"window"`
	} `mapstructure:"source"`
	Refresh struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"refresh"`
	Acquisition data.AcquisitionParameters `mapstructure:"acquisition"`
	LLM         LLM                        `mapstructure:"llm"`
	History     struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"history"`
	Storage struct {
		Snapshots int `mapstructure:"snapshots"`
	} `mapstructure:"storage"`
	Anomaly struct {
		Rules map[string]Rule `mapstructure:"rules"`
	} `mapstructure:"anomaly"`
	Auth Auth `mapstructure:"auth"`
	MQTT MQTT `mapstructure:"mqtt"`
	Log  struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

type LLM struct {
	Provider    string        `mapstructure:"provider"` // gemini or flow
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	URL         string        `mapstructure:"url"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	MaxMessages int           `mapstructure:"max_messages"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Retries     int           `mapstructure:"retries"`
}

// Rule bounds one statistic. A nil bound is not checked.
type Rule struct {
	Min *float64 `mapstructure:"min"`
	Max *float64 `mapstructure:"max"`
}

type Auth struct {
	JWTSecret     string            `mapstructure:"jwt_secret"`
	JWTExpiration time.Duration     `mapstructure:"jwt_expiration"`
	APIKeys       []string          `mapstructure:"api_keys"`
	Users         map[string]string `mapstructure:"users"` // username -> bcrypt hash
}

// Enabled reports whether any credential is configured.
func (a Auth) Enabled() bool {
	return a.JWTSecret != "" || len(a.APIKeys) > 0
}

type MQTT struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"` // {session_id} is substituted
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Load reads config.yaml from dir, a .env file from the working directory
// and the environment. A missing file of either kind is not an error.
func Load(dir string, log *slog.Logger) (*Config, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("reading .env", "error", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", filepath.Join(dir, "config.yaml"), err)
		}
		log.Warn("config file not found, using defaults", "dir", dir)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Debug("configuration loaded", "file", v.ConfigFileUsed(), "source", cfg.Source.Path, "provider", cfg.LLM.Provider)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.ui_port", 8081)
	v.SetDefault("source.path", "output.jsonl")
	v.SetDefault("source.window", 100)
	v.SetDefault("refresh.interval", 100*time.Millisecond)
	v.SetDefault("acquisition.sample_rate_hz", 1000)
	v.SetDefault("acquisition.duration_s", 5)
	v.SetDefault("acquisition.base_freq_hz", 5)
	v.SetDefault("acquisition.noise_std", 0.2)
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-pro")
	v.SetDefault("llm.url", llm.DefaultFlowURL)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.max_messages", 20)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.retries", 3)
	v.SetDefault("history.dir", "chat_history")
	v.SetDefault("storage.snapshots", 100)
	v.SetDefault("auth.jwt_expiration", 24*time.Hour)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "signal-insights")
	v.SetDefault("mqtt.topic", "signal/{session_id}/stats")
	v.SetDefault("log.level", "info")
}

// bindEnv keeps the environment variable names the tooling around the
// dashboard already uses.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"llm.api_key": {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"llm.model":   {"GEMINI_MODEL"},
		"llm.url":     {"LOCAL_API_URL"},
	}
	for key, env := range bindings {
		if err := v.BindEnv(append([]string{key}, env...)...); err != nil {
			return fmt.Errorf("config: bind %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks values that would otherwise fail much later.
func (c *Config) Validate() error {
	if c.Source.Window <= 0 {
		return fmt.Errorf("config: source.window must be positive, got %d", c.Source.Window)
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("config: refresh.interval must be positive, got %s", c.Refresh.Interval)
	}
	switch c.LLM.Provider {
	case "gemini", "flow":
	default:
		return fmt.Errorf("config: llm.provider must be gemini or flow, got %q", c.LLM.Provider)
	}
	if err := ValidateParams(c.Acquisition); err != nil {
		return fmt.Errorf("config: acquisition: %w", err)
	}
	return nil
}

var ErrInvalidParams = errors.New("invalid acquisition parameters")

// Bounds of the dashboard controls.
const (
	MinSampleRateHz = 100
	MaxSampleRateHz = 5000
	MinDurationS    = 1
	MaxDurationS    = 20
	MinBaseFreqHz   = 1
	MaxBaseFreqHz   = 50
	MaxNoiseStd     = 1
)

// ValidateParams rejects parameters outside the ranges the controls allow.
func ValidateParams(p data.AcquisitionParameters) error {
	switch {
	case p.SampleRateHz < MinSampleRateHz || p.SampleRateHz > MaxSampleRateHz:
		return fmt.Errorf("%w: sample_rate_hz %d not in [%d, %d]", ErrInvalidParams, p.SampleRateHz, MinSampleRateHz, MaxSampleRateHz)
	case p.DurationS < MinDurationS || p.DurationS > MaxDurationS:
		return fmt.Errorf("%w: duration_s %g not in [%d, %d]", ErrInvalidParams, p.DurationS, MinDurationS, MaxDurationS)
	case p.BaseFreqHz < MinBaseFreqHz || p.BaseFreqHz > MaxBaseFreqHz:
		return fmt.Errorf("%w: base_freq_hz %g not in [%d, %d]", ErrInvalidParams, p.BaseFreqHz, MinBaseFreqHz, MaxBaseFreqHz)
	case p.NoiseStd < 0 || p.NoiseStd > MaxNoiseStd:
		return fmt.Errorf("%w: noise_std %g not in [0, %d]", ErrInvalidParams, p.NoiseStd, MaxNoiseStd)
	}
	return nil
}
