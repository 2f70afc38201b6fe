// Package config loads BeeWatch configuration from defaults, an optional beewatch.yaml
// and BEEWATCH_ environment variables.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Grid modes.
const (
	ModeLive      = "live"
	ModeSimulated = "simulated"
)

// Classifier kinds.
const (
	ClassifierRules = "rules"
	ClassifierMLP   = "mlp"
	ClassifierHTTP  = "http"
)

// Threshold table names.
const (
	ThresholdsSoilMoisture = "soil_moisture"
	ThresholdsET           = "et"
)

const redacted = "<redacted>"

type Config struct {
	Environment string            `yaml:"environment" mapstructure:"environment"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Grid        GridConfig        `yaml:"grid" mapstructure:"grid"`
	EarthEngine EarthEngineConfig `yaml:"earthengine" mapstructure:"earthengine"`
	Model       ModelConfig       `yaml:"model" mapstructure:"model"`
	Database    DatabaseConfig    `yaml:"database" mapstructure:"database"`
	Flags       FlagsConfig       `yaml:"flags" mapstructure:"flags"`
	Dataset     DatasetConfig     `yaml:"dataset" mapstructure:"dataset"`
	PubSub      PubSubConfig      `yaml:"pubsub" mapstructure:"pubsub"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" mapstructure:"telemetry"`
	Admin       AdminConfig       `yaml:"admin" mapstructure:"admin"`
}

type ServerConfig struct {
	Port            int             `yaml:"port" mapstructure:"port"`
	StaticDir       string          `yaml:"static_dir" mapstructure:"static_dir"`
	AllowedOrigins  []string        `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequireTLS      bool            `yaml:"require_tls" mapstructure:"require_tls"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig holds per-client budgets of the API for one window.
type RateLimitConfig struct {
	Window time.Duration `yaml:"window" mapstructure:"window"`

	// GridCells is the number of grid cells a client IP may request per window.
	GridCells int `yaml:"grid_cells" mapstructure:"grid_cells"`

	// Admin is the number of admin calls per operator and window.
	Admin int `yaml:"admin" mapstructure:"admin"`

	// Standard is the number of status calls per client IP and window.
	Standard int `yaml:"standard" mapstructure:"standard"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type GridConfig struct {
	// Mode is the default mode grids are served in.
	Mode        string        `yaml:"mode" mapstructure:"mode"`
	Workers     int           `yaml:"workers" mapstructure:"workers"`
	CellTimeout time.Duration `yaml:"cell_timeout" mapstructure:"cell_timeout"`
	MaxRadius   int           `yaml:"max_radius" mapstructure:"max_radius"`

	// Seed seeds the simulated provider. Zero seeds from the clock.
	Seed uint64 `yaml:"seed" mapstructure:"seed"`
}

type EarthEngineConfig struct {
	Project           string        `yaml:"project" mapstructure:"project"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	Token             string        `yaml:"token" mapstructure:"token"`
	KeyFile           string        `yaml:"key_file" mapstructure:"key_file"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
}

type ModelConfig struct {
	Classifier  string        `yaml:"classifier" mapstructure:"classifier"`
	Thresholds  string        `yaml:"thresholds" mapstructure:"thresholds"`
	WeightsPath string        `yaml:"weights_path" mapstructure:"weights_path"`
	ScalerPath  string        `yaml:"scaler_path" mapstructure:"scaler_path"`
	Endpoint    string        `yaml:"endpoint" mapstructure:"endpoint"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	URL             string        `yaml:"url" mapstructure:"url"`
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Name            string        `yaml:"name" mapstructure:"name"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

type FlagsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

type DatasetConfig struct {
	OutputDir string        `yaml:"output_dir" mapstructure:"output_dir"`
	Store     bool          `yaml:"store" mapstructure:"store"`
	Pause     time.Duration `yaml:"pause" mapstructure:"pause"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type PubSubConfig struct {
	ProjectID    string `yaml:"project_id" mapstructure:"project_id"`
	Subscription string `yaml:"subscription" mapstructure:"subscription"`
}

type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	Insecure       bool          `yaml:"insecure" mapstructure:"insecure"`
	SampleRatio    float64       `yaml:"sample_ratio" mapstructure:"sample_ratio"`
	MetricInterval time.Duration `yaml:"metric_interval" mapstructure:"metric_interval"`
}

type AdminConfig struct {
	SigningKey  string        `yaml:"signing_key" mapstructure:"signing_key"`
	Issuer      string        `yaml:"issuer" mapstructure:"issuer"`
	Audience    string        `yaml:"audience" mapstructure:"audience"`
	TokenExpiry time.Duration `yaml:"token_expiry" mapstructure:"token_expiry"`
}

// Load reads the configuration. An explicit path must exist; otherwise beewatch.yaml is
// looked up in the working directory and skipped when absent.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("beewatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BEEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Every key needs a default for AutomaticEnv to reach it through Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.require_tls", false)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.rate_limit.window", time.Minute)
	v.SetDefault("server.rate_limit.grid_cells", 10000)
	v.SetDefault("server.rate_limit.admin", 10)
	v.SetDefault("server.rate_limit.standard", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("grid.mode", ModeSimulated)
	v.SetDefault("grid.workers", 8)
	v.SetDefault("grid.cell_timeout", 20*time.Second)
	v.SetDefault("grid.max_radius", 25)
	v.SetDefault("grid.seed", 0)

	v.SetDefault("earthengine.project", "")
	v.SetDefault("earthengine.base_url", "https://earthengine.googleapis.com")
	v.SetDefault("earthengine.token", "")
	v.SetDefault("earthengine.key_file", "")
	v.SetDefault("earthengine.timeout", 30*time.Second)
	v.SetDefault("earthengine.requests_per_second", 10.0)
	v.SetDefault("earthengine.burst", 10)

	v.SetDefault("model.classifier", ClassifierRules)
	v.SetDefault("model.thresholds", ThresholdsSoilMoisture)
	v.SetDefault("model.weights_path", "")
	v.SetDefault("model.scaler_path", "")
	v.SetDefault("model.endpoint", "")
	v.SetDefault("model.timeout", 5*time.Second)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "beewatch")
	v.SetDefault("database.password", "localdev")
	v.SetDefault("database.name", "beewatch")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("flags.cache_ttl", time.Minute)

	v.SetDefault("dataset.output_dir", ".")
	v.SetDefault("dataset.store", false)
	v.SetDefault("dataset.pause", 2*time.Second)
	v.SetDefault("dataset.timeout", 2*time.Hour)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.subscription", "beewatch-dataset-jobs")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.metric_interval", 15*time.Second)

	v.SetDefault("admin.signing_key", "")
	v.SetDefault("admin.issuer", "https://api.beewatch.pe")
	v.SetDefault("admin.audience", "beewatch-admin")
	v.SetDefault("admin.token_expiry", 12*time.Hour)
}

// Validate checks settings that have a closed set of values or depend on each other.
func (c Config) Validate() error {
	switch c.Grid.Mode {
	case ModeLive:
		if c.EarthEngine.Project == "" {
			return eris.New("config: earthengine.project is required in live mode")
		}
		if c.EarthEngine.Token == "" && c.EarthEngine.KeyFile == "" {
			return eris.New("config: earthengine.token or earthengine.key_file is required in live mode")
		}
	case ModeSimulated:
	default:
		return eris.Errorf("config: grid.mode must be %s or %s, got %q", ModeLive, ModeSimulated, c.Grid.Mode)
	}

	switch c.Model.Classifier {
	case ClassifierRules:
	case ClassifierMLP:
		if c.Model.WeightsPath == "" || c.Model.ScalerPath == "" {
			return eris.New("config: model.weights_path and model.scaler_path are required for the mlp classifier")
		}
	case ClassifierHTTP:
		if c.Model.Endpoint == "" || c.Model.ScalerPath == "" {
			return eris.New("config: model.endpoint and model.scaler_path are required for the http classifier")
		}
	default:
		return eris.Errorf("config: unknown model.classifier %q", c.Model.Classifier)
	}

	switch c.Model.Thresholds {
	case ThresholdsSoilMoisture:
	case ThresholdsET:
		// Only the live ECOSTRESS layer carries evapotranspiration.
		if c.Grid.Mode != ModeLive {
			return eris.New("config: model.thresholds et requires grid.mode live")
		}
		if c.Model.Classifier != ClassifierRules {
			return eris.New("config: model.thresholds et requires the rules classifier")
		}
	default:
		return eris.Errorf("config: model.thresholds must be %s or %s, got %q",
			ThresholdsSoilMoisture, ThresholdsET, c.Model.Thresholds)
	}
	if c.Grid.MaxRadius < 0 {
		return eris.Errorf("config: grid.max_radius must not be negative, got %d", c.Grid.MaxRadius)
	}
	if c.Server.RateLimit.Window <= 0 {
		return eris.New("config: server.rate_limit.window must be positive")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return eris.Errorf("config: telemetry.sample_ratio must be within [0,1], got %g", c.Telemetry.SampleRatio)
	}
	return nil
}

// Addr returns the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// NewLogger builds the service logger from cfg.
func NewLogger(cfg LogConfig, out io.Writer, service, version string) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), eris.Wrap(err, "config: parse log level")
	}
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger(), nil
}

// Redacted returns a copy of c with secrets masked.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.EarthEngine.Token)
	mask(&c.Database.Password)
	mask(&c.Database.URL)
	mask(&c.Admin.SigningKey)
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, eris.Wrap(err, "config: marshal")
	}
	return out, nil
}
