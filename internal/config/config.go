package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DefaultFrontendURL = "https://your-frontend-domain.vercel.app"

	IndexSQLite = "sqlite"
	IndexIngest = "ingest"
	IndexNone   = "none"
)

var ErrMissingPort = errors.New("PORT is required in production")

// Config is the process runtime configuration. Gameplay numbers live in the
// tuning file instead.
type Config struct {
	Port        int    `mapstructure:"port"`
	Env         string `mapstructure:"deploy_env"`
	FrontendURL string `mapstructure:"frontend_url"`
	DataDir     string `mapstructure:"data_dir"`
	DisableDB   bool   `mapstructure:"disable_db"`
	LogLevel    string `mapstructure:"log_level"`
	LogPretty   bool   `mapstructure:"log_pretty"`
	EnableAdmin bool   `mapstructure:"enable_admin_http"`

	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Only safe behind a proxy that overwrites those headers.
	TrustProxy bool `mapstructure:"trust_proxy"`

	// IndexBackend selects the match index: sqlite, ingest or none.
	IndexBackend    string `mapstructure:"index_backend"`
	IngestURL       string `mapstructure:"index_ingest_url"`
	IngestToken     string `mapstructure:"index_ingest_token"`
	IngestBatchSize int    `mapstructure:"index_ingest_batch_size"`
	IngestFlushMs   int    `mapstructure:"index_ingest_flush_ms"`
}

func (c Config) Production() bool { return c.Env == EnvProduction }

func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// AllowedOrigins is the cross-origin allow-list for the current environment.
func (c Config) AllowedOrigins() []string {
	if c.Production() {
		return []string{c.FrontendURL}
	}
	return []string{"http://localhost:3000", "http://127.0.0.1:3000"}
}

func (c Config) IndexPath() string { return filepath.Join(c.DataDir, "index", "matches.sqlite") }
func (c Config) EventsDir() string { return filepath.Join(c.DataDir, "events") }
func (c Config) SnapshotDir() string {
	return filepath.Join(c.DataDir, "snapshots")
}

// Load resolves configuration from defaults, an optional config file in
// configDir and the environment (PORT, DEPLOY_ENV, FRONTEND_URL, ...).
func Load(configDir string) (Config, error) {
	v := viper.New()

	v.SetDefault("port", 3000)
	v.SetDefault("deploy_env", EnvDevelopment)
	v.SetDefault("frontend_url", DefaultFrontendURL)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("disable_db", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", true)
	v.SetDefault("enable_admin_http", true)
	v.SetDefault("trust_proxy", false)
	v.SetDefault("index_backend", IndexSQLite)
	v.SetDefault("index_ingest_batch_size", 128)
	v.SetDefault("index_ingest_flush_ms", 500)

	for _, k := range []string{
		"port", "deploy_env", "frontend_url", "data_dir", "disable_db", "log_level", "log_pretty", "enable_admin_http",
		"trust_proxy",
		"index_backend", "index_ingest_url", "index_ingest_token", "index_ingest_batch_size", "index_ingest_flush_ms",
	} {
		_ = v.BindEnv(k, strings.ToUpper(k))
	}

	if configDir != "" {
		v.SetConfigName("server")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	switch c.Env {
	case EnvDevelopment, EnvProduction:
	default:
		return c, fmt.Errorf("deploy_env must be %q or %q (got %q)", EnvDevelopment, EnvProduction, c.Env)
	}
	if c.Production() {
		if strings.TrimSpace(os.Getenv("PORT")) == "" && !v.InConfig("port") {
			return c, ErrMissingPort
		}
		c.LogPretty = false
	}
	if c.Port <= 0 || c.Port > 65535 {
		return c, fmt.Errorf("port out of range: %d", c.Port)
	}
	c.IndexBackend = strings.ToLower(strings.TrimSpace(c.IndexBackend))
	switch c.IndexBackend {
	case IndexSQLite, IndexNone:
	case IndexIngest:
		if strings.TrimSpace(c.IngestURL) == "" {
			return c, fmt.Errorf("index_backend=%s but INDEX_INGEST_URL is empty", IndexIngest)
		}
	default:
		return c, fmt.Errorf("unsupported index_backend: %s", c.IndexBackend)
	}
	if strings.TrimSpace(c.FrontendURL) == "" {
		c.FrontendURL = DefaultFrontendURL
	}
	return c, nil
}
