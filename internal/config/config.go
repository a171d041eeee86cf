// Package config loads and validates the application configuration tree.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App         App         `mapstructure:"app"`
	AI          AI          `mapstructure:"ai"`
	Email       Email       `mapstructure:"email"`
	Schedule    Schedule    `mapstructure:"schedule"`
	Filter      Filter      `mapstructure:"filter"`
	Storage     Storage     `mapstructure:"storage"`
	Telemetry   Telemetry   `mapstructure:"telemetry"`
	Concurrency Concurrency `mapstructure:"concurrency"`
	Entity      Entity      `mapstructure:"entity"`
	Server      Server      `mapstructure:"server"`
}

// App holds general application configuration.
type App struct {
	LogLevel  string `mapstructure:"log_level"`
	DataDir   string `mapstructure:"data_dir"`
	FeedsFile string `mapstructure:"feeds_file"`
}

// AI holds the LLM provider configuration. The gateway speaks the
// OpenAI-compatible chat-completions protocol regardless of provider.
type AI struct {
	Provider    string  `mapstructure:"provider"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	Timeout     string  `mapstructure:"timeout"`
}

// Email holds SMTP delivery configuration.
type Email struct {
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	UseSSL   bool     `mapstructure:"use_ssl"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	FromAddr string   `mapstructure:"from_addr"`
	FromName string   `mapstructure:"from_name"`
	ToAddrs  []string `mapstructure:"to_addrs"`
}

// Schedule holds the scheduler cadence configuration.
type Schedule struct {
	FetchInterval string   `mapstructure:"fetch_interval"` // e.g. "2h", "30m"
	DigestTimes   []string `mapstructure:"digest_times"`   // "HH:MM" wall-clock times
	Timezone      string   `mapstructure:"timezone"`
}

// Filter holds curation thresholds.
type Filter struct {
	TopPickCount         int     `mapstructure:"top_pick_count"`
	MinScore             float64 `mapstructure:"min_score"`
	MaxArticlesPerDigest int     `mapstructure:"max_articles_per_digest"`
}

// Storage holds datastore paths and retention. VectorDSN switches the vector
// index to PostgreSQL with pgvector; empty keeps the embedded SQLite backend.
type Storage struct {
	DatabasePath         string `mapstructure:"database_path"`
	VectorDSN            string `mapstructure:"vector_dsn"`
	ArticleRetentionDays int    `mapstructure:"article_retention_days"`
}

// Telemetry holds the AI-call recorder configuration.
type Telemetry struct {
	Enabled          bool   `mapstructure:"enabled"`
	StoragePath      string `mapstructure:"storage_path"`
	RetentionDays    int    `mapstructure:"retention_days"`
	MaxContentLength int    `mapstructure:"max_content_length"`
}

// Concurrency holds the bounded-pool widths.
type Concurrency struct {
	MaxConcurrentFetches     int `mapstructure:"max_concurrent_fetches"`
	MaxConcurrentExtractions int `mapstructure:"max_concurrent_extractions"`
	MaxConcurrentAnalyses    int `mapstructure:"max_concurrent_analyses"`
}

// Entity holds the knowledge-graph configuration.
type Entity struct {
	L3Roots []string `mapstructure:"l3_roots"`
}

// Server holds the admin surface configuration.
type Server struct {
	ListenAddr       string   `mapstructure:"listen_addr"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	MaxWSConnections int      `mapstructure:"max_ws_connections"`
}

// Load reads configuration from the given file (or the default search path),
// applies defaults, expands ${VAR} references from the environment, and
// validates the result.
func Load(configFile string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	expandConfig(config)

	if err := validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.data_dir", "data")
	v.SetDefault("app.feeds_file", "feeds.yaml")

	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.max_tokens", 4096)
	v.SetDefault("ai.temperature", 0.3)
	v.SetDefault("ai.timeout", "60s")

	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.from_name", "InfoDigest")

	v.SetDefault("schedule.fetch_interval", "2h")
	v.SetDefault("schedule.digest_times", []string{"09:00"})
	v.SetDefault("schedule.timezone", "UTC")

	v.SetDefault("filter.top_pick_count", 5)
	v.SetDefault("filter.min_score", 5.0)
	v.SetDefault("filter.max_articles_per_digest", 20)

	v.SetDefault("storage.database_path", "data/articles.db")
	v.SetDefault("storage.article_retention_days", 180)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.storage_path", "data/telemetry")
	v.SetDefault("telemetry.retention_days", 30)
	v.SetDefault("telemetry.max_content_length", 10000)

	v.SetDefault("concurrency.max_concurrent_fetches", 10)
	v.SetDefault("concurrency.max_concurrent_extractions", 5)
	v.SetDefault("concurrency.max_concurrent_analyses", 5)

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8080"})
	v.SetDefault("server.max_ws_connections", 100)
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv substitutes ${VAR} references from the environment, recursively,
// so a variable may itself contain further references. Unset variables expand
// to the empty string. Expansion is capped to avoid reference cycles.
func ExpandEnv(s string) string {
	for i := 0; i < 8 && strings.Contains(s, "${"); i++ {
		expanded := envRefPattern.ReplaceAllStringFunc(s, func(m string) string {
			name := m[2 : len(m)-1]
			return os.Getenv(name)
		})
		if expanded == s {
			break
		}
		s = expanded
	}
	return s
}

func expandConfig(c *Config) {
	c.AI.APIKey = ExpandEnv(c.AI.APIKey)
	c.AI.BaseURL = ExpandEnv(c.AI.BaseURL)
	c.Email.SMTPHost = ExpandEnv(c.Email.SMTPHost)
	c.Email.Username = ExpandEnv(c.Email.Username)
	c.Email.Password = ExpandEnv(c.Email.Password)
	c.Email.FromAddr = ExpandEnv(c.Email.FromAddr)
	for i, addr := range c.Email.ToAddrs {
		c.Email.ToAddrs[i] = ExpandEnv(addr)
	}
	c.Storage.DatabasePath = ExpandEnv(c.Storage.DatabasePath)
	c.Storage.VectorDSN = ExpandEnv(c.Storage.VectorDSN)
	c.Telemetry.StoragePath = ExpandEnv(c.Telemetry.StoragePath)
}

// Interval parses the configured fetch cadence.
func (s Schedule) Interval() (time.Duration, error) {
	return ParseInterval(s.FetchInterval)
}

var intervalPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseInterval parses the "<value><unit>" cadence syntax where unit is one of
// s, m, h, d.
func ParseInterval(s string) (time.Duration, error) {
	m := intervalPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid interval %q (expected e.g. \"30m\", \"2h\", \"1d\")", s)
	}
	var value int
	if _, err := fmt.Sscanf(m[1], "%d", &value); err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid interval value %q", s)
	}
	switch m[2] {
	case "s":
		return time.Duration(value) * time.Second, nil
	case "m":
		return time.Duration(value) * time.Minute, nil
	case "h":
		return time.Duration(value) * time.Hour, nil
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid interval unit %q", s)
}

func validate(c *Config) error {
	if c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required (set it in config or via ${OPENAI_API_KEY})")
	}
	if _, err := ParseInterval(c.Schedule.FetchInterval); err != nil {
		return fmt.Errorf("schedule.fetch_interval: %w", err)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone %q: %w", c.Schedule.Timezone, err)
	}
	for _, t := range c.Schedule.DigestTimes {
		if _, err := time.Parse("15:04", t); err != nil {
			return fmt.Errorf("schedule.digest_times entry %q: expected HH:MM", t)
		}
	}
	return nil
}
