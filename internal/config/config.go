package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort  int
	Debug     bool
	LogLevel  string
	LogFormat string

	DataDir     string
	Store       string // memory | badger | postgres
	DatabaseURL string

	Queue         string // local | redis
	QueueBuffer   int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisGroup    string
	RedisConsumer string

	Workers         int
	Extractor       string // browser | static
	BrowserBin      string
	ExtractTimeout  time.Duration
	ExtractMaxChars int
	UserAgent       string

	// ClassifierScript is a .lua or .js file whose classify(line) function
	// replaces the built-in heading heuristic.
	ClassifierScript string

	CORSOrigins []string
}

func Default() *Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "webdoc"
	}
	return &Config{
		HTTPPort:        8000,
		LogLevel:        "info",
		LogFormat:       "console",
		DataDir:         "./data",
		Store:           "memory",
		Queue:           "local",
		QueueBuffer:     256,
		RedisStream:     "webdoc_jobs",
		RedisGroup:      "webdoc_workers",
		RedisConsumer:   host,
		Workers:         4,
		Extractor:       "browser",
		ExtractTimeout:  30 * time.Second,
		ExtractMaxChars: 5000,
		CORSOrigins:     []string{"*"},
	}
}

// Load builds the configuration from defaults, then the optional YAML or
// JSON file at path, then the environment. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		fc.apply(cfg)
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.Debug = getEnvBool("DEBUG", c.Debug)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.Store = getEnv("STORE", c.Store)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.Queue = getEnv("QUEUE", c.Queue)
	c.QueueBuffer = getEnvInt("QUEUE_BUFFER", c.QueueBuffer)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RedisStream = getEnv("REDIS_STREAM", c.RedisStream)
	c.RedisGroup = getEnv("REDIS_GROUP", c.RedisGroup)
	c.RedisConsumer = getEnv("REDIS_CONSUMER", c.RedisConsumer)
	c.Workers = getEnvInt("WORKERS", c.Workers)
	c.Extractor = getEnv("EXTRACTOR", c.Extractor)
	c.BrowserBin = getEnv("BROWSER_BIN", c.BrowserBin)
	c.ExtractTimeout = getEnvDuration("EXTRACT_TIMEOUT", c.ExtractTimeout)
	c.ExtractMaxChars = getEnvInt("EXTRACT_MAX_CHARS", c.ExtractMaxChars)
	c.UserAgent = getEnv("USER_AGENT", c.UserAgent)
	c.ClassifierScript = getEnv("CLASSIFIER_SCRIPT", c.ClassifierScript)
	c.CORSOrigins = getEnvList("CORS_ORIGINS", c.CORSOrigins)
}

func (c *Config) Validate() error {
	switch c.Store {
	case "memory", "badger":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown STORE %q (want memory, badger or postgres)", c.Store)
	}
	switch c.Queue {
	case "local":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("QUEUE=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown QUEUE %q (want local or redis)", c.Queue)
	}
	switch c.Extractor {
	case "browser", "static":
	default:
		return fmt.Errorf("unknown EXTRACTOR %q (want browser or static)", c.Extractor)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.HTTPPort)
	}
	if c.ClassifierScript != "" {
		switch strings.ToLower(filepath.Ext(c.ClassifierScript)) {
		case ".lua", ".js":
		default:
			return fmt.Errorf("CLASSIFIER_SCRIPT must be a .lua or .js file, got %q", c.ClassifierScript)
		}
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// EffectiveLogLevel folds DEBUG into the configured level.
func (c *Config) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := parseDuration(v); err == nil {
		return d
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
