package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig is the on-disk configuration schema. Zero values leave the
// corresponding setting alone.
type FileConfig struct {
	HTTP struct {
		Port        int      `yaml:"port" json:"port"`
		CORSOrigins []string `yaml:"corsOrigins" json:"corsOrigins"`
	} `yaml:"http" json:"http"`

	Log struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
		Debug  bool   `yaml:"debug" json:"debug"`
	} `yaml:"log" json:"log"`

	DataDir string `yaml:"dataDir" json:"dataDir"`

	Store struct {
		Kind        string `yaml:"kind" json:"kind"`
		DatabaseURL string `yaml:"databaseURL" json:"databaseURL"`
	} `yaml:"store" json:"store"`

	Queue struct {
		Kind   string `yaml:"kind" json:"kind"`
		Buffer int    `yaml:"buffer" json:"buffer"`
		Redis  struct {
			Addr     string `yaml:"addr" json:"addr"`
			Password string `yaml:"password" json:"password"`
			DB       int    `yaml:"db" json:"db"`
			Stream   string `yaml:"stream" json:"stream"`
			Group    string `yaml:"group" json:"group"`
			Consumer string `yaml:"consumer" json:"consumer"`
		} `yaml:"redis" json:"redis"`
	} `yaml:"queue" json:"queue"`

	Workers int `yaml:"workers" json:"workers"`

	Extract struct {
		Kind       string        `yaml:"kind" json:"kind"`
		BrowserBin string        `yaml:"browserBin" json:"browserBin"`
		Timeout    Duration `yaml:"timeout" json:"timeout"`
		MaxChars   int      `yaml:"maxChars" json:"maxChars"`
		UserAgent  string   `yaml:"userAgent" json:"userAgent"`
	} `yaml:"extract" json:"extract"`

	Render struct {
		ClassifierScript string `yaml:"classifierScript" json:"classifierScript"`
	} `yaml:"render" json:"render"`
}

// Duration reads "45s" style strings or a plain number of seconds from YAML
// and JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case string:
		parsed, err := parseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(v * float64(time.Second))
	case nil:
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// parseDuration accepts Go durations ("45s") or plain seconds ("45").
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// LoadFile reads a YAML (.yaml, .yml) or JSON (.json) configuration file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &fc)
	default:
		err = yaml.Unmarshal(data, &fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func (fc *FileConfig) apply(c *Config) {
	setInt(&c.HTTPPort, fc.HTTP.Port)
	if len(fc.HTTP.CORSOrigins) > 0 {
		c.CORSOrigins = fc.HTTP.CORSOrigins
	}
	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFormat, fc.Log.Format)
	if fc.Log.Debug {
		c.Debug = true
	}
	setString(&c.DataDir, fc.DataDir)
	setString(&c.Store, fc.Store.Kind)
	setString(&c.DatabaseURL, fc.Store.DatabaseURL)
	setString(&c.Queue, fc.Queue.Kind)
	setInt(&c.QueueBuffer, fc.Queue.Buffer)
	setString(&c.RedisAddr, fc.Queue.Redis.Addr)
	setString(&c.RedisPassword, fc.Queue.Redis.Password)
	setInt(&c.RedisDB, fc.Queue.Redis.DB)
	setString(&c.RedisStream, fc.Queue.Redis.Stream)
	setString(&c.RedisGroup, fc.Queue.Redis.Group)
	setString(&c.RedisConsumer, fc.Queue.Redis.Consumer)
	setInt(&c.Workers, fc.Workers)
	setString(&c.Extractor, fc.Extract.Kind)
	setString(&c.BrowserBin, fc.Extract.BrowserBin)
	if fc.Extract.Timeout > 0 {
		c.ExtractTimeout = time.Duration(fc.Extract.Timeout)
	}
	setInt(&c.ExtractMaxChars, fc.Extract.MaxChars)
	setString(&c.UserAgent, fc.Extract.UserAgent)
	setString(&c.ClassifierScript, fc.Render.ClassifierScript)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
