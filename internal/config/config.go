package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ligustah/chunkline/internal/progress"
	"github.com/ligustah/chunkline/pkg/batch"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "CHUNKLINE_"

// Config defines configuration for the chunkline CLI.
type Config struct {
	Input            string         `yaml:"input"`
	Output           string         `yaml:"output"`
	Encoding         string         `yaml:"encoding"`
	SectionSize      int            `yaml:"section_size"`
	IgnoreEmptyLines bool           `yaml:"ignore_empty_lines"`
	Workers          int            `yaml:"workers"`
	StatusInterval   time.Duration  `yaml:"status_interval"`
	PollInterval     time.Duration  `yaml:"poll_interval"`
	Read             ReadConfig     `yaml:"read"`
	Cooldown         CooldownConfig `yaml:"cooldown"`
	SkipLimit        int            `yaml:"skip_limit"`
	ProgressPolicy   string         `yaml:"progress_policy"`
	Extract          ExtractConfig  `yaml:"extract"`
	Log              LogConfig      `yaml:"log"`
}

// ReadConfig defines how the input is read and retried.
type ReadConfig struct {
	Retries    int           `yaml:"retries"`
	Delay      time.Duration `yaml:"delay"`
	BufferSize int64         `yaml:"buffer_size"`
}

// CooldownConfig defines read pacing. AfterLines <= 0 disables it.
type CooldownConfig struct {
	AfterLines int           `yaml:"after_lines"`
	Duration   time.Duration `yaml:"duration"`
}

// ExtractConfig defines the extract job.
type ExtractConfig struct {
	Fields          []int  `yaml:"fields"`
	Separator       string `yaml:"separator"`
	OutputSeparator string `yaml:"output_separator"`
}

// LogConfig defines logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Encoding:         batch.DefaultEncoding,
		SectionSize:      1000,
		IgnoreEmptyLines: true,
		Workers:          4,
		StatusInterval:   30 * time.Second,
		PollInterval:     time.Second,
		Read: ReadConfig{
			Retries:    1,
			Delay:      time.Second,
			BufferSize: 64 * 1024, // 64KiB
		},
		ProgressPolicy: "lines",
		Extract: ExtractConfig{
			Separator:       batch.DefaultSeparator,
			OutputSeparator: "\t",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with human-readable sizes and
// durations. Pointers distinguish an explicit zero from an absent key.
type yamlConfig struct {
	Input            string             `yaml:"input"`
	Output           string             `yaml:"output"`
	Encoding         string             `yaml:"encoding"`
	SectionSize      int                `yaml:"section_size"`
	IgnoreEmptyLines *bool              `yaml:"ignore_empty_lines"`
	Workers          int                `yaml:"workers"`
	StatusInterval   string             `yaml:"status_interval"`
	PollInterval     string             `yaml:"poll_interval"`
	Read             yamlReadConfig     `yaml:"read"`
	Cooldown         yamlCooldownConfig `yaml:"cooldown"`
	SkipLimit        int                `yaml:"skip_limit"`
	ProgressPolicy   string             `yaml:"progress_policy"`
	Extract          ExtractConfig      `yaml:"extract"`
	Log              LogConfig          `yaml:"log"`
}

type yamlReadConfig struct {
	Retries    *int   `yaml:"retries"`
	Delay      string `yaml:"delay"`
	BufferSize string `yaml:"buffer_size"`
}

type yamlCooldownConfig struct {
	AfterLines int    `yaml:"after_lines"`
	Duration   string `yaml:"duration"`
}

// LoadFromFile loads configuration from a YAML file. Keys that are absent
// keep their defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	cfg = cfg.Merge(Config{
		Input:          yc.Input,
		Output:         yc.Output,
		Encoding:       yc.Encoding,
		SectionSize:    yc.SectionSize,
		Workers:        yc.Workers,
		SkipLimit:      yc.SkipLimit,
		ProgressPolicy: yc.ProgressPolicy,
		Extract:        yc.Extract,
		Log:            yc.Log,
		Cooldown:       CooldownConfig{AfterLines: yc.Cooldown.AfterLines},
	})

	if yc.IgnoreEmptyLines != nil {
		cfg.IgnoreEmptyLines = *yc.IgnoreEmptyLines
	}
	if yc.Read.Retries != nil {
		cfg.Read.Retries = *yc.Read.Retries
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"status_interval", yc.StatusInterval, &cfg.StatusInterval},
		{"poll_interval", yc.PollInterval, &cfg.PollInterval},
		{"read.delay", yc.Read.Delay, &cfg.Read.Delay},
		{"cooldown.duration", yc.Cooldown.Duration, &cfg.Cooldown.Duration},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if yc.Read.BufferSize != "" {
		size, err := progress.ParseBytes(yc.Read.BufferSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse read.buffer_size: %w", err)
		}
		cfg.Read.BufferSize = size
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CHUNKLINE_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"INPUT":                    &c.Input,
		"OUTPUT":                   &c.Output,
		"ENCODING":                 &c.Encoding,
		"PROGRESS_POLICY":          &c.ProgressPolicy,
		"EXTRACT_SEPARATOR":        &c.Extract.Separator,
		"EXTRACT_OUTPUT_SEPARATOR": &c.Extract.OutputSeparator,
		"LOG_LEVEL":                &c.Log.Level,
		"LOG_FORMAT":               &c.Log.Format,
		"LOG_FILE":                 &c.Log.File,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SECTION_SIZE":         &c.SectionSize,
		"WORKERS":              &c.Workers,
		"READ_RETRIES":         &c.Read.Retries,
		"COOLDOWN_AFTER_LINES": &c.Cooldown.AfterLines,
		"SKIP_LIMIT":           &c.SkipLimit,
	}
	for name, dst := range ints {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"STATUS_INTERVAL":   &c.StatusInterval,
		"POLL_INTERVAL":     &c.PollInterval,
		"READ_DELAY":        &c.Read.Delay,
		"COOLDOWN_DURATION": &c.Cooldown.Duration,
	}
	for name, dst := range durations {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv(EnvPrefix + "IGNORE_EMPTY_LINES"); v != "" {
		c.IgnoreEmptyLines = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvPrefix + "READ_BUFFER_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse %sREAD_BUFFER_SIZE: %w", EnvPrefix, err)
		}
		c.Read.BufferSize = size
	}
	if v := os.Getenv(EnvPrefix + "EXTRACT_FIELDS"); v != "" {
		fields, err := ParseFields(v)
		if err != nil {
			return fmt.Errorf("parse %sEXTRACT_FIELDS: %w", EnvPrefix, err)
		}
		c.Extract.Fields = fields
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Input == "" {
		return errors.New("config: input is required")
	}
	if c.SectionSize <= 0 {
		return errors.New("config: section_size must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.Read.Retries < 0 {
		return errors.New("config: read.retries must not be negative")
	}
	if c.Read.Delay < 0 {
		return errors.New("config: read.delay must not be negative")
	}
	if c.Read.BufferSize <= 0 {
		return errors.New("config: read.buffer_size must be positive")
	}
	if c.Cooldown.AfterLines > 0 && c.Cooldown.Duration <= 0 {
		return errors.New("config: cooldown.duration must be positive when cooldown is enabled")
	}
	if c.SkipLimit < 0 {
		return errors.New("config: skip_limit must not be negative")
	}
	if _, err := batch.ParsePolicy(c.ProgressPolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := batch.LookupCharset(c.Encoding); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for _, f := range c.Extract.Fields {
		if f < 0 {
			return fmt.Errorf("config: extract field index %d is negative", f)
		}
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored, so IgnoreEmptyLines and explicit
// zero retries cannot be set through Merge.
func (c Config) Merge(override Config) Config {
	if override.Input != "" {
		c.Input = override.Input
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.Encoding != "" {
		c.Encoding = override.Encoding
	}
	if override.SectionSize != 0 {
		c.SectionSize = override.SectionSize
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.StatusInterval != 0 {
		c.StatusInterval = override.StatusInterval
	}
	if override.PollInterval != 0 {
		c.PollInterval = override.PollInterval
	}
	if override.Read.Retries != 0 {
		c.Read.Retries = override.Read.Retries
	}
	if override.Read.Delay != 0 {
		c.Read.Delay = override.Read.Delay
	}
	if override.Read.BufferSize != 0 {
		c.Read.BufferSize = override.Read.BufferSize
	}
	if override.Cooldown.AfterLines != 0 {
		c.Cooldown.AfterLines = override.Cooldown.AfterLines
	}
	if override.Cooldown.Duration != 0 {
		c.Cooldown.Duration = override.Cooldown.Duration
	}
	if override.SkipLimit != 0 {
		c.SkipLimit = override.SkipLimit
	}
	if override.ProgressPolicy != "" {
		c.ProgressPolicy = override.ProgressPolicy
	}
	if len(override.Extract.Fields) > 0 {
		c.Extract.Fields = append([]int(nil), override.Extract.Fields...)
	}
	if override.Extract.Separator != "" {
		c.Extract.Separator = override.Extract.Separator
	}
	if override.Extract.OutputSeparator != "" {
		c.Extract.OutputSeparator = override.Extract.OutputSeparator
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		c.Log.Format = override.Log.Format
	}
	if override.Log.File != "" {
		c.Log.File = override.Log.File
	}
	return c
}

// ParseFields parses a comma-separated list of field indexes, e.g. "0,2,5".
func ParseFields(s string) ([]int, error) {
	var fields []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid field index %q", part)
		}
		if n < 0 {
			return nil, fmt.Errorf("field index %d is negative", n)
		}
		fields = append(fields, n)
	}
	return fields, nil
}
