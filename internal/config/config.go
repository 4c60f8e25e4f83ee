package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables overriding config keys.
const EnvPrefix = "BACKUPCONF_"

// DefaultMaxExecutionTime bounds a whole run.
const DefaultMaxExecutionTime = 60 * time.Second

// Config holds the parsed backup configuration.
type Config struct {
	Prefix           string        `koanf:"prefix"`
	BackupDir        string        `koanf:"backupdir" validate:"required,startswith=/,dir"`
	TmpRootDir       string        `koanf:"tmprootdir" validate:"required,startswith=/,dir"`
	Paths            []string      `koanf:"paths" validate:"required,min=1"`
	MaxExecutionTime time.Duration `koanf:"max_execution_time" validate:"gt=0"`
	SingleInstance   bool          `koanf:"single_instance"`
	MinFreeSpace     string        `koanf:"min_free_space" validate:"omitempty,bytesize"`
	MetricsDir       string        `koanf:"metrics_dir" validate:"omitempty,startswith=/"`
	LogFile          string        `koanf:"log_file" validate:"omitempty,startswith=/"`

	// MinFreeBytes is MinFreeSpace parsed; zero disables the check.
	MinFreeBytes uint64 `koanf:"-"`

	// ConfigPath is the file the configuration was read from.
	ConfigPath string `koanf:"-"`
}

// FieldError describes one rejected configuration key.
type FieldError struct {
	Key   string
	Rule  string
	Value interface{}
}

// ValidationError lists every rejected key of a configuration.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.describe())
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

func (f FieldError) describe() string {
	switch f.Rule {
	case "required":
		return fmt.Sprintf("%s is required", f.Key)
	case "startswith":
		return fmt.Sprintf("%s must be an absolute path (got %q)", f.Key, f.Value)
	case "dir":
		return fmt.Sprintf("%s: directory %v does not exist", f.Key, f.Value)
	case "min":
		return fmt.Sprintf("%s must contain at least one entry", f.Key)
	case "gt":
		return fmt.Sprintf("%s must be positive (got %v)", f.Key, f.Value)
	case "bytesize":
		return fmt.Sprintf("%s must be a size such as 512MiB (got %q)", f.Key, f.Value)
	default:
		return fmt.Sprintf("%s fails %q (got %v)", f.Key, f.Rule, f.Value)
	}
}

var keyNames = map[string]string{
	"Prefix":           "prefix",
	"BackupDir":        "backupdir",
	"TmpRootDir":       "tmprootdir",
	"Paths":            "paths",
	"MaxExecutionTime": "max_execution_time",
	"SingleInstance":   "single_instance",
	"MinFreeSpace":     "min_free_space",
	"MetricsDir":       "metrics_dir",
	"LogFile":          "log_file",
}

var (
	validate = newValidator()

	hostname = os.Hostname
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("bytesize", func(fl validator.FieldLevel) bool {
		_, err := humanize.ParseBytes(fl.Field().String())
		return err == nil
	})
	return v
}

func defaultConfig() *Config {
	return &Config{
		MaxExecutionTime: DefaultMaxExecutionTime,
		Paths:            []string{},
	}
}

// LoadConfig reads configPath (YAML), applies BACKUPCONF_* environment
// overrides on top of it and validates the result. Missing backupdir or
// tmprootdir directories are reported as a *ValidationError.
func LoadConfig(configPath string) (*Config, error) {
	if strings.TrimSpace(configPath) == "" {
		return nil, fmt.Errorf("configuration path is empty")
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("could not load config file %s: %w", configPath, err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("could not load config file %s: %w", configPath, err)
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", configPath, err)
	}
	cfg.ConfigPath = configPath
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MinFreeSpace != "" {
		// Validate already rejected unparsable sizes.
		cfg.MinFreeBytes, _ = humanize.ParseBytes(cfg.MinFreeSpace)
	}
	return cfg, nil
}

// envValue maps BACKUPCONF_MAX_EXECUTION_TIME to max_execution_time and
// splits BACKUPCONF_PATHS on commas.
func envValue(key, value string) (string, interface{}) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "paths" {
		return key, strings.Split(value, ",")
	}
	return key, value
}

func (c *Config) normalize() {
	c.Prefix = strings.TrimSpace(c.Prefix)
	if c.Prefix == "" {
		if h, err := hostname(); err == nil {
			c.Prefix = h
		}
	}
	if c.Prefix == "" {
		c.Prefix = "backupconf"
	}

	paths := make([]string, 0, len(c.Paths))
	for _, p := range c.Paths {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	c.Paths = paths

	c.BackupDir = trimDir(c.BackupDir)
	c.TmpRootDir = trimDir(c.TmpRootDir)
	c.MetricsDir = trimDir(c.MetricsDir)
	c.LogFile = strings.TrimSpace(c.LogFile)
	c.MinFreeSpace = strings.TrimSpace(c.MinFreeSpace)
}

func trimDir(path string) string {
	path = strings.TrimSpace(path)
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// Validate checks field rules and directory existence.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		key := keyNames[fe.StructField()]
		if key == "" {
			key = fe.Field()
		}
		out.Fields = append(out.Fields, FieldError{Key: key, Rule: fe.Tag(), Value: fe.Value()})
	}
	return out
}

type configView struct {
	Prefix           string   `yaml:"prefix"`
	BackupDir        string   `yaml:"backupdir"`
	TmpRootDir       string   `yaml:"tmprootdir"`
	Paths            []string `yaml:"paths"`
	MaxExecutionTime string   `yaml:"max_execution_time"`
	SingleInstance   bool     `yaml:"single_instance"`
	MinFreeSpace     string   `yaml:"min_free_space,omitempty"`
	MetricsDir       string   `yaml:"metrics_dir,omitempty"`
	LogFile          string   `yaml:"log_file,omitempty"`
}

// Render returns the effective configuration as YAML (used by --showconf).
func (c *Config) Render() (string, error) {
	view := configView{
		Prefix:           c.Prefix,
		BackupDir:        c.BackupDir,
		TmpRootDir:       c.TmpRootDir,
		Paths:            c.Paths,
		MaxExecutionTime: c.MaxExecutionTime.String(),
		SingleInstance:   c.SingleInstance,
		MinFreeSpace:     c.MinFreeSpace,
		MetricsDir:       c.MetricsDir,
		LogFile:          c.LogFile,
	}
	out, err := yamlv3.Marshal(&view)
	if err != nil {
		return "", fmt.Errorf("render configuration: %w", err)
	}
	return string(out), nil
}
