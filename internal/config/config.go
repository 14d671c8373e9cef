// Package config resolves todod configuration from defaults, JSONC config
// files, environment variables and command-line overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tailscale/hujson"
)

// Error variables for configuration.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrAddrEmpty          = errors.New("addr cannot be empty")
	ErrDataFileEmpty      = errors.New("data_file cannot be empty")
	ErrBucketEmpty        = errors.New("s3.bucket is required for the s3 backend")
	ErrUnknownBackend     = errors.New("unknown backend (must be file, s3 or memory)")
	ErrUnknownLogFormat   = errors.New("unknown log_format (must be text or json)")
	ErrInvalidLogLevel    = errors.New("invalid log_level")
	ErrInvalidTimeout     = errors.New("invalid shutdown_timeout")
)

// Redacted stands in for secrets in [Format] output.
const Redacted = "<redacted>"

// FileName is the project config file looked up in the working directory.
const FileName = ".todod.json"

// Environment variables read by [Load].
const (
	EnvAddr     = "TODOD_ADDR"
	EnvDataFile = "TODOD_DATA_FILE"
)

// S3 holds the s3 backend settings.
type S3 struct {
	Bucket          string `json:"bucket,omitempty"`
	Key             string `json:"key,omitempty"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	PathStyle       bool   `json:"path_style,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
}

// Config holds all configuration options.
type Config struct {
	Addr            string `json:"addr"`
	DataFile        string `json:"data_file"`
	Backend         string `json:"backend"`
	Serialize       bool   `json:"serialize"`
	StrictLoad      bool   `json:"strict_load"`
	ShutdownTimeout string `json:"shutdown_timeout"`
	LogLevel        string `json:"log_level"`
	LogFormat       string `json:"log_format"`
	S3              S3     `json:"s3"`

	// Resolved values (computed, not serialized)
	DataFileAbs string        `json:"-"` // Absolute path to the data file
	Shutdown    time.Duration `json:"-"` // Parsed ShutdownTimeout
	Level       logrus.Level  `json:"-"` // Parsed LogLevel

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Addr:            "127.0.0.1:8080",
		DataFile:        "todos.json",
		Backend:         "file",
		ShutdownTimeout: "10s",
		LogLevel:        "info",
		LogFormat:       "text",
		S3:              S3{Key: "todos.json"},
	}
}

// Overrides are command-line values. Nil fields were not given.
type Overrides struct {
	Addr       *string
	DataFile   *string
	Backend    *string
	Serialize  *bool
	StrictLoad *bool
	LogLevel   *string
	LogFormat  *string
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Overrides       Overrides         // flag values
	Env             map[string]string // environment variables
}

// Load resolves configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/todod/config.json or ~/.config/todod/config.json)
// 3. Project config file (.todod.json, if exists) or the explicit config file
// 4. Environment (TODOD_ADDR, TODOD_DATA_FILE)
// 5. CLI overrides.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Defaults()

	globalPath := globalConfigPath(input.Env)
	if globalPath != "" {
		layer, loaded, err := loadFile(globalPath, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = layer.apply(cfg)
			cfg.Sources.Global = globalPath
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false
	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}
	}

	layer, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = layer.apply(cfg)
		cfg.Sources.Project = projectPath
	}

	if v := input.Env[EnvAddr]; v != "" {
		cfg.Addr = v
	}

	if v := input.Env[EnvDataFile]; v != "" {
		cfg.DataFile = v
	}

	cfg = input.Overrides.apply(cfg)

	err = resolve(&cfg, workDir)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Format renders cfg as indented JSON, as accepted in a config file. The S3
// secret key is replaced by [Redacted].
func Format(cfg Config) (string, error) {
	if cfg.S3.SecretAccessKey != "" {
		cfg.S3.SecretAccessKey = Redacted
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("formatting config: %w", err)
	}

	return string(data), nil
}

// globalConfigPath uses $XDG_CONFIG_HOME/todod/config.json if set, otherwise
// ~/.config/todod/config.json. Empty if neither variable is set.
func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "todod", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "todod", "config.json")
	}

	return ""
}

// fileLayer is one config file. Pointer fields distinguish "absent" from
// zero values so a later file can turn a bool off again.
type fileLayer struct {
	Addr            *string  `json:"addr"`
	DataFile        *string  `json:"data_file"`
	Backend         *string  `json:"backend"`
	Serialize       *bool    `json:"serialize"`
	StrictLoad      *bool    `json:"strict_load"`
	ShutdownTimeout *string  `json:"shutdown_timeout"`
	LogLevel        *string  `json:"log_level"`
	LogFormat       *string  `json:"log_format"`
	S3              *s3Layer `json:"s3"`
}

type s3Layer struct {
	Bucket          *string `json:"bucket"`
	Key             *string `json:"key"`
	Region          *string `json:"region"`
	Endpoint        *string `json:"endpoint"`
	PathStyle       *bool   `json:"path_style"`
	AccessKeyID     *string `json:"access_key_id"`
	SecretAccessKey *string `json:"secret_access_key"`
}

// loadFile loads a config file. If mustExist is false, a missing file is
// not an error and loaded is false.
func loadFile(path string, mustExist bool) (fileLayer, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return fileLayer{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}

			return fileLayer{}, false, nil
		}

		return fileLayer{}, false, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
	}

	layer, err := parse(data)
	if err != nil {
		return fileLayer{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return layer, true, nil
}

func parse(data []byte) (fileLayer, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileLayer{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var layer fileLayer

	err = json.Unmarshal(standardized, &layer)
	if err != nil {
		return fileLayer{}, fmt.Errorf("invalid JSON: %w", err)
	}

	if layer.Addr != nil && *layer.Addr == "" {
		return fileLayer{}, ErrAddrEmpty
	}

	if layer.DataFile != nil && *layer.DataFile == "" {
		return fileLayer{}, ErrDataFileEmpty
	}

	return layer, nil
}

func (l fileLayer) apply(cfg Config) Config {
	setString(&cfg.Addr, l.Addr)
	setString(&cfg.DataFile, l.DataFile)
	setString(&cfg.Backend, l.Backend)
	setString(&cfg.ShutdownTimeout, l.ShutdownTimeout)
	setString(&cfg.LogLevel, l.LogLevel)
	setString(&cfg.LogFormat, l.LogFormat)
	setBool(&cfg.Serialize, l.Serialize)
	setBool(&cfg.StrictLoad, l.StrictLoad)

	if l.S3 != nil {
		cfg.S3 = l.S3.apply(cfg.S3)
	}

	return cfg
}

func (o Overrides) apply(cfg Config) Config {
	setString(&cfg.Addr, o.Addr)
	setString(&cfg.DataFile, o.DataFile)
	setString(&cfg.Backend, o.Backend)
	setString(&cfg.LogLevel, o.LogLevel)
	setString(&cfg.LogFormat, o.LogFormat)
	setBool(&cfg.Serialize, o.Serialize)
	setBool(&cfg.StrictLoad, o.StrictLoad)

	return cfg
}

func (l s3Layer) apply(cfg S3) S3 {
	setString(&cfg.Bucket, l.Bucket)
	setString(&cfg.Key, l.Key)
	setString(&cfg.Region, l.Region)
	setString(&cfg.Endpoint, l.Endpoint)
	setBool(&cfg.PathStyle, l.PathStyle)
	setString(&cfg.AccessKeyID, l.AccessKeyID)
	setString(&cfg.SecretAccessKey, l.SecretAccessKey)

	return cfg
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// resolve validates cfg and fills the computed fields.
func resolve(cfg *Config, workDir string) error {
	if cfg.Addr == "" {
		return ErrAddrEmpty
	}

	switch cfg.Backend {
	case "file":
		if cfg.DataFile == "" {
			return ErrDataFileEmpty
		}
	case "s3":
		if cfg.S3.Bucket == "" {
			return ErrBucketEmpty
		}
	case "memory":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("%w: %q", ErrUnknownLogFormat, cfg.LogFormat)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLogLevel, err)
	}

	shutdown, err := time.ParseDuration(cfg.ShutdownTimeout)
	if err != nil || shutdown < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidTimeout, cfg.ShutdownTimeout)
	}

	cfg.Level = level
	cfg.Shutdown = shutdown

	if filepath.IsAbs(cfg.DataFile) {
		cfg.DataFileAbs = cfg.DataFile
	} else {
		cfg.DataFileAbs = filepath.Join(workDir, cfg.DataFile)
	}

	return nil
}
