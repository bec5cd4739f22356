package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvPort     = "SPASERVE_PORT"
	EnvRoot     = "SPASERVE_ROOT"
	EnvLogLevel = "SPASERVE_LOG_LEVEL"
)

// LoadConfig reads, parses, defaults and validates the configuration file at path.
// The format is chosen by extension (.json, .toml, .yaml/.yml); any other
// extension is tried as JSON first and TOML second.
// A relative static.document_root is resolved against the file's directory.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("configuration file path cannot be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	cfg, err := parse(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}

	if cfg.Static != nil && cfg.Static.DocumentRoot != "" && !filepath.IsAbs(cfg.Static.DocumentRoot) {
		cfg.Static.DocumentRoot = filepath.Join(filepath.Dir(path), cfg.Static.DocumentRoot)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("invalid TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		jsonErr := json.Unmarshal(data, cfg)
		if jsonErr == nil {
			return cfg, nil
		}
		cfg = &Config{}
		if _, tomlErr := toml.Decode(string(data), cfg); tomlErr != nil {
			return nil, fmt.Errorf("failed to auto-detect and parse config: JSON error: %v; TOML error: %v", jsonErr, tomlErr)
		}
	}
	return cfg, nil
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.Host == nil {
		host := ""
		cfg.Server.Host = &host
	}
	if cfg.Server.Port == nil {
		port := DefaultPort
		cfg.Server.Port = &port
	}
	if cfg.Server.GracefulShutdownTimeout == nil {
		cfg.Server.GracefulShutdownTimeout = &Duration{DefaultGracefulShutdownTimeout}
	}
	if cfg.Server.ExtraHeaders == nil {
		cfg.Server.ExtraHeaders = make(map[string]string, len(DefaultExtraHeaders))
		for k, v := range DefaultExtraHeaders {
			cfg.Server.ExtraHeaders[k] = v
		}
	}

	if cfg.Static == nil {
		cfg.Static = &StaticConfig{}
	}
	if len(cfg.Static.IndexFiles) == 0 {
		cfg.Static.IndexFiles = append([]string(nil), DefaultIndexFiles...)
	}
	if cfg.Static.ServeDirectoryListing == nil {
		listing := true
		cfg.Static.ServeDirectoryListing = &listing
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.LogLevel == "" {
		cfg.Logging.LogLevel = LogLevelInfo
	}
	if cfg.Logging.AccessLog == nil {
		cfg.Logging.AccessLog = &AccessLogConfig{}
	}
	if cfg.Logging.AccessLog.Enabled == nil {
		enabled := true
		cfg.Logging.AccessLog.Enabled = &enabled
	}
	if cfg.Logging.AccessLog.Target == "" {
		cfg.Logging.AccessLog.Target = DefaultAccessLogTarget
	}
	if cfg.Logging.AccessLog.Format == "" {
		cfg.Logging.AccessLog.Format = AccessLogFormatJSON
	}
	if cfg.Logging.ErrorLog == nil {
		cfg.Logging.ErrorLog = &ErrorLogConfig{}
	}
	if cfg.Logging.ErrorLog.Target == "" {
		cfg.Logging.ErrorLog.Target = DefaultErrorLogTarget
	}
}

// Validate checks a defaulted configuration for values the server cannot run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration cannot be nil")
	}

	if s := cfg.Server; s != nil {
		if s.Port != nil && (*s.Port < 0 || *s.Port > 65535) {
			return fmt.Errorf("server.port %d is out of range 0-65535", *s.Port)
		}
		if s.MaxConnections != nil && *s.MaxConnections < 0 {
			return fmt.Errorf("server.max_connections must not be negative, got %d", *s.MaxConnections)
		}
		if s.GracefulShutdownTimeout != nil && s.GracefulShutdownTimeout.Duration < 0 {
			return fmt.Errorf("server.graceful_shutdown_timeout must not be negative, got %s", s.GracefulShutdownTimeout.Duration)
		}
		for name := range s.ExtraHeaders {
			if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t\r\n:") {
				return fmt.Errorf("server.extra_headers contains invalid header name %q", name)
			}
		}
	}

	if st := cfg.Static; st != nil {
		for _, name := range st.IndexFiles {
			if name == "" {
				return errors.New("static.index_files must not contain empty names")
			}
			if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
				return fmt.Errorf("static.index_files entry %q must be a plain file name", name)
			}
		}
		for ext, mimeType := range st.MimeTypes {
			if !strings.HasPrefix(ext, ".") {
				return fmt.Errorf("static.mime_types key %q must start with '.'", ext)
			}
			if mimeType == "" {
				return fmt.Errorf("static.mime_types value for %q must not be empty", ext)
			}
		}
	}

	if lg := cfg.Logging; lg != nil {
		switch lg.LogLevel {
		case "", LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		default:
			return fmt.Errorf("logging.log_level %q is not one of DEBUG, INFO, WARNING, ERROR", lg.LogLevel)
		}
		if al := lg.AccessLog; al != nil {
			if err := validateTarget("logging.access_log.target", al.Target); err != nil {
				return err
			}
			switch al.Format {
			case "", AccessLogFormatJSON, AccessLogFormatText:
			default:
				return fmt.Errorf("logging.access_log.format %q is not one of json, text", al.Format)
			}
		}
		if el := lg.ErrorLog; el != nil {
			if err := validateTarget("logging.error_log.target", el.Target); err != nil {
				return err
			}
		}
		if r := lg.Rotation; r != nil && (r.MaxSizeMB < 0 || r.MaxBackups < 0 || r.MaxAgeDays < 0) {
			return errors.New("logging.rotation values must not be negative")
		}
	}
	return nil
}

func validateTarget(field, target string) error {
	if IsFilePath(target) && !filepath.IsAbs(target) {
		return fmt.Errorf("%s %q must be stdout, stderr or an absolute file path", field, target)
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables. lookup is usually os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Static == nil {
		cfg.Static = &StaticConfig{}
	}
	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}

	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q is not a valid port: %w", EnvPort, v, err)
		}
		cfg.Server.Port = &port
	}
	if v, ok := lookup(EnvRoot); ok && v != "" {
		cfg.Static.DocumentRoot = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Logging.LogLevel = LogLevel(strings.ToUpper(v))
	}
	return nil
}
