package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Access log output formats.
const (
	AccessLogFormatJSON = "json"
	AccessLogFormatText = "text"
)

// Default values applied by ApplyDefaults.
const (
	DefaultPort                    = 8000
	DefaultGracefulShutdownTimeout = 5 * time.Second
	DefaultAccessLogTarget         = "stdout"
	DefaultErrorLogTarget          = "stderr"
)

// DefaultIndexFiles lists the index documents looked up in a directory, in priority order.
var DefaultIndexFiles = []string{"index.html", "index.htm"}

// DefaultExtraHeaders are sent on every successful response unless overridden.
var DefaultExtraHeaders = map[string]string{
	"Access-Control-Allow-Origin": "*",
}

// Config is the top-level configuration structure for the server.
type Config struct {
	Server  *ServerConfig  `json:"server,omitempty" toml:"server,omitempty" yaml:"server,omitempty"`
	Static  *StaticConfig  `json:"static,omitempty" toml:"static,omitempty" yaml:"static,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty" toml:"logging,omitempty" yaml:"logging,omitempty"`
}

// ServerConfig holds listener and response settings.
type ServerConfig struct {
	Host                    *string           `json:"host,omitempty" toml:"host,omitempty" yaml:"host,omitempty"`
	Port                    *int              `json:"port,omitempty" toml:"port,omitempty" yaml:"port,omitempty"`
	MaxConnections          *int              `json:"max_connections,omitempty" toml:"max_connections,omitempty" yaml:"max_connections,omitempty"`
	GracefulShutdownTimeout *Duration         `json:"graceful_shutdown_timeout,omitempty" toml:"graceful_shutdown_timeout,omitempty" yaml:"graceful_shutdown_timeout,omitempty"` // e.g., "5s"
	ExtraHeaders            map[string]string `json:"extra_headers,omitempty" toml:"extra_headers,omitempty" yaml:"extra_headers,omitempty"`
}

// ListenAddress returns the host:port pair to bind. An empty host means all interfaces.
func (s *ServerConfig) ListenAddress() string {
	host := ""
	if s.Host != nil {
		host = *s.Host
	}
	port := DefaultPort
	if s.Port != nil {
		port = *s.Port
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// StaticConfig controls how the document tree is served.
// DocumentRoot, when set, becomes the process working directory at startup;
// the serving root itself is always the working directory.
type StaticConfig struct {
	DocumentRoot          string            `json:"document_root,omitempty" toml:"document_root,omitempty" yaml:"document_root,omitempty"`
	IndexFiles            []string          `json:"index_files,omitempty" toml:"index_files,omitempty" yaml:"index_files,omitempty"`
	ServeDirectoryListing *bool             `json:"serve_directory_listing,omitempty" toml:"serve_directory_listing,omitempty" yaml:"serve_directory_listing,omitempty"`
	MimeTypes             map[string]string `json:"mime_types,omitempty" toml:"mime_types,omitempty" yaml:"mime_types,omitempty"`
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	LogLevel  LogLevel         `json:"log_level,omitempty" toml:"log_level,omitempty" yaml:"log_level,omitempty"`
	AccessLog *AccessLogConfig `json:"access_log,omitempty" toml:"access_log,omitempty" yaml:"access_log,omitempty"`
	ErrorLog  *ErrorLogConfig  `json:"error_log,omitempty" toml:"error_log,omitempty" yaml:"error_log,omitempty"`
	Rotation  *RotationConfig  `json:"rotation,omitempty" toml:"rotation,omitempty" yaml:"rotation,omitempty"`
}

// AccessLogConfig configures access logging.
type AccessLogConfig struct {
	Enabled        *bool    `json:"enabled,omitempty" toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Target         string   `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
	Format         string   `json:"format,omitempty" toml:"format,omitempty" yaml:"format,omitempty"`
	TrustedProxies []string `json:"trusted_proxies,omitempty" toml:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty"`
	RealIPHeader   *string  `json:"real_ip_header,omitempty" toml:"real_ip_header,omitempty" yaml:"real_ip_header,omitempty"`
}

// ErrorLogConfig configures error logging.
type ErrorLogConfig struct {
	Target string `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
}

// RotationConfig applies to file log targets only.
type RotationConfig struct {
	MaxSizeMB  int  `json:"max_size_mb,omitempty" toml:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int  `json:"max_backups,omitempty" toml:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int  `json:"max_age_days,omitempty" toml:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	Compress   bool `json:"compress,omitempty" toml:"compress,omitempty" yaml:"compress,omitempty"`
}

// Duration wraps time.Duration so it can be written as "5s" in any config format.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
// encoding/json, BurntSushi/toml and yaml.v3 all honour it for string values.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsFilePath reports whether a log target names a file rather than a standard stream.
func IsFilePath(target string) bool {
	return target != "" && target != "stdout" && target != "stderr"
}
