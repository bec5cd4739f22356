package logger

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"example.com/spaserve/internal/config"
)

// LogFields carries structured key/value pairs attached to a log entry.
type LogFields map[string]interface{}

// parsedProxiesContainer holds pre-parsed trusted proxy IP addresses and CIDR blocks.
type parsedProxiesContainer struct {
	cidrs []*net.IPNet
	ips   []net.IP
}

// AccessLogger writes one entry per completed request.
type AccessLogger struct {
	zl            zerolog.Logger
	config        config.AccessLogConfig
	output        io.Writer
	parsedProxies parsedProxiesContainer
}

// ErrorLogger writes leveled operational messages.
type ErrorLogger struct {
	mu     sync.Mutex
	zl     zerolog.Logger
	config config.ErrorLogConfig
	output io.Writer
}

// Logger is a general logger that contains specific loggers for access and errors.
type Logger struct {
	accessLog      *AccessLogger
	errorLog       *ErrorLogger
	globalLogLevel config.LogLevel
}

// NewLogger creates and configures a new Logger instance.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	l := &Logger{globalLogLevel: cfg.LogLevel}

	errorCfg := config.ErrorLogConfig{Target: config.DefaultErrorLogTarget}
	if cfg.ErrorLog != nil && cfg.ErrorLog.Target != "" {
		errorCfg = *cfg.ErrorLog
	}
	errorOutput, err := openTarget(errorCfg.Target, cfg.Rotation)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}
	l.errorLog = &ErrorLogger{
		zl:     newErrorZerolog(errorOutput, cfg.LogLevel),
		config: errorCfg,
		output: errorOutput,
	}

	if cfg.AccessLog != nil && (cfg.AccessLog.Enabled == nil || *cfg.AccessLog.Enabled) {
		parsedProxies, errP := preParseTrustedProxies(cfg.AccessLog.TrustedProxies)
		if errP != nil {
			closeTarget(errorOutput)
			return nil, fmt.Errorf("failed to parse trusted proxies for access log: %w", errP)
		}

		target := cfg.AccessLog.Target
		if target == "" {
			target = config.DefaultAccessLogTarget
		}
		accessOutput, errOpen := openTarget(target, cfg.Rotation)
		if errOpen != nil {
			closeTarget(errorOutput)
			return nil, fmt.Errorf("failed to open access log: %w", errOpen)
		}
		l.accessLog = newAccessLogger(*cfg.AccessLog, accessOutput, parsedProxies)
	}

	return l, nil
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	return &Logger{
		errorLog:       &ErrorLogger{zl: zerolog.Nop(), output: io.Discard},
		globalLogLevel: config.LogLevelError,
	}
}

// NewTestLogger returns a Logger writing JSON error and access entries to w at DEBUG level.
func NewTestLogger(w io.Writer) *Logger {
	return &Logger{
		errorLog: &ErrorLogger{
			zl:     newErrorZerolog(w, config.LogLevelDebug),
			config: config.ErrorLogConfig{Target: "test"},
			output: w,
		},
		accessLog:      newAccessLogger(config.AccessLogConfig{Format: config.AccessLogFormatJSON}, w, parsedProxiesContainer{}),
		globalLogLevel: config.LogLevelDebug,
	}
}

func newErrorZerolog(w io.Writer, level config.LogLevel) zerolog.Logger {
	return zerolog.New(w).Level(zerologLevel(level)).With().Timestamp().Logger()
}

func newAccessLogger(cfg config.AccessLogConfig, w io.Writer, proxies parsedProxiesContainer) *AccessLogger {
	var sink io.Writer = w
	if cfg.Format == config.AccessLogFormatText {
		sink = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.RFC3339}
	}
	return &AccessLogger{
		zl:            zerolog.New(sink).With().Timestamp().Logger(),
		config:        cfg,
		output:        w,
		parsedProxies: proxies,
	}
}

// openTarget maps a configured target to a writer. File targets are rotated by lumberjack.
func openTarget(target string, rot *config.RotationConfig) (io.Writer, error) {
	switch target {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}

	// lumberjack opens lazily; probe now so a bad path fails at startup.
	probe, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", target, err)
	}
	probe.Close()

	lj := &lumberjack.Logger{Filename: target}
	if rot != nil {
		lj.MaxSize = rot.MaxSizeMB
		lj.MaxBackups = rot.MaxBackups
		lj.MaxAge = rot.MaxAgeDays
		lj.Compress = rot.Compress
	}
	return lj, nil
}

func closeTarget(w io.Writer) error {
	if lj, ok := w.(*lumberjack.Logger); ok {
		return lj.Close()
	}
	return nil
}

func zerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// preParseTrustedProxies converts string representations of IPs and CIDRs
// into net.IP and *net.IPNet values.
func preParseTrustedProxies(proxyStrings []string) (parsedProxiesContainer, error) {
	var container parsedProxiesContainer
	for _, pStr := range proxyStrings {
		pStr = strings.TrimSpace(pStr)
		if pStr == "" {
			continue
		}
		if strings.Contains(pStr, "/") {
			_, ipNet, err := net.ParseCIDR(pStr)
			if err != nil {
				return parsedProxiesContainer{}, fmt.Errorf("invalid CIDR string in trusted_proxies '%s': %w", pStr, err)
			}
			container.cidrs = append(container.cidrs, ipNet)
			continue
		}
		ip := net.ParseIP(pStr)
		if ip == nil {
			return parsedProxiesContainer{}, fmt.Errorf("invalid IP string in trusted_proxies '%s'", pStr)
		}
		container.ips = append(container.ips, ip)
	}
	return container, nil
}

func isIPTrusted(ip net.IP, trusted parsedProxiesContainer) bool {
	if ip == nil {
		return false
	}
	for _, cidr := range trusted.cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	for _, tip := range trusted.ips {
		if tip.Equal(ip) {
			return true
		}
	}
	return false
}

// getRealClientIP walks realIPHeaderName right to left and returns the first
// address that is not a trusted proxy. Without a usable header the direct peer wins.
func getRealClientIP(remoteAddr string, headers http.Header, realIPHeaderName string, trusted parsedProxiesContainer) string {
	peer := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		peer = host
	} else if ip := net.ParseIP(remoteAddr); ip != nil {
		peer = ip.String()
	}

	if realIPHeaderName == "" {
		return peer
	}
	headerValue := headers.Get(realIPHeaderName)
	if headerValue == "" {
		return peer
	}

	hops := strings.Split(headerValue, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ipStr := strings.TrimSpace(hops[i])
		if ipStr == "" {
			continue
		}
		ip := net.ParseIP(ipStr)
		if ip == nil {
			// A malformed hop makes the chain unreliable.
			return peer
		}
		if !isIPTrusted(ip, trusted) {
			return ipStr
		}
	}
	return peer
}

// LogAccess writes an access log entry for a completed request.
func (al *AccessLogger) LogAccess(req *http.Request, requestID string, status int, responseBytes int64, duration time.Duration) {
	if al == nil {
		return
	}

	_, clientPort, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		clientPort = "0"
	}
	realIPHeader := ""
	if al.config.RealIPHeader != nil {
		realIPHeader = *al.config.RealIPHeader
	}

	ev := al.zl.Log().
		Str("remote_addr", getRealClientIP(req.RemoteAddr, req.Header, realIPHeader, al.parsedProxies)).
		Str("remote_port", clientPort).
		Str("protocol", req.Proto).
		Str("method", req.Method).
		Str("uri", req.RequestURI).
		Int("status", status).
		Int64("resp_bytes", responseBytes).
		Int64("duration_ms", duration.Milliseconds())
	if requestID != "" {
		ev = ev.Str("request_id", requestID)
	}
	if ua := req.UserAgent(); ua != "" {
		ev = ev.Str("user_agent", ua)
	}
	if ref := req.Referer(); ref != "" {
		ev = ev.Str("referer", ref)
	}
	ev.Send()
}

// LogError writes msg at level if level passes the configured threshold.
func (el *ErrorLogger) LogError(level config.LogLevel, msg string, fields LogFields) {
	if el == nil {
		return
	}
	var ev *zerolog.Event
	switch level {
	case config.LogLevelDebug:
		ev = el.zl.Debug()
	case config.LogLevelWarning:
		ev = el.zl.Warn()
	case config.LogLevelError:
		ev = el.zl.Error()
	default:
		ev = el.zl.Info()
	}
	if ev == nil {
		return
	}
	if len(fields) > 0 {
		ev = ev.Fields(map[string]interface{}(fields))
	}
	ev.Msg(msg)
}

func (l *Logger) Info(msg string, fields LogFields) {
	l.errorLog.LogError(config.LogLevelInfo, msg, fields)
}

func (l *Logger) Error(msg string, fields LogFields) {
	l.errorLog.LogError(config.LogLevelError, msg, fields)
}

func (l *Logger) Debug(msg string, fields LogFields) {
	l.errorLog.LogError(config.LogLevelDebug, msg, fields)
}

func (l *Logger) Warn(msg string, fields LogFields) {
	l.errorLog.LogError(config.LogLevelWarning, msg, fields)
}

// Access records a completed request. It is a no-op when access logging is disabled.
func (l *Logger) Access(req *http.Request, requestID string, status int, responseBytes int64, duration time.Duration) {
	l.accessLog.LogAccess(req, requestID, status, responseBytes, duration)
}

// AccessLogEnabled reports whether Access writes anything.
func (l *Logger) AccessLogEnabled() bool {
	return l.accessLog != nil
}

// CloseLogFiles closes file-backed targets. Standard streams are left open.
func (l *Logger) CloseLogFiles() error {
	var firstErr error
	if l.accessLog != nil {
		firstErr = closeTarget(l.accessLog.output)
	}
	if l.errorLog != nil {
		if err := closeTarget(l.errorLog.output); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReopenLogFiles rotates file-backed targets; the server calls it on SIGHUP.
func (l *Logger) ReopenLogFiles() error {
	if l.errorLog != nil {
		l.errorLog.mu.Lock()
		defer l.errorLog.mu.Unlock()
		if lj, ok := l.errorLog.output.(*lumberjack.Logger); ok {
			if err := lj.Rotate(); err != nil {
				return fmt.Errorf("failed to rotate error log %s: %w", lj.Filename, err)
			}
		}
	}
	if l.accessLog != nil {
		if lj, ok := l.accessLog.output.(*lumberjack.Logger); ok {
			if err := lj.Rotate(); err != nil {
				return fmt.Errorf("failed to rotate access log %s: %w", lj.Filename, err)
			}
		}
	}
	return nil
}
