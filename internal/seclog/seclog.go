// Package seclog writes security and audit events as JSON lines.
package seclog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mssola/useragent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const maxFieldLength = 500

// EventType classifies an event.
type EventType string

const (
	TypeSecurity  EventType = "security"
	TypeAudit     EventType = "audit"
	TypeError     EventType = "error"
	TypeRateLimit EventType = "rate_limit"
)

// Severity ranks an event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is one security log entry.
type Event struct {
	Type      EventType
	IP        string
	UserAgent string
	Domain    string
	Email     string
	Message   string
	Severity  Severity
}

// Logger appends events to a dedicated zap logger.
type Logger struct {
	events *zap.Logger
	app    *zap.Logger
	closer io.Closer
}

// Open writes events to path, creating parent directories. An empty path logs to stderr.
func Open(path string, app *zap.Logger) (*Logger, error) {
	if path == "" {
		return New(zapcore.Lock(os.Stderr), app), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create security log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open security log: %w", err)
	}
	l := New(zapcore.AddSync(f), app)
	l.closer = f
	return l, nil
}

// New writes events to w. app receives a mirror of high and critical events.
func New(w zapcore.WriteSyncer, app *zap.Logger) *Logger {
	if app == nil {
		app = zap.NewNop()
	}
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, zapcore.DebugLevel)
	return &Logger{events: zap.New(core), app: app.Named("security")}
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	_ = l.events.Sync()
	if l.closer != nil {
		if err := l.closer.Close(); err != nil {
			return fmt.Errorf("close security log: %w", err)
		}
	}
	return nil
}

// Log writes e after sanitizing every string field.
func (l *Logger) Log(e Event) {
	fields := []zap.Field{
		zap.String("type", string(e.Type)),
		zap.String("ip", Sanitize(e.IP)),
		zap.String("severity", string(e.Severity)),
	}
	if e.UserAgent != "" {
		ua := useragent.New(e.UserAgent)
		browser, version := ua.Browser()
		fields = append(fields,
			zap.String("userAgent", Sanitize(e.UserAgent)),
			zap.String("browser", Sanitize(strings.TrimSpace(browser+" "+version))),
			zap.String("os", Sanitize(ua.OS())),
			zap.Bool("bot", ua.Bot()),
		)
	}
	if e.Domain != "" {
		fields = append(fields, zap.String("domain", Sanitize(e.Domain)))
	}
	if e.Email != "" {
		fields = append(fields, zap.String("email", Sanitize(e.Email)))
	}
	msg := Sanitize(e.Message)
	l.events.Info(msg, fields...)

	if e.Severity == SeverityHigh || e.Severity == SeverityCritical {
		l.app.Error(strings.ToUpper(string(e.Type))+": "+msg, zap.String("ip", Sanitize(e.IP)))
	}
}

// SuspiciousActivity records a high severity security event.
func (l *Logger) SuspiciousActivity(ip, userAgent, reason string) {
	l.Log(Event{
		Type:      TypeSecurity,
		IP:        ip,
		UserAgent: userAgent,
		Message:   "suspicious activity detected: " + reason,
		Severity:  SeverityHigh,
	})
}

// RateLimitExceeded records a denied request.
func (l *Logger) RateLimitExceeded(ip, userAgent, endpoint string) {
	l.Log(Event{
		Type:      TypeRateLimit,
		IP:        ip,
		UserAgent: userAgent,
		Message:   "rate limit exceeded for endpoint: " + endpoint,
		Severity:  SeverityMedium,
	})
}

// AuditRequest records an accepted audit request.
func (l *Logger) AuditRequest(ip, userAgent, domain, email, mode string) {
	l.Log(Event{
		Type:      TypeAudit,
		IP:        ip,
		UserAgent: userAgent,
		Domain:    domain,
		Email:     email,
		Message:   fmt.Sprintf("%s audit requested for %s", mode, domain),
		Severity:  SeverityLow,
	})
}

// Error records a failure while handling a request.
func (l *Logger) Error(ip, userAgent, message string) {
	l.Log(Event{
		Type:      TypeError,
		IP:        ip,
		UserAgent: userAgent,
		Message:   "error: " + message,
		Severity:  SeverityMedium,
	})
}

// Sanitize replaces CR, LF and TAB with spaces and truncates to 500 characters.
func Sanitize(s string) string {
	s = strings.NewReplacer("\r", " ", "\n", " ", "\t", " ").Replace(s)
	if len(s) <= maxFieldLength {
		return s
	}
	r := []rune(s)
	if len(r) > maxFieldLength {
		r = r[:maxFieldLength]
	}
	return string(r)
}
