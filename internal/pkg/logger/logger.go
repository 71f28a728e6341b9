package logger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) zap() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel maps a config string onto a Level. Unknown values mean INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger provides structured logging with optional PII redaction on top of
// a zap core.
type Logger struct {
	mu        sync.RWMutex
	sugared   *zap.SugaredLogger
	level     zap.AtomicLevel
	redactPII atomic.Bool
}

var defaultLogger = newDefault()

func newDefault() *Logger {
	l := &Logger{level: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
	l.redactPII.Store(true)
	l.sugared = build(l.level, false).Sugar()
	return l
}

func build(level zap.AtomicLevel, pretty bool) *zap.Logger {
	var cfg zap.Config
	if pretty {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}

	base, err := cfg.Build(zap.AddCallerSkip(2), zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		panic(err)
	}
	return base
}

// Init rebuilds the default logger from configuration.
func Init(level string, pretty bool) {
	defaultLogger.level.SetLevel(ParseLevel(level).zap())
	base := build(defaultLogger.level, pretty)
	defaultLogger.mu.Lock()
	defaultLogger.sugared = base.Sugar()
	defaultLogger.mu.Unlock()
}

// UseCore routes the default logger through core. Tests use it with an
// observer core.
func UseCore(core zapcore.Core) {
	defaultLogger.mu.Lock()
	defaultLogger.sugared = zap.New(core, zap.AddCallerSkip(2)).Sugar()
	defaultLogger.mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() error {
	defaultLogger.mu.RLock()
	defer defaultLogger.mu.RUnlock()
	return defaultLogger.sugared.Sync()
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level.SetLevel(l.zap()) }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { defaultLogger.redactPII.Store(r) }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	if !l.level.Enabled(level.zap()) {
		return
	}

	kv := make([]interface{}, 0, len(fields))
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fields[i+1]
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		if l.redactPII.Load() {
			if s, ok := val.(string); ok {
				val = redactPIIValue(key, s)
			} else if _, isStringer := val.(fmt.Stringer); isStringer {
				val = redactPIIValue(key, fmt.Sprintf("%v", val))
			}
		}
		kv = append(kv, key, val)
	}

	l.mu.RLock()
	s := l.sugared
	l.mu.RUnlock()

	switch level {
	case DEBUG:
		s.Debugw(msg, kv...)
	case WARN:
		s.Warnw(msg, kv...)
	case ERROR:
		s.Errorw(msg, kv...)
	default:
		s.Infow(msg, kv...)
	}
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	for _, k := range []string{"email", "address", "referrer", "referred", "subscriber", "recipient"} {
		if strings.Contains(key, k) {
			return RedactEmail(val)
		}
	}
	// Redact any embedded emails in generic fields
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
