package logging

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
)

// slog has no fatal level
const slogLevelFatal = slog.Level(12)

// DefaultLogger writes structured records through log/slog.
// Debug/Info/Warn/Error map to the slog levels of the same name,
// Fatal logs at a level above Error and exits the process.
type DefaultLogger struct {
	handler slog.Handler
	level   *slog.LevelVar
	fields  Fields
	exit    func(code int)
}

// NewDefaultLogger creates a text logger on stderr at Info level
func NewDefaultLogger() *DefaultLogger {
	return NewDefaultLoggerWithWriter(os.Stderr, false)
}

// NewDefaultLoggerWithWriter creates a logger on w, as JSON when asJSON is set
func NewDefaultLoggerWithWriter(w io.Writer, asJSON bool) *DefaultLogger {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == slogLevelFatal {
					a.Value = slog.StringValue(FatalLevel.String())
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if asJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &DefaultLogger{
		handler: handler,
		level:   level,
		fields:  make(Fields),
		exit:    os.Exit,
	}
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slogLevelFatal
	}
}

func (d *DefaultLogger) log(level Level, err error, msg string, fields ...Fields) {
	lvl := toSlogLevel(level)
	ctx := context.Background()
	if !d.handler.Enabled(ctx, lvl) {
		return
	}

	allFields := make(Fields, len(d.fields))
	maps.Copy(allFields, d.fields)
	for _, f := range fields {
		maps.Copy(allFields, f)
	}

	// sorted keys keep output stable between runs
	keys := slices.Sorted(maps.Keys(allFields))
	attrs := make([]slog.Attr, 0, len(keys)+1)
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, allFields[k]))
	}

	logger := slog.New(d.handler)
	logger.LogAttrs(ctx, lvl, msg, attrs...)

	if level == FatalLevel {
		d.exit(1)
	}
}

func (d *DefaultLogger) Debug(msg string, fields ...Fields) {
	d.log(DebugLevel, nil, msg, fields...)
}

func (d *DefaultLogger) Info(msg string, fields ...Fields) {
	d.log(InfoLevel, nil, msg, fields...)
}

func (d *DefaultLogger) Warn(msg string, fields ...Fields) {
	d.log(WarnLevel, nil, msg, fields...)
}

func (d *DefaultLogger) Error(err error, msg string, fields ...Fields) {
	d.log(ErrorLevel, err, msg, fields...)
}

func (d *DefaultLogger) Fatal(err error, msg string, fields ...Fields) {
	d.log(FatalLevel, err, msg, fields...)
}

func (d *DefaultLogger) WithFields(fields Fields) Logger {
	newFields := make(Fields, len(d.fields)+len(fields))
	maps.Copy(newFields, d.fields)
	maps.Copy(newFields, fields)

	return &DefaultLogger{
		handler: d.handler,
		level:   d.level,
		fields:  newFields,
		exit:    d.exit,
	}
}

func (d *DefaultLogger) WithContext(ctx context.Context) Logger {
	if fields, ok := fieldsFromContext(ctx); ok {
		return d.WithFields(fields)
	}
	return d
}

// SetLevel changes the level for this logger and every logger derived from it
func (d *DefaultLogger) SetLevel(level Level) {
	d.level.Set(toSlogLevel(level))
}

// NoOpLogger discards everything. Tests install it to keep output quiet.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, fields ...Fields)            {}
func (n *NoOpLogger) Info(msg string, fields ...Fields)             {}
func (n *NoOpLogger) Warn(msg string, fields ...Fields)             {}
func (n *NoOpLogger) Error(err error, msg string, fields ...Fields) {}
func (n *NoOpLogger) Fatal(err error, msg string, fields ...Fields) {}
func (n *NoOpLogger) WithFields(fields Fields) Logger               { return n }
func (n *NoOpLogger) WithContext(ctx context.Context) Logger        { return n }
func (n *NoOpLogger) SetLevel(level Level)                          {}
