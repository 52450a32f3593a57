// internal/logging/otel.go
package logging

import (
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bridgeName is the instrumentation scope of records sent through the
// OpenTelemetry log bridge.
const bridgeName = "github.com/fyrsmithlabs/accdd"

// NewLoggerWithProvider creates a stderr logger that also emits every record
// to provider. A nil provider is the same as NewLogger.
func NewLoggerWithProvider(cfg *Config, provider log.LoggerProvider) (*Logger, error) {
	return newLogger(cfg, os.Stderr, provider)
}

// newCore tees the writer core with an otelzap core when provider is set.
// Both sides apply the configured level and redaction.
func newCore(cfg *Config, w io.Writer, provider log.LoggerProvider) (zapcore.Core, error) {
	encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), cfg.Level)
	if provider == nil {
		return core, nil
	}

	bridge, err := zapcore.NewIncreaseLevelCore(
		otelzap.NewCore(bridgeName, otelzap.WithLoggerProvider(provider)),
		cfg.Level,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otel core: %w", err)
	}
	return zapcore.NewTee(core, &redactingCore{Core: bridge, enc: encoder}), nil
}

// redactingCore scrubs fields before they reach a core without an encoder.
type redactingCore struct {
	zapcore.Core
	enc *RedactingEncoder
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(c.redact(fields)), enc: c.enc}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	for _, re := range c.enc.redactRegex {
		ent.Message = re.ReplaceAllString(ent.Message, "[REDACTED]")
	}
	return c.Core.Write(ent, c.redact(fields))
}

func (c *redactingCore) redact(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch {
		case c.enc.shouldRedactKey(f.Key):
			out[i] = zap.String(f.Key, "[REDACTED]")
		case f.Type == zapcore.StringType:
			for _, re := range c.enc.redactRegex {
				f.String = re.ReplaceAllString(f.String, "[REDACTED]")
			}
			out[i] = f
		default:
			out[i] = f
		}
	}
	return out
}
