package logging

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// recordingExporter keeps exported log records in memory.
type recordingExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *recordingExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range records {
		e.records = append(e.records, records[i].Clone())
	}
	return nil
}

func (e *recordingExporter) Shutdown(context.Context) error   { return nil }
func (e *recordingExporter) ForceFlush(context.Context) error { return nil }

func (e *recordingExporter) all() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sdklog.Record(nil), e.records...)
}

func attrs(r sdklog.Record) map[string]string {
	out := map[string]string{}
	r.WalkAttributes(func(kv log.KeyValue) bool {
		out[kv.Key] = kv.Value.String()
		return true
	})
	return out
}

func newBridgedLogger(t *testing.T, level zapcore.Level) (*Logger, *bytes.Buffer, *recordingExporter) {
	t.Helper()
	exp := &recordingExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	cfg := NewDefaultConfig()
	cfg.Format = "json"
	cfg.Level = level
	buf := &bytes.Buffer{}
	logger, err := newLogger(cfg, buf, provider)
	require.NoError(t, err)
	return logger, buf, exp
}

func TestBridge_EmitsToStderrAndProvider(t *testing.T) {
	logger, buf, exp := newBridgedLogger(t, zapcore.InfoLevel)
	ctx := WithCycleID(context.Background(), "01")

	logger.Named("cycle").Warn(ctx, "cycle branch not pushed", zap.String("branch", "feat/cycle01"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "cycle branch not pushed", lines[0]["msg"])

	records := exp.all()
	require.Len(t, records, 1)
	assert.Equal(t, "cycle branch not pushed", records[0].Body().AsString())
	assert.Equal(t, log.SeverityWarn, records[0].Severity())
	a := attrs(records[0])
	assert.Equal(t, "feat/cycle01", a["branch"])
	assert.Equal(t, "01", a["cycle.id"])
}

func TestBridge_RespectsLevel(t *testing.T) {
	logger, buf, exp := newBridgedLogger(t, zapcore.WarnLevel)

	logger.Info(context.Background(), "hidden")
	logger.Debug(context.Background(), "hidden too")

	assert.Empty(t, buf.String())
	assert.Empty(t, exp.all())
}

func TestBridge_RedactsBeforeExport(t *testing.T) {
	logger, _, exp := newBridgedLogger(t, zapcore.InfoLevel)

	logger.With(zap.String("api_key", "sk-live")).Info(context.Background(),
		"calling agent with Bearer abc123",
		zap.String("token", "ghp_aaaaaaaaaaaaaaaaaaaaaaaa"),
		zap.String("header", "Bearer abc123"),
		zap.Int("attempt", 2),
	)

	records := exp.all()
	require.Len(t, records, 1)
	assert.Equal(t, "calling agent with [REDACTED]", records[0].Body().AsString())
	a := attrs(records[0])
	assert.Equal(t, "[REDACTED]", a["api_key"])
	assert.Equal(t, "[REDACTED]", a["token"])
	assert.Equal(t, "[REDACTED]", a["header"])
	assert.Equal(t, "2", a["attempt"])
}

func TestNewLoggerWithProvider_NilProvider(t *testing.T) {
	logger, err := NewLoggerWithProvider(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
