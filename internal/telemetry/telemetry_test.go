package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/accdd/internal/config"
	"github.com/fyrsmithlabs/accdd/internal/logging"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), config.Default().Telemetry, nil)
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Healthy)
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_EnabledRequiresServiceName(t *testing.T) {
	cfg := config.Default().Telemetry
	cfg.Enabled = true
	cfg.ServiceName = ""
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNew_WithInMemoryExporter(t *testing.T) {
	cfg := config.Default().Telemetry
	cfg.Enabled = true
	cfg.ExportInterval = config.Duration(time.Hour)
	exp := tracetest.NewInMemoryExporter()
	tl := logging.NewTestLogger()

	tel, err := New(context.Background(), cfg, tl.Logger, WithTraceExporter(exp))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())

	_, span := tel.Tracer("accdd/test").Start(context.Background(), "cycle.node.coder_session")
	span.SetAttributes(attribute.String("cycle.id", "01"))
	span.End()

	require.NoError(t, tel.ForceFlush(context.Background()))
	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "cycle.node.coder_session", spans[0].Name)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = tel.Shutdown(ctx)
	assert.False(t, tel.Health().Healthy)
	tl.AssertNotLogged(t, zapcore.WarnLevel, "provider failed")
}

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, trace.AlwaysSample().Description(), samplerFor(1).Description())
	assert.Equal(t, trace.NeverSample().Description(), samplerFor(0).Description())
	assert.Equal(t, trace.TraceIDRatioBased(0.5).Description(), samplerFor(0.5).Description())
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("collector:4318"))
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

// memLogExporter keeps exported log records in memory.
type memLogExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memLogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range records {
		e.records = append(e.records, records[i].Clone())
	}
	return nil
}

func (e *memLogExporter) Shutdown(context.Context) error   { return nil }
func (e *memLogExporter) ForceFlush(context.Context) error { return nil }

func TestNew_LoggerProviderFeedsLogBridge(t *testing.T) {
	cfg := config.Default().Telemetry
	cfg.Enabled = true
	cfg.ExportInterval = config.Duration(time.Hour)
	exp := &memLogExporter{}

	tel, err := New(context.Background(), cfg, nil,
		WithTraceExporter(tracetest.NewInMemoryExporter()),
		WithLogExporter(exp),
	)
	require.NoError(t, err)
	require.NotNil(t, tel.LoggerProvider())

	lcfg, err := logging.NewConfig("info", "json")
	require.NoError(t, err)
	logger, err := logging.NewLoggerWithProvider(lcfg, tel.LoggerProvider())
	require.NoError(t, err)
	logger.Info(context.Background(), "cycle merged", zap.String("base", "dev/int-sess-1"))

	require.NoError(t, tel.ForceFlush(context.Background()))
	exp.mu.Lock()
	defer exp.mu.Unlock()
	require.Len(t, exp.records, 1)
	assert.Equal(t, "cycle merged", exp.records[0].Body().AsString())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = tel.Shutdown(ctx)
}

func TestNew_DisabledHasNoLoggerProvider(t *testing.T) {
	tel, err := New(context.Background(), config.Default().Telemetry, nil)
	require.NoError(t, err)
	assert.Nil(t, tel.LoggerProvider())
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	_, span := tt.Tracer("test").Start(ctx, "gateway.start_session")
	span.SetAttributes(attribute.Int64("iteration", 2))
	span.End()

	tt.AssertSpanExists(t, "gateway.start_session")
	tt.AssertSpanAttribute(t, "gateway.start_session", "iteration", int64(2))

	counter, err := tt.Meter("test").Int64Counter("sessions")
	require.NoError(t, err)
	counter.Add(ctx, 2)
	counter.Add(ctx, 3)
	assert.Equal(t, int64(5), tt.Int64Sum(ctx, "sessions"))
	assert.Equal(t, int64(0), tt.Int64Sum(ctx, "missing"))
}
