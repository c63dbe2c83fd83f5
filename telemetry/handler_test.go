package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func newTestHandler(t *testing.T, teeToLog bool) (*Handler, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	plain := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: LevelTrace})
	h := New(plain, metricnoop.NewMeterProvider().Meter("test"), tracenoop.NewTracerProvider().Tracer("test"), teeToLog)
	return h, &buf
}

func TestHandlerPassesOrdinaryLevelsThrough(t *testing.T) {
	h, buf := newTestHandler(t, false)
	logger := slog.New(h)
	logger.Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "hello")
}

func TestHandlerEnabled(t *testing.T) {
	h, _ := newTestHandler(t, false)
	assert.True(t, h.Enabled(context.Background(), LevelTrace))
	assert.True(t, h.Enabled(context.Background(), LevelMetric))
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
}

func TestHandlerSpanLifecycleDoesNotError(t *testing.T) {
	h, buf := newTestHandler(t, true)
	slog.SetDefault(slog.New(h))

	ctx := h.SpanStart(context.Background(), "do-work", slog.String("operator.id", "op-1"))
	h.SpanEvent(ctx, "checkpoint-barrier-seen")
	h.SpanEnd(ctx, "do-work")

	assert.Contains(t, buf.String(), "do-work")
	assert.Contains(t, buf.String(), "checkpoint-barrier-seen")
}

func TestHandlerSpanEventWithoutStartErrors(t *testing.T) {
	h, _ := newTestHandler(t, false)
	ctx := withSpanFrame(context.Background(), &spanFrame{ctx: context.Background()})
	r := slog.Record{Level: LevelTrace, Message: "orphan-event"}
	r.AddAttrs(slog.String("op", spanEvent))
	err := h.Handle(ctx, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "span not started")
}

func TestHandlerMetricRecording(t *testing.T) {
	h, buf := newTestHandler(t, true)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, makeMetricRecord(t, "numRecordsIn", kindInt64Counter, 1)))

	assert.Contains(t, buf.String(), "numRecordsIn")
}

func TestHandlerMetricMissingValueErrors(t *testing.T) {
	h, _ := newTestHandler(t, false)
	r := slog.Record{Level: LevelMetric, Message: "badMetric"}
	r.AddAttrs(slog.String("kind", string(kindInt64Counter)))
	err := h.Handle(context.Background(), r)
	require.Error(t, err)
}

func TestForOperatorReturnsUsableMetricGroup(t *testing.T) {
	h, _ := newTestHandler(t, false)
	mg := h.ForOperator("op-7")
	require.NotNil(t, mg)
	counter := mg.Counter("numRecordsIn")
	require.NotNil(t, counter)
	counter.Inc(1) // must not panic against a noop meter
}

func makeMetricRecord(t *testing.T, name string, kind metricKind, value float64) slog.Record {
	t.Helper()
	r := slog.Record{Level: LevelMetric, Message: name}
	r.AddAttrs(slog.String("kind", string(kind)), slog.Float64("value", value))
	return r
}
