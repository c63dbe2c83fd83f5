// Package telemetry bridges this module's chain.MetricGroup and
// structured logging onto otel, adapted from the teacher's own
// telemetry handler (SPEC_FULL §1.1.a, §2.1): chain lifecycle events
// are logged through slog at two reserved levels that this package's
// Handler intercepts and turns into spans or metric recordings instead
// of log lines.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Reserved slog levels a Handler intercepts before they reach its
// passthrough handler. LevelTrace below LevelDebug keeps span
// bookkeeping out of ordinary verbose logs; LevelMetric sits one notch
// above it for the same reason.
const (
	LevelTrace  slog.Level = slog.LevelDebug - 8
	LevelMetric slog.Level = slog.LevelDebug - 4
)

// span operation markers, carried on the "op" attribute of a
// LevelTrace record.
const (
	spanStart = "start"
	spanEvent = "event"
	spanEnd   = "end"
)

// metric instrument kinds, carried on the "kind" attribute of a
// LevelMetric record.
type metricKind string

const (
	kindFloat64Counter   metricKind = "float64_counter"
	kindInt64Counter     metricKind = "int64_counter"
	kindFloat64Histogram metricKind = "float64_histogram"
	kindInt64Histogram   metricKind = "int64_histogram"
)

type spanCtxKey struct{}

// spanFrame holds the in-flight context/span pair SpanStart creates,
// so SpanEvent and SpanEnd (given only the context SpanStart returned)
// can find the span a later Handle call should act on. It is stored by
// pointer so handleTrace can mutate it in place as the span progresses
// from started to ended.
type spanFrame struct {
	ctx  context.Context
	span trace.Span
}

func withSpanFrame(ctx context.Context, f *spanFrame) context.Context {
	return context.WithValue(ctx, spanCtxKey{}, f)
}

func spanFrameFrom(ctx context.Context) (*spanFrame, bool) {
	f, ok := ctx.Value(spanCtxKey{}).(*spanFrame)
	return f, ok
}
