package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	chain "github.com/mirrorstream/chain"
)

// counterInstrument is the subset of the otel Float64Counter/Int64Counter
// API this package needs, parameterized over the numeric type so
// registerCounter can handle both with one generic function instead of
// the teacher's four near-identical WithXCounter/WithXHistogram methods.
type counterInstrument[N float64 | int64] interface {
	Add(ctx context.Context, incr N, options ...metric.AddOption)
}

type histogramInstrument[N float64 | int64] interface {
	Record(ctx context.Context, value N, options ...metric.RecordOption)
}

// recorder is the type-erased shape every registered instrument is
// reduced to, so Handle can dispatch on a record's metric name without
// caring whether the underlying instrument is a float64 counter or an
// int64 histogram.
type recorder func(ctx context.Context, value float64, attrs ...attribute.KeyValue)

// Handler is a slog.Handler that intercepts LevelTrace and LevelMetric
// records and turns them into otel spans and metric recordings,
// passing every other level through to an underlying handler
// unchanged.
type Handler struct {
	passthrough slog.Handler
	meter       metric.Meter
	tracer      trace.Tracer
	teeToLog    bool
	attributes  []attribute.KeyValue

	mu        sync.Mutex
	recorders map[string]recorder
}

// New returns a Handler wrapping logHandler (or a stderr text handler
// if nil) and recording metrics through meter and spans through
// tracer. When teeToLog is true, trace and metric records are also
// forwarded to logHandler after being recorded, useful for local
// debugging without a collector attached.
func New(logHandler slog.Handler, meter metric.Meter, tracer trace.Tracer, teeToLog bool, attrs ...attribute.KeyValue) *Handler {
	if logHandler == nil {
		logHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: LevelTrace})
	}
	return &Handler{
		passthrough: logHandler,
		meter:       meter,
		tracer:      tracer,
		teeToLog:    teeToLog,
		attributes:  attrs,
		recorders:   make(map[string]recorder),
	}
}

// ForOperator returns a chain.MetricGroup that records counters and
// gauges through this Handler's otel meter, scoped with an
// "operator.id" attribute, satisfying the per-operator MetricGroup
// every SPEC_FULL §4.6.a-wired builder call hands its operators.
func (h *Handler) ForOperator(operatorID string) chain.MetricGroup {
	return chain.NewOtelMetricGroup(h.meter, append(append([]attribute.KeyValue{}, h.attributes...), attribute.String("operator.id", operatorID))...)
}

// SpanStart begins a span named name and returns a context carrying it
// for later SpanEvent/SpanEnd calls. The span itself is created inside
// Handle, on the goroutine slog dispatches to, so the tracer is never
// touched directly by caller code.
func (h *Handler) SpanStart(ctx context.Context, name string, attrs ...slog.Attr) context.Context {
	frame := &spanFrame{ctx: ctx}
	c := withSpanFrame(ctx, frame)
	slog.LogAttrs(c, LevelTrace, name, append(attrs, slog.String("op", spanStart))...)
	return c
}

// SpanEvent adds a named event to the span started on ctx.
func (h *Handler) SpanEvent(ctx context.Context, name string, attrs ...slog.Attr) {
	slog.LogAttrs(ctx, LevelTrace, name, append(attrs, slog.String("op", spanEvent))...)
}

// SpanEnd ends the span started on ctx.
func (h *Handler) SpanEnd(ctx context.Context, name string, attrs ...slog.Attr) {
	slog.LogAttrs(ctx, LevelTrace, name, append(attrs, slog.String("op", spanEnd))...)
}

func logMetric(ctx context.Context, kind metricKind, name string, value float64, attrs []slog.Attr) {
	slog.LogAttrs(ctx, LevelMetric, name, append(attrs, slog.String("kind", string(kind)), slog.Float64("value", value))...)
}

// Float64Counter records a float64 counter metric named name.
func Float64Counter(ctx context.Context, name string, value float64, attrs ...slog.Attr) {
	logMetric(ctx, kindFloat64Counter, name, value, attrs)
}

// Int64Counter records an int64 counter metric named name.
func Int64Counter(ctx context.Context, name string, value int64, attrs ...slog.Attr) {
	logMetric(ctx, kindInt64Counter, name, float64(value), attrs)
}

// Float64Histogram records a float64 histogram observation named name.
func Float64Histogram(ctx context.Context, name string, value float64, attrs ...slog.Attr) {
	logMetric(ctx, kindFloat64Histogram, name, value, attrs)
}

// Int64Histogram records an int64 histogram observation named name.
func Int64Histogram(ctx context.Context, name string, value int64, attrs ...slog.Attr) {
	logMetric(ctx, kindInt64Histogram, name, float64(value), attrs)
}

func registerCounter[N float64 | int64](h *Handler, name string, instrument counterInstrument[N]) {
	h.register(name, func(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
		instrument.Add(ctx, N(value), metric.WithAttributes(attrs...))
	})
}

func registerHistogram[N float64 | int64](h *Handler, name string, instrument histogramInstrument[N]) {
	h.register(name, func(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
		instrument.Record(ctx, N(value), metric.WithAttributes(attrs...))
	})
}

// WithFloat64Counter pre-registers x under name, so handleMetric need
// not create one from the meter on first use.
func (h *Handler) WithFloat64Counter(name string, x metric.Float64Counter) { registerCounter(h, name, x) }

// WithInt64Counter pre-registers x under name.
func (h *Handler) WithInt64Counter(name string, x metric.Int64Counter) { registerCounter(h, name, x) }

// WithFloat64Histogram pre-registers x under name.
func (h *Handler) WithFloat64Histogram(name string, x metric.Float64Histogram) {
	registerHistogram(h, name, x)
}

// WithInt64Histogram pre-registers x under name.
func (h *Handler) WithInt64Histogram(name string, x metric.Int64Histogram) {
	registerHistogram(h, name, x)
}

func (h *Handler) register(name string, r recorder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorders[name] = r
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level == LevelTrace || level == LevelMetric || h.passthrough.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	switch r.Level {
	case LevelTrace:
		err = h.handleTrace(ctx, r)
	case LevelMetric:
		err = h.handleMetric(ctx, r)
	default:
		return h.passthrough.Handle(ctx, r)
	}
	if err != nil {
		h.passthrough.Handle(ctx, slog.Record{Time: r.Time, Level: slog.LevelWarn, Message: fmt.Sprintf("telemetry: %v", err)})
	}
	return err
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attributes = append(append([]attribute.KeyValue{}, h.attributes...), attributesFrom(attrs)...)
	next.passthrough = h.passthrough.WithAttrs(attrs)
	return &next
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	next := *h
	next.passthrough = h.passthrough.WithGroup(name)
	return &next
}

func (h *Handler) handleTrace(ctx context.Context, r slog.Record) error {
	op, attrs := splitRecord(r, "op")
	if op == "" {
		return fmt.Errorf("trace record %q missing op attribute", r.Message)
	}
	frame, ok := spanFrameFrom(ctx)
	if !ok {
		return fmt.Errorf("trace record %q: no span frame in context", r.Message)
	}
	attributes := append(append([]attribute.KeyValue{}, h.attributes...), attrs...)

	switch op {
	case spanStart:
		frame.ctx, frame.span = h.tracer.Start(frame.ctx, r.Message, trace.WithTimestamp(r.Time), trace.WithAttributes(attributes...))
	case spanEvent:
		if frame.span == nil {
			return fmt.Errorf("trace event %q: span not started", r.Message)
		}
		frame.span.AddEvent(r.Message, trace.WithTimestamp(r.Time), trace.WithAttributes(attributes...))
	case spanEnd:
		if frame.span == nil {
			return fmt.Errorf("trace end %q: span not started", r.Message)
		}
		frame.span.End(trace.WithTimestamp(r.Time))
	default:
		return fmt.Errorf("trace record %q: unknown op %q", r.Message, op)
	}

	if h.teeToLog {
		return h.passthrough.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) handleMetric(ctx context.Context, r slog.Record) error {
	kindStr, attrs := splitRecord(r, "kind")
	if kindStr == "" {
		return fmt.Errorf("metric record %q missing kind attribute", r.Message)
	}
	value, ok := floatAttr(r, "value")
	if !ok {
		return fmt.Errorf("metric record %q missing value attribute", r.Message)
	}

	rec, err := h.recorderFor(r.Message, metricKind(kindStr))
	if err != nil {
		return err
	}
	rec(ctx, value, append(append([]attribute.KeyValue{}, h.attributes...), attrs...)...)

	if h.teeToLog {
		return h.passthrough.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) recorderFor(name string, kind metricKind) (recorder, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.recorders[name]; ok {
		return rec, nil
	}

	var rec recorder
	var err error
	switch kind {
	case kindFloat64Counter:
		var c metric.Float64Counter
		if c, err = h.meter.Float64Counter(name); err == nil {
			rec = func(ctx context.Context, v float64, attrs ...attribute.KeyValue) { c.Add(ctx, v, metric.WithAttributes(attrs...)) }
		}
	case kindInt64Counter:
		var c metric.Int64Counter
		if c, err = h.meter.Int64Counter(name); err == nil {
			rec = func(ctx context.Context, v float64, attrs ...attribute.KeyValue) {
				c.Add(ctx, int64(v), metric.WithAttributes(attrs...))
			}
		}
	case kindFloat64Histogram:
		var c metric.Float64Histogram
		if c, err = h.meter.Float64Histogram(name); err == nil {
			rec = func(ctx context.Context, v float64, attrs ...attribute.KeyValue) {
				c.Record(ctx, v, metric.WithAttributes(attrs...))
			}
		}
	case kindInt64Histogram:
		var c metric.Int64Histogram
		if c, err = h.meter.Int64Histogram(name); err == nil {
			rec = func(ctx context.Context, v float64, attrs ...attribute.KeyValue) {
				c.Record(ctx, int64(v), metric.WithAttributes(attrs...))
			}
		}
	default:
		return nil, fmt.Errorf("unknown metric kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	h.recorders[name] = rec
	return rec, nil
}

// splitRecord pulls the string-valued flagKey attribute out of r and
// returns it alongside every other attribute converted for otel.
func splitRecord(r slog.Record, flagKey string) (string, []attribute.KeyValue) {
	var flag string
	attrs := make([]attribute.KeyValue, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == flagKey {
			flag = a.Value.String()
			return true
		}
		if a.Key == "value" {
			return true
		}
		attrs = append(attrs, convertAttr(a))
		return true
	})
	return flag, attrs
}

func floatAttr(r slog.Record, key string) (float64, bool) {
	var value float64
	var found bool
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			value = a.Value.Float64()
			found = true
			return false
		}
		return true
	})
	return value, found
}

func attributesFrom(attrs []slog.Attr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, convertAttr(a))
	}
	return out
}

func convertAttr(a slog.Attr) attribute.KeyValue {
	switch a.Value.Kind() {
	case slog.KindString:
		return attribute.String(a.Key, a.Value.String())
	case slog.KindTime:
		return attribute.String(a.Key, a.Value.Time().Format(time.RFC3339Nano))
	case slog.KindBool:
		return attribute.Bool(a.Key, a.Value.Bool())
	case slog.KindInt64:
		return attribute.Int64(a.Key, a.Value.Int64())
	case slog.KindFloat64:
		return attribute.Float64(a.Key, a.Value.Float64())
	default:
		return attribute.String(a.Key, a.Value.String())
	}
}
