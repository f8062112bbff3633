package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/engagement-simulator/internal/logging"
)

// TracerName is the instrumentation scope used by the decision core.
const TracerName = "github.com/signalsfoundry/engagement-simulator"

// Tick phases traced by StartPhase.
const (
	PhaseCoordinate = "coordinate"
	PhaseRelease    = "release"
	PhaseGuide      = "guide"
	PhaseResolve    = "resolve"
)

const defaultOTLPEndpoint = "localhost:4317"

// TracingConfig governs how simulation tracing is initialised.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // used when Exporter == otlp
	// TickSampleRatio is the fraction of ticks traced. Spans opened outside
	// a tick follow the parent-based default and are always kept.
	TickSampleRatio float64
	// Output receives stdout exporter spans; os.Stderr when nil so that the
	// run summary on stdout stays readable.
	Output io.Writer
}

// Run identifies one simulation run on every exported span.
type Run struct {
	ID        string
	Scenario  string
	Seed      uint64
	Launchers int
	Threats   int
}

func (r Run) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64("sim.seed", int64(r.Seed)),
		attribute.Int("sim.launchers", r.Launchers),
		attribute.Int("sim.threats", r.Threats),
	}
	if r.ID != "" {
		attrs = append(attrs, attribute.String("sim.run_id", r.ID))
	}
	if r.Scenario != "" {
		attrs = append(attrs, attribute.String("sim.scenario", r.Scenario))
	}
	return attrs
}

// TracingConfigFromEnv reads SIM_TRACING_* and SIM_OTLP_ENDPOINT. Out of
// range ratios fall back to tracing every tick.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:         strings.EqualFold(os.Getenv("SIM_TRACING_ENABLED"), "true"),
		ServiceName:     envOr("SIM_TRACING_SERVICE_NAME", "engagement-simulator"),
		Exporter:        strings.ToLower(envOr("SIM_TRACING_EXPORTER", "stdout")),
		Endpoint:        os.Getenv("SIM_OTLP_ENDPOINT"),
		TickSampleRatio: 1,
	}
	if raw := os.Getenv("SIM_TRACING_SAMPLE_RATIO"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			cfg.TickSampleRatio = v
		}
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// InitTracing installs the global tracer provider for run. The returned
// function flushes and stops it.
func InitTracing(ctx context.Context, cfg TracingConfig, run Run, log logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNoop(log)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.namespace", "engagement"),
		),
		resource.WithAttributes(run.attributes()...),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(tickSampler(cfg.TickSampleRatio)),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("tick_sample_ratio", cfg.TickSampleRatio),
	)
	return tp.Shutdown, nil
}

// tickSampler samples root tick spans by ratio and keeps every other root,
// so hierarchy builds started outside the loop are never dropped. Children
// follow their parent.
func tickSampler(ratio float64) sdktrace.Sampler {
	return sdktrace.ParentBased(rootSampler{
		ticks: sdktrace.TraceIDRatioBased(ratio),
	})
}

type rootSampler struct {
	ticks sdktrace.Sampler
}

func (s rootSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if p.Name == tickSpanName {
		return s.ticks.ShouldSample(p)
	}
	return sdktrace.AlwaysSample().ShouldSample(p)
}

func (s rootSampler) Description() string {
	return "TickRoot{" + s.ticks.Description() + "}"
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes spans within five seconds. Failures are only
// logged.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logging.OrNoop(log).Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

// Tracer returns the decision core's tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan opens a span named name on the decision core's tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

const tickSpanName = "sim.Tick"

// StartTick opens the root span of the tick ending at simulation time now.
// Clustering and assignment spans opened below it become its children.
func StartTick(ctx context.Context, tick int64, now time.Duration) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return Tracer().Start(ctx, tickSpanName,
		trace.WithNewRoot(),
		trace.WithAttributes(
			attribute.Int64("sim.tick", tick),
			attribute.Float64("sim.time_s", now.Seconds()),
		),
	)
}

// StartPhase opens the span of one tick phase, e.g. PhaseRelease.
func StartPhase(ctx context.Context, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "sim."+phase, attrs...)
}
