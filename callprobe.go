// Package callprobe wires the call-tree profiler into an HTTP service: a
// profiler, a store of recent trees, an N+1 detector and the configured
// reporters, behind HTTP middleware, an instrumented client and a report
// handler.
package callprobe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/fllarpy/callprobe/config"
	"github.com/fllarpy/callprobe/domain"
	"github.com/fllarpy/callprobe/exporter"
	"github.com/fllarpy/callprobe/infrastructure/storage/inmemory"
	httpinstrumentation "github.com/fllarpy/callprobe/instrumentation/http"
	"github.com/fllarpy/callprobe/internal/adapters/apmhttp"
	"github.com/fllarpy/callprobe/internal/application/collector"
	"github.com/fllarpy/callprobe/internal/logutil"
	"github.com/fllarpy/callprobe/internal/ports/http_middleware"
	"github.com/fllarpy/callprobe/internal/ports/http_reporter"
	"github.com/fllarpy/callprobe/nplusone"
	"github.com/fllarpy/callprobe/profiling"
)

const serviceVersion = "1.0.0"

type options struct {
	spanProcessors []sdktrace.SpanProcessor
	clock          profiling.Clock
}

type Option func(*options)

// WithSpanExporter batches spans to exp when reporting.otel is set.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exp))
}

// WithSpanProcessor registers sp on the tracer provider used when
// reporting.otel is set.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) { o.spanProcessors = append(o.spanProcessors, sp) }
}

// WithClock sets the clock used to time calls.
func WithClock(c profiling.Clock) Option {
	return func(o *options) { o.clock = c }
}

type Probe struct {
	config     config.Config
	profiler   *profiling.Profiler
	store      *inmemory.Store
	dispatcher *collector.Dispatcher
	reports    http.Handler
	tp         *sdktrace.TracerProvider
	kafka      *exporter.KafkaReporter
	logger     zerolog.Logger
}

func NewProbe(ctx context.Context, cfg config.Config, opts ...Option) (*Probe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	profilerOpts := []profiling.Option{profiling.WithLogger(logutil.Component("profiler"))}
	if o.clock != nil {
		profilerOpts = append(profilerOpts, profiling.WithClock(o.clock))
	}
	profiler, err := profiling.NewProfiler(cfg.ProfilerConfig(), profilerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create profiler: %w", err)
	}

	p := &Probe{
		config:   cfg,
		profiler: profiler,
		store:    inmemory.NewStore(cfg.Reporting.BufferSize),
		logger:   logutil.Component("probe"),
	}

	if p.reports, err = http_reporter.NewHandler(p.store, cfg.HTTP.ReportPath); err != nil {
		return nil, fmt.Errorf("failed to create report handler: %w", err)
	}

	var reporters exporter.Multi
	if cfg.Reporting.LogTrees {
		reporters = append(reporters, exporter.NewLogReporter(exporter.LogConfig{
			Threshold: cfg.Reporting.LogThreshold,
			Cooldown:  cfg.Reporting.LogCooldown,
			ASCIIArt:  cfg.LogFormat != "json",
		}, logutil.Component("calltree")))
	}
	if cfg.Reporting.OTel {
		res, err := newResource(ctx, cfg.ServiceName, serviceVersion)
		if err != nil {
			return nil, err
		}
		tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
		if cfg.Reporting.OTLPEndpoint != "" {
			exp, err := newOTLPExporter(ctx, cfg.Reporting.OTLPEndpoint)
			if err != nil {
				return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
			}
			tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
		}
		for _, sp := range o.spanProcessors {
			tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
		}
		p.tp = sdktrace.NewTracerProvider(tpOpts...)
		otel.SetTracerProvider(p.tp)
		reporters = append(reporters, exporter.NewSpanReporter(p.tp))
	}
	if len(cfg.Reporting.Kafka.Brokers) > 0 {
		p.kafka = exporter.NewKafkaReporter(cfg.Reporting.Kafka.Brokers, cfg.Reporting.Kafka.Topic, logutil.Component("kafka"))
		reporters = append(reporters, p.kafka)
	}

	var inspectors []collector.Inspector
	if detector := nplusone.NewDetector(nplusone.Config{
		Enabled:   true,
		Threshold: cfg.NPlusOne.Threshold,
	}, p.store, logutil.Component("nplusone")); detector != nil {
		inspectors = append(inspectors, detector)
	}

	var reporter domain.Reporter
	if len(reporters) > 0 {
		reporter = reporters
	}
	p.dispatcher = collector.NewDispatcher(collector.Config{
		Service:    cfg.ServiceName,
		BufferSize: cfg.Reporting.BufferSize,
	}, p.store, reporter, logutil.Component("collector"), inspectors...)
	p.dispatcher.Start()

	p.logger.Info().
		Str("service", cfg.ServiceName).
		Bool("profiling", profiler.Enabled()).
		Int("reporters", len(reporters)).
		Msg("call probe initialized")
	return p, nil
}

// Middleware records a call tree for every request served by h.
func (p *Probe) Middleware(h http.Handler) http.Handler {
	if p.tp != nil && p.profiler.Enabled() {
		return httpinstrumentation.NewMiddleware(h, "http-server", p.profiler, p.dispatcher, otelhttp.WithTracerProvider(p.tp))
	}
	return http_middleware.APMMiddleware(p.config, p.profiler, p.dispatcher)(h)
}

// ReportHandler serves the stored call trees under the configured path.
func (p *Probe) ReportHandler() http.Handler {
	return p.reports
}

// Client returns a copy of base whose requests are recorded as IO calls of
// the calling request's tree.
func (p *Probe) Client(base *http.Client) *http.Client {
	client := &http.Client{}
	if base != nil {
		*client = *base
	}
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if p.tp != nil {
		client.Transport = httpinstrumentation.NewTransport(transport, otelhttp.WithTracerProvider(p.tp))
	} else {
		client.Transport = apmhttp.NewAPMTransport(transport)
	}
	return client
}

// Profiler is nil when profiling is disabled.
func (p *Probe) Profiler() *profiling.Profiler {
	return p.profiler
}

func (p *Probe) Store() domain.StoreReader {
	return p.store
}

// Sink accepts trees recorded outside the HTTP middleware.
func (p *Probe) Sink() domain.RecordSink {
	return p.dispatcher
}

// Shutdown drains pending trees and closes the reporters.
func (p *Probe) Shutdown(ctx context.Context) error {
	p.dispatcher.Stop()

	var errs []error
	if p.kafka != nil {
		if err := p.kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing kafka reporter: %w", err))
		}
	}
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer provider: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		p.logger.Error().Err(err).Msg("error shutting down call probe")
	}
	return err
}

// newResource leaves the schema URL to the SDK defaults so that the semconv
// version pinned here never conflicts with them.
func newResource(ctx context.Context, serviceName, serviceVersion string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// newOTLPExporter sends spans over OTLP/HTTP. An http:// endpoint disables
// TLS.
func newOTLPExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	var opts []otlptracehttp.Option
	if strings.HasPrefix(endpoint, "http://") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	return otlptracehttp.New(ctx, opts...)
}
