package otelx

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/keithlinneman/storyboard/internal/xerrors"
)

// DialTimeout bounds exporter construction.
const DialTimeout = 3 * time.Second

type Options struct {
	Enabled   bool
	Endpoint  string
	Insecure  bool
	Sample    float64
	Service   string
	Component string
	Version   string
}

// ServiceName joins Service and Component with a dot, skipping empty parts.
func (o Options) ServiceName() string {
	switch {
	case o.Service == "":
		return o.Component
	case o.Component == "":
		return o.Service
	}
	return o.Service + "." + o.Component
}

// ratio clamps Sample into [0, 1].
func (o Options) ratio() float64 {
	switch {
	case o.Sample < 0:
		return 0
	case o.Sample > 1:
		return 1
	}
	return o.Sample
}

// Init installs the global tracer provider and propagator. When tracing is
// disabled a provider without exporters is installed so spans stay valid
// in-process. The returned shutdown is safe to call more than once.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	setPropagator()

	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if o.Endpoint == "" {
		return nil, xerrors.New("otlp endpoint is required when tracing is enabled")
	}

	// the collector runs next to the gateway, so a short dial is enough
	dialCtx, dialCancel := context.WithTimeout(ctx, DialTimeout)
	defer dialCancel()
	exp, err := otlptracegrpc.New(dialCtx, exporterOptions(o)...)
	if err != nil {
		return nil, xerrors.Wrap(err, "create otlp trace exporter")
	}

	tp := NewProvider(ctx, exp, o)
	otel.SetTracerProvider(tp)

	var once sync.Once
	var shutdownErr error
	return func(ctx context.Context) error {
		once.Do(func() { shutdownErr = tp.Shutdown(ctx) })
		return shutdownErr
	}, nil
}

// exporterOptions dials the collector in plaintext when Insecure is set and
// over TLS 1.2+ with the system roots otherwise.
func exporterOptions(o Options) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(o.Endpoint)}
	if o.Insecure {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	return append(opts, otlptracegrpc.WithTLSCredentials(creds))
}

// NewProvider builds a batching tracer provider over exp with the service
// resource and a parent-based ratio sampler.
func NewProvider(ctx context.Context, exp sdktrace.SpanExporter, o Options) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(o.ratio()),
		)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(newResource(ctx, o)),
	)
}

func newResource(ctx context.Context, o Options) *resource.Resource {
	attrs := resource.WithAttributes(
		semconv.ServiceNameKey.String(o.ServiceName()),
		semconv.ServiceVersionKey.String(o.Version),
	)
	// partial resources are still usable; detector errors are not fatal
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		attrs,
	)
	if err != nil && res == nil {
		res, _ = resource.New(ctx, attrs)
	}
	return res
}

func setPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
}
