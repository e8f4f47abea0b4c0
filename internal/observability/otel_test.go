package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/quantumsenses/go-deploy-cache/internal/config"
)

// discardExporter satisfies sdktrace.SpanExporter and drops everything,
// so Setup can run without a collector.
type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (discardExporter) Shutdown(context.Context) error { return nil }

// saveGlobals snapshots the otel globals and restores them on cleanup,
// keeping tests in this package from leaking providers into each other.
func saveGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	prop := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func stubExporter(t *testing.T, fn func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error)) {
	t.Helper()
	orig := newSpanExporter
	newSpanExporter = fn
	t.Cleanup(func() { newSpanExporter = orig })
}

func stubResource(t *testing.T, fn func(context.Context, string, string) (*resource.Resource, error)) {
	t.Helper()
	orig := newResource
	newResource = fn
	t.Cleanup(func() { newResource = orig })
}

func enabledConfig() config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    true,
		Endpoint:    "localhost:4317",
		ServiceName: "deploy-cache-test",
		SampleRatio: 1.0,
	}
}

func TestSetupDisabledInstallsNothing(t *testing.T) {
	saveGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), config.OTELConfig{Enabled: false}, "v0")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected a shutdown func even when disabled")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Error("disabled setup replaced the global tracer provider")
	}
}

func TestSetupInstallsProviderAndPropagator(t *testing.T) {
	saveGlobals(t)
	stubExporter(t, func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) {
		return discardExporter{}, nil
	})

	shutdown, err := Setup(context.Background(), enabledConfig(), "v1.2.3")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("global provider is %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}

	ctx, span := otel.Tracer("setup-test").Start(context.Background(), "op")
	defer span.End()
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if carrier.Get("traceparent") == "" {
		t.Error("propagator did not inject traceparent")
	}
}

func TestSetupExporterFailureLeavesGlobalsAlone(t *testing.T) {
	saveGlobals(t)
	wantErr := errors.New("exporter down")
	stubExporter(t, func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) {
		return nil, wantErr
	})
	beforeTP := otel.GetTracerProvider()
	beforeProp := otel.GetTextMapPropagator()

	_, err := Setup(context.Background(), enabledConfig(), "v0")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrap of %v", err, wantErr)
	}
	if otel.GetTracerProvider() != beforeTP {
		t.Error("tracer provider replaced despite setup failure")
	}
	if otel.GetTextMapPropagator() != beforeProp {
		t.Error("propagator replaced despite setup failure")
	}
}

func TestSetupResourceFailureLeavesGlobalsAlone(t *testing.T) {
	saveGlobals(t)
	stubExporter(t, func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) {
		return discardExporter{}, nil
	})
	wantErr := errors.New("resource boom")
	stubResource(t, func(context.Context, string, string) (*resource.Resource, error) {
		return nil, wantErr
	})
	before := otel.GetTracerProvider()

	_, err := Setup(context.Background(), enabledConfig(), "v0")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrap of %v", err, wantErr)
	}
	if otel.GetTracerProvider() != before {
		t.Error("tracer provider replaced despite setup failure")
	}
}

func TestSetupSecureEndpointConstructs(t *testing.T) {
	saveGlobals(t)

	cfg := enabledConfig()
	cfg.Insecure = false
	shutdown, err := Setup(context.Background(), cfg, "v1")
	if err != nil {
		t.Fatalf("Setup with TLS credentials: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}
