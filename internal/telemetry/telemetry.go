// Package telemetry holds the daemon's tracing setup and Prometheus counters.
package telemetry

import (
	"context"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "devpulse"

// Trace modes, coarsest to finest. Detailed additionally emits per-call
// spans around outbound GitHub API requests.
const (
	TraceOff      = "off"
	TraceSampled  = "sampled"
	TraceDetailed = "detailed"
)

var activeTraceMode atomic.Value

// Config configures tracing. SampleRatio applies to the sampled mode only.
type Config struct {
	Enabled     bool
	Mode        string
	SampleRatio float64
}

// Runtime exposes the tracer provider lifecycle to the daemon.
type Runtime struct {
	TracerProvider *sdktrace.TracerProvider
	Shutdown       func(ctx context.Context) error
}

// Setup installs the global tracer provider and records the active mode.
func Setup(cfg Config) (Runtime, error) {
	mode := normalizeMode(cfg.Mode)
	if !cfg.Enabled {
		mode = TraceOff
	}
	activeTraceMode.Store(mode)

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return Runtime{}, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(mode, cfg.SampleRatio)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return Runtime{TracerProvider: provider, Shutdown: provider.Shutdown}, nil
}

func sampler(mode string, ratio float64) sdktrace.Sampler {
	switch mode {
	case TraceOff:
		return sdktrace.NeverSample()
	case TraceDetailed:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(ratio)))
	}
}

// TraceMode reports the mode recorded by the last Setup call.
func TraceMode() string {
	mode, _ := activeTraceMode.Load().(string)
	if mode == "" {
		return TraceOff
	}
	return mode
}

// ShouldTraceDependencies reports whether per-call dependency spans are on.
func ShouldTraceDependencies() bool {
	return TraceMode() == TraceDetailed
}

func normalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case TraceOff:
		return TraceOff
	case TraceDetailed:
		return TraceDetailed
	default:
		return TraceSampled
	}
}

func clampRatio(ratio float64) float64 {
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}
