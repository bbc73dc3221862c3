package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"speedchat-backend/pkg/logger"
)

type Config struct {
	Enabled     bool
	Exporter    string // stdout | otlp
	Endpoint    string
	ServiceName string
}

// Init installs the global tracer provider. When tracing is disabled the
// otel no-op provider stays in place and the returned shutdown does
// nothing.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "speedchat-backend"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		logger.Warnf("otel resource init failed (continuing): %v", err)
	}

	exporter, err := buildExporter(ctx, cfg)
	if err != nil {
		return noop, fmt.Errorf("init trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Infof("Tracing enabled (service=%s, exporter=%s)", serviceName, cfg.Exporter)
	return tp.Shutdown, nil
}

func buildExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		var opts []otlptracehttp.Option
		if ep := strings.TrimSpace(cfg.Endpoint); ep != "" {
			if strings.HasPrefix(ep, "http://") {
				opts = append(opts, otlptracehttp.WithInsecure())
			}
			ep = strings.TrimPrefix(strings.TrimPrefix(ep, "http://"), "https://")
			opts = append(opts, otlptracehttp.WithEndpoint(ep))
		}
		return otlptracehttp.New(ctx, opts...)
	case "stdout", "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}
