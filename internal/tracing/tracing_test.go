package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{ServiceName: "scanara-api"})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.Enabled() {
		t.Error("disabled config produced an enabled provider")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() on disabled provider = %v", err)
	}
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"missing service name", Config{Enabled: true, SamplingRate: 0.1}, ErrMissingServiceName},
		{"negative rate", Config{Enabled: true, ServiceName: "s", SamplingRate: -0.1}, ErrInvalidSamplingRate},
		{"rate above one", Config{Enabled: true, ServiceName: "s", SamplingRate: 1.5}, ErrInvalidSamplingRate},
		{"unknown exporter", Config{Enabled: true, ServiceName: "s", ExporterType: "zipkin"}, ErrUnsupportedExporter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(context.Background(), tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewProvider() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewProvider_OTLPExporters(t *testing.T) {
	for _, exporter := range []string{"", ExporterOTLPHTTP, ExporterOTLPGRPC} {
		t.Run("exporter="+exporter, func(t *testing.T) {
			p, err := NewProvider(context.Background(), Config{
				ServiceName:  "scanara-api",
				Enabled:      true,
				ExporterType: exporter,
				OTLPEndpoint: "localhost:4318",
				SamplingRate: 0.5,
				InsecureMode: true,
			})
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if !p.Enabled() {
				t.Error("expected enabled provider")
			}
			// Nothing was recorded, so shutdown does not need the collector.
			if err := p.Shutdown(context.Background()); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
		})
	}
}

func TestNewProvider_ExportsAuditSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProvider(context.Background(), Config{
		ServiceName:    "scanara-api",
		ServiceVersion: "1.0.0",
		Enabled:        true,
		Environment:    "test",
		SamplingRate:   1,
		Exporter:       exporter,
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, end := StartSpan(context.Background(), "audit.run", AttrProjectID.String("p-1"))
	end(errors.New("engine unavailable"))

	// The in-memory exporter forgets its spans on shutdown, so flush instead.
	if err := p.tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != "audit.run" {
		t.Errorf("span name = %q", span.Name)
	}

	var service string
	for _, kv := range span.Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	if service != "scanara-api" {
		t.Errorf("service.name = %q", service)
	}
	if len(span.Events) == 0 || span.Events[0].Name != "exception" {
		t.Errorf("expected recorded error event, got %v", span.Events)
	}
}
