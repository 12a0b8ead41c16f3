package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitDisabledInstallsPropagatorOnly(t *testing.T) {
	p, err := Init(context.Background(), DefaultConfig("medscan-test"), nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.tp != nil {
		t.Error("disabled tracing created a provider")
	}
	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Errorf("propagator fields = %v", fields)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestSampler(t *testing.T) {
	tests := map[float64]string{
		1:   "ParentBased{root:AlwaysOnSampler",
		0:   "AlwaysOffSampler",
		0.5: "ParentBased{root:TraceIDRatioBased{0.5}",
	}
	for rate, prefix := range tests {
		if got := sampler(rate).Description(); len(got) < len(prefix) || got[:len(prefix)] != prefix {
			t.Errorf("sampler(%v) = %q", rate, got)
		}
	}
}

func TestServiceResource(t *testing.T) {
	cfg := DefaultConfig("capture-api")
	cfg.Environment = "staging"
	res, err := serviceResource(context.Background(), cfg)
	if err != nil {
		t.Fatalf("serviceResource: %v", err)
	}
	want := map[string]string{
		"service.name":           "capture-api",
		"deployment.environment": "staging",
	}
	for _, kv := range res.Attributes() {
		if v, ok := want[string(kv.Key)]; ok {
			if kv.Value.AsString() != v {
				t.Errorf("%s = %q, want %q", kv.Key, kv.Value.AsString(), v)
			}
			delete(want, string(kv.Key))
		}
	}
	if len(want) != 0 {
		t.Errorf("missing attributes %v", want)
	}
}

func TestShutdownNilProvider(t *testing.T) {
	var p *Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
