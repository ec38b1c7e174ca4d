package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupUnknownExporter(t *testing.T) {
	if _, err := Setup(context.Background(), Config{Exporter: "jaeger"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestSetupOTLPRequiresEndpoint(t *testing.T) {
	if _, err := Setup(context.Background(), Config{Exporter: "otlp"}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestStartAndEndWithNoopProvider(t *testing.T) {
	ctx, span := Start(context.Background(), "connection.start", Provider("deepgram-nova"))
	if ctx == nil {
		t.Fatal("nil context")
	}
	End(span, errors.New("handshake failed"))
}
