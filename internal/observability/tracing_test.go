package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/songblend/api/internal/config"
)

func TestInitTracing_None(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{Exporter: "none"}, "test")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx, span := StartSpan(context.Background(), "noop")
	EndSpan(span, errors.New("ignored"))
	if ctx == nil {
		t.Fatal("expected a context")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracing_UnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), config.TracingConfig{Exporter: "carrier-pigeon"}, "test"); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}
