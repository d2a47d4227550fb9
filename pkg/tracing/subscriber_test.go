package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/psantana5/loopd/pkg/daemon"
	"github.com/psantana5/loopd/pkg/logging"
	"github.com/psantana5/loopd/pkg/resources"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestSubscriberRecordsSpans tests the run span and its iteration children
func TestSubscriberRecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	provider := NewProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)), "loopd-test")
	defer provider.Shutdown(context.Background())

	calls := 0
	c, err := daemon.New(func(ctx context.Context, c *daemon.Controller) error {
		calls++
		if calls == 2 {
			return errors.New("transient")
		}
		return nil
	}, daemon.Options{
		Name:       "orders:consume",
		Config:     daemon.Config{MaxIterations: 3},
		Subscriber: NewSubscriber(provider),
		Memory:     resources.Static{CurrentBytes: 1},
	})
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	ended := sr.Ended()
	if len(ended) != 4 {
		t.Fatalf("Expected 3 iteration spans and 1 run span, got %d", len(ended))
	}

	run := ended[len(ended)-1]
	if run.Name() != "daemon.run" {
		t.Fatalf("Expected run span last, got %s", run.Name())
	}

	failed := 0
	for _, span := range ended[:3] {
		if span.Name() != "daemon.iteration" {
			t.Errorf("Unexpected span %s", span.Name())
		}
		if span.Parent().SpanID() != run.SpanContext().SpanID() {
			t.Errorf("Iteration span should be a child of the run span")
		}
		if span.Status().Code == codes.Error {
			failed++
			if len(span.Events()) != 1 || span.Events()[0].Name != "exception" {
				t.Errorf("Expected recorded exception event, got %v", span.Events())
			}
		}
	}
	if failed != 1 {
		t.Errorf("Expected exactly one failed iteration span, got %d", failed)
	}
}

// TestInitTracerDisabled tests that a disabled config still yields a usable provider
func TestInitTracerDisabled(t *testing.T) {
	p, err := InitTracer(Config{ServiceName: "loopd"}, logging.Discard())
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if p.Tracer() == nil {
		t.Fatal("Expected a tracer")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
