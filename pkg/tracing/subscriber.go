package tracing

import (
	"context"

	"github.com/psantana5/loopd/pkg/daemon"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Subscriber turns lifecycle events into spans: one "daemon.run" span from
// start to stop and one "daemon.iteration" child span per iteration.
// Iteration spans are recorded once the iteration is over, back-dated to its
// start; faults raised during the iteration are attached to it.
type Subscriber struct {
	tracer trace.Tracer

	runCtx  context.Context
	runSpan trace.Span
	pending []daemon.Event
}

// NewSubscriber creates a tracing subscriber
func NewSubscriber(p *Provider) *Subscriber {
	return &Subscriber{tracer: p.Tracer(), runCtx: context.Background()}
}

// Notify implements daemon.Subscriber
func (s *Subscriber) Notify(e daemon.Event) {
	switch e.Kind {
	case daemon.EventStart:
		s.runCtx, s.runSpan = s.tracer.Start(context.Background(), "daemon.run",
			trace.WithTimestamp(e.Time),
			trace.WithAttributes(
				attribute.String("daemon.run_id", e.RunID),
				attribute.String("daemon.name", daemonName(e)),
			),
		)

	case daemon.EventExceptionGeneral, daemon.EventExceptionStop:
		s.pending = append(s.pending, e)

	case daemon.EventLoopIteration:
		s.recordIteration(e)

	case daemon.EventStop:
		if s.runSpan == nil {
			return
		}
		s.runSpan.SetAttributes(attribute.Int("daemon.iterations", e.Iteration))
		if ctrl := e.Controller(); ctrl != nil {
			code := ctrl.ExitCode()
			s.runSpan.SetAttributes(attribute.Int("daemon.exit_code", code))
			if code != 0 {
				s.runSpan.SetStatus(codes.Error, "non-zero exit code")
			}
		}
		s.runSpan.AddEvent(e.Name, trace.WithTimestamp(e.Time))
		s.runSpan.End(trace.WithTimestamp(e.Time))
		s.runSpan = nil

	default:
		if s.runSpan != nil {
			s.runSpan.AddEvent(e.Name, trace.WithTimestamp(e.Time), trace.WithAttributes(
				attribute.Int("daemon.iteration", e.Iteration),
				attribute.Int64("daemon.memory_bytes", int64(e.Memory)),
			))
		}
	}
}

func (s *Subscriber) recordIteration(e daemon.Event) {
	start := e.Time.Add(-e.ExecutionTime)
	_, span := s.tracer.Start(s.runCtx, "daemon.iteration",
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.Int("daemon.iteration", e.Iteration),
			attribute.Int64("daemon.memory_bytes", int64(e.Memory)),
		),
	)

	for _, ex := range s.pending {
		if ex.Err == nil {
			continue
		}
		span.RecordError(ex.Err, trace.WithTimestamp(ex.Time), trace.WithAttributes(
			attribute.String("daemon.event", ex.Name),
		))
		if ex.Kind == daemon.EventExceptionGeneral {
			span.SetStatus(codes.Error, ex.Err.Error())
		}
	}
	s.pending = s.pending[:0]

	span.End(trace.WithTimestamp(e.Time))
}

func daemonName(e daemon.Event) string {
	if ctrl := e.Controller(); ctrl != nil {
		return ctrl.String()
	}
	return ""
}
