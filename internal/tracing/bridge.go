package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const bridgeTracerName = "neoai-bridge"

func bridgeTracer() trace.Tracer {
	return Tracer(bridgeTracerName)
}

// TraceEstablish creates a span for an editor connection attempt loop.
func TraceEstablish(ctx context.Context, terminalID, socketPath string, generation uint64) (context.Context, trace.Span) {
	ctx, span := bridgeTracer().Start(ctx, "editor.establish",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("terminal_id", terminalID),
		attribute.String("socket_path", socketPath),
		attribute.Int64("generation", int64(generation)),
	)
	return ctx, span
}

// TraceAgentStart creates a span for spawning and initializing the agent.
func TraceAgentStart(ctx context.Context, agentPath string) (context.Context, trace.Span) {
	ctx, span := bridgeTracer().Start(ctx, "agent.start",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(attribute.String("agent_path", agentPath))
	return ctx, span
}

// TracePrompt creates a span covering one prompt turn.
func TracePrompt(ctx context.Context, sessionID, promptID string, blocks int) (context.Context, trace.Span) {
	ctx, span := bridgeTracer().Start(ctx, "agent.prompt",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("prompt_id", promptID),
		attribute.Int("blocks", blocks),
	)
	return ctx, span
}

// TraceApplyEdits creates a span for applying a batch of edits through the editor.
func TraceApplyEdits(ctx context.Context, terminalID, messageID string, edits int) (context.Context, trace.Span) {
	ctx, span := bridgeTracer().Start(ctx, "editor.apply_edits",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("terminal_id", terminalID),
		attribute.String("message_id", messageID),
		attribute.Int("edits", edits),
	)
	return ctx, span
}

// TraceResult records the outcome on span.
func TraceResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
