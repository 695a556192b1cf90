package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies this module's tracer.
const InstrumentationName = "github.com/AnthusAI/Plexus-sub006"

// Span names.
const (
	SpanRun     = "evaluation.Run"
	SpanPredict = "dispatch.Predict"
	SpanSync    = "dashboard.Sync"
)

// Tracer returns the module tracer from the global provider. Without a
// configured provider the spans are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
