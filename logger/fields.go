package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging across pact.
const (
	// Identity
	FieldTraceID       = "trace_id"
	FieldContractID    = "contract_id"
	FieldRequirementID = "requirement_id"
	FieldScenarioID    = "scenario_id"
	FieldSpanID        = "span_id"

	// Components
	FieldComponent = "component"
	FieldFramework = "framework"
	FieldSource    = "source"

	// Judge
	FieldModel   = "model"
	FieldPhase   = "phase"
	FieldAttempt = "attempt"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors and outcome
	FieldError  = "error"
	FieldStatus = "status"
	FieldFormat = "format"

	// Counts
	FieldCount = "count"

	// Glyph marking the pipeline stage (see sym)
	FieldSymbol = "symbol"
)

type contextKey string

const (
	traceIDKey   contextKey = "logger_trace_id"
	componentKey contextKey = "logger_component"
)

// WithTraceID adds a trace ID to the context for logging
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if traceID, ok := ctx.Value(traceIDKey).(string); ok && traceID != "" {
		fields = append(fields, FieldTraceID, traceID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named child of the global logger.
//
//	pipeline := certify.New(..., logger.ComponentLogger("pipeline"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
