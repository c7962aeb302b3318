package tracing

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the task run ID
	RunIDKey ContextKey = "run_id"
	// RoleKey is the context key for the agent role making a call
	RoleKey ContextKey = "role"
	// SessionKey is the context key for the planning session number
	SessionKey ContextKey = "session"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID string
	RunID   string
	Role    string
	Session int
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithRole adds the calling agent role to the context
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

// WithSession adds the session number to the context
func WithSession(ctx context.Context, session int) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetRole retrieves the agent role from the context
func GetRole(ctx context.Context) string {
	if role, ok := ctx.Value(RoleKey).(string); ok {
		return role
	}
	return ""
}

// GetSession retrieves the session number; ok is false when unset.
func GetSession(ctx context.Context) (int, bool) {
	session, ok := ctx.Value(SessionKey).(int)
	return session, ok
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	session, ok := GetSession(ctx)
	if !ok {
		session = -1
	}
	return &TraceContext{
		TraceID: GetTraceID(ctx),
		RunID:   GetRunID(ctx),
		Role:    GetRole(ctx),
		Session: session,
	}
}

// NewRunContext creates a context for a task run with fresh trace and run IDs.
func NewRunContext(ctx context.Context) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	return WithRunID(ctx, NewRunID())
}

// LoggerFromContext adds the tracing fields present in ctx to baseLogger.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	logCtx := baseLogger.With()

	if tc.TraceID != "" {
		logCtx = logCtx.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		logCtx = logCtx.Str("run_id", tc.RunID)
	}
	if tc.Role != "" {
		logCtx = logCtx.Str("role", tc.Role)
	}
	if tc.Session >= 0 {
		logCtx = logCtx.Str("session", strconv.Itoa(tc.Session+1))
	}

	return logCtx.Logger()
}
