// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// TenantIDKey is the context key for tenant ID
	TenantIDKey contextKey = "tenant_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id and tenant_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("request_id", requestID))}
	}

	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok && tenantID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("tenant_id", tenantID))}
	}

	return newLogger
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// RuleEvaluated logs the outcome of a single (lead, rule) evaluation.
func (l *Logger) RuleEvaluated(ruleID, leadID string, fired bool, weightRatio float64, reason string) {
	if fired {
		l.Info("rule_evaluated",
			slog.String("rule_id", ruleID),
			slog.String("lead_id", leadID),
			slog.Bool("fired", fired),
			slog.Float64("weight_ratio", weightRatio),
		)
		return
	}
	l.Debug("rule_evaluated",
		slog.String("rule_id", ruleID),
		slog.String("lead_id", leadID),
		slog.Bool("fired", fired),
		slog.Float64("weight_ratio", weightRatio),
		slog.String("reason", reason),
	)
}

// BatchSummary logs aggregate counts of a full engine pass.
func (l *Logger) BatchSummary(leads, rules, evaluated, fired, failed int, elapsed time.Duration) {
	l.Info("engine_batch_complete",
		slog.Int("leads", leads),
		slog.Int("rules", rules),
		slog.Int("evaluated", evaluated),
		slog.Int("fired", fired),
		slog.Int("failed", failed),
		slog.Float64("elapsed_ms", float64(elapsed.Milliseconds())),
	)
}

// ActionFailed logs a failed rule action without aborting the evaluation.
func (l *Logger) ActionFailed(actionType, ruleID, leadID string, err error) {
	l.Warn("action_failed",
		slog.String("action", actionType),
		slog.String("rule_id", ruleID),
		slog.String("lead_id", leadID),
		slog.String("error", err.Error()),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}
