package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// observeOperation records the outcome of one public operation as metrics and
// a structured log entry. Token-bearing fields never reach the logger.
func (r managerRuntime) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	elapsed := time.Since(startedAt)

	contextFields := ScrubLogFields(fields)
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = elapsed.Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
		if textCode := errorTextCode(err); textCode != "" {
			contextFields["error_code"] = textCode
		}
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"provider_id", "error_code"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	r.recordCounter(ctx, "credentials."+operation+".total", 1, tags)
	r.recordHistogram(ctx, "credentials."+operation+".duration_ms", float64(elapsed.Milliseconds()), tags)

	if err != nil {
		r.logWithLevel(ctx, "error", operation+" failed", contextFields)
		return
	}
	r.logWithLevel(ctx, "info", operation+" succeeded", contextFields)
}

func (r managerRuntime) logWarn(ctx context.Context, message string, fields map[string]any) {
	r.logWithLevel(ctx, "warn", message, ScrubLogFields(fields))
}

func (r managerRuntime) logDebug(ctx context.Context, message string, fields map[string]any) {
	r.logWithLevel(ctx, "debug", message, ScrubLogFields(fields))
}

func (r managerRuntime) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if r.logger == nil {
		return
	}
	logger := r.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (r managerRuntime) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if r.metrics == nil {
		return
	}
	r.metrics.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (r managerRuntime) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func errorTextCode(err error) string {
	for _, code := range []string{
		TextCodeInvalidCredentials,
		TextCodeIdentityUnavailable,
		TextCodeRefreshFailed,
		TextCodeUnauthenticated,
		TextCodeInvalidAuthorizationState,
		TextCodeCodeExchangeFailed,
		TextCodeUnavailable,
		TextCodePermissionDenied,
		TextCodeBadInput,
		TextCodeResourceNotFound,
		TextCodeConflict,
		TextCodeInternal,
	} {
		if HasTextCode(err, code) {
			return code
		}
	}
	return ""
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
