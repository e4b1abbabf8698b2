// Package audit emits write-only structured audit events. The core never
// reads them back; the sink is whatever collects the service's stdout.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gatehouse.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is one security-relevant occurrence. SubjectUserID identifies the
// account the event is about, which is not always the caller (a failed
// login names the attempted account).
type Event struct {
	Action        string         `json:"action"`
	SubjectUserID string         `json:"subject_user_id,omitempty"`
	Resource      string         `json:"resource,omitempty"`
	Method        string         `json:"method,omitempty"`
	Severity      string         `json:"severity"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// WithRequestID attaches the request identifier to the context for audit
// correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Emit writes an audit event as one JSON line enriched with timestamp and
// request context.
func Emit(ctx context.Context, event Event) error {
	event.Action = strings.TrimSpace(event.Action)
	if event.Action == "" {
		return errors.New("audit: action is required")
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	entry := map[string]any{
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
		"type":     "audit",
		"action":   event.Action,
		"severity": event.Severity,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if event.SubjectUserID != "" {
		entry["subject_user_id"] = event.SubjectUserID
	}
	if event.Resource != "" {
		entry["resource"] = event.Resource
	}
	if event.Method != "" {
		entry["method"] = event.Method
	}
	if len(event.Fields) > 0 {
		fields := make(map[string]any, len(event.Fields))
		for k, v := range event.Fields {
			fields[k] = v
		}
		entry["fields"] = fields
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
