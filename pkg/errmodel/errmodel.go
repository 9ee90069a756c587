package errmodel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Category values for compact errors.
const (
	CategoryValidation = "validation"
	CategoryStorage    = "storage"
	CategorySystem     = "system"
)

// Public messages rendered to callers. Storage failures never expose the cause.
const (
	MsgDatabase = "Database error"
	MsgInternal = "Internal server error"
)

// Error is the compact error used by the store and rendered by the API.
// Cause is kept for logging and errors.Is/As but is never serialized.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// New constructs a new compact error.
func New(category, code, message string, ctx map[string]any, cause error) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, 512), cause: cause}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	return ce
}

// From converts any error into a compact Error. If err is already *Error, it's returned as-is.
func From(err error) *Error {
	var ce *Error
	if err == nil {
		return nil
	}
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Category: CategorySystem, Code: "internal", Message: MsgInternal, cause: err}
}

// Validation reports a malformed request.
func Validation(code, message string, ctx map[string]any) *Error {
	return New(CategoryValidation, code, message, ctx, nil)
}

// Storage wraps a failed database statement. The message is always MsgDatabase.
func Storage(code string, cause error) *Error {
	return New(CategoryStorage, code, MsgDatabase, nil, cause)
}

// HTTPStatus maps category/code to HTTP status.
func HTTPStatus(e *Error) int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Category {
	case CategoryValidation:
		switch e.Code {
		case "too_large":
			return http.StatusRequestEntityTooLarge
		case "method_not_allowed":
			return http.StatusMethodNotAllowed
		case "not_found":
			return http.StatusNotFound
		default:
			return http.StatusBadRequest
		}
	case CategoryStorage, CategorySystem:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text placed in the response envelope.
func PublicMessage(e *Error) string {
	if e == nil {
		return MsgInternal
	}
	switch e.Category {
	case CategoryStorage:
		return MsgDatabase
	case CategoryValidation:
		return e.Message
	default:
		return MsgInternal
	}
}

// WriteHTTP writes the {"error": "..."} envelope to the response writer.
// The trace id, when the request is sampled, goes into the X-Trace-Id header.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	ce := From(err)
	if ce == nil {
		ce = &Error{Category: CategorySystem, Code: "internal", Message: MsgInternal}
	}
	if r != nil {
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			w.Header().Set("X-Trace-Id", sc.TraceID().String())
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(ce))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": PublicMessage(ce)})
}

// truncate trims a string to max characters.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// truncateContext trims long string values in the context map.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		default:
			b, err := json.Marshal(t)
			if err == nil && len(b) > 0 {
				out[k] = truncate(string(b), 256)
			} else {
				out[k] = t
			}
		}
	}
	return out
}

// IsCategory checks if err belongs to a specific category.
func IsCategory(err error, category string) bool {
	ce := From(err)
	return ce != nil && strings.EqualFold(ce.Category, category)
}
