package plugin

import (
	"encoding/json"
	"fmt"
)

// Kind classifies an error result. Transports map kinds to status codes.
type Kind string

const (
	KindValidation  Kind = "validation_error"
	KindRateLimited Kind = "rate_limited"
	KindTimeout     Kind = "timeout"
	KindBackend     Kind = "backend_error"
	KindNotFound    Kind = "not_found"
	KindForbidden   Kind = "forbidden"
	KindInternal    Kind = "internal_error"
)

// Stable error_type tags reported to clients.
const (
	TypeRateLimit            = "rate_limit"
	TypeInvalidInput         = "invalid_input"
	TypeMissingPrompt        = "missing_prompt"
	TypeMissingImage         = "missing_image"
	TypeMissingText          = "missing_text"
	TypeInvalidLanguage      = "invalid_language"
	TypeInvalidEmotion       = "invalid_emotion"
	TypeAPIError             = "api_error"
	TypeTimeout              = "timeout"
	TypeGenerationFailed     = "generation_failed"
	TypeImageRetrievalFailed = "image_retrieval_failed"
	TypeAudioRetrievalFailed = "audio_retrieval_failed"
	TypeNotFound             = "not_found"
	TypeForbidden            = "forbidden"
	TypeInternal             = "internal_error"
)

// Error is an expected failure of an adapter invocation.
type Error struct {
	Kind    Kind
	Type    string
	Message string
	// Details are extra fields serialised next to the message, e.g. supported_languages.
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Type, e.Message)
}

// WithDetail returns e with one more detail field.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func NewError(kind Kind, errType, format string, args ...any) *Error {
	return &Error{Kind: kind, Type: errType, Message: fmt.Sprintf(format, args...)}
}

func ValidationError(errType, format string, args ...any) *Error {
	return NewError(KindValidation, errType, format, args...)
}

func BackendError(errType, format string, args ...any) *Error {
	return NewError(KindBackend, errType, format, args...)
}

func TimeoutError(format string, args ...any) *Error {
	return NewError(KindTimeout, TypeTimeout, format, args...)
}

func NotFoundError(format string, args ...any) *Error {
	return NewError(KindNotFound, TypeNotFound, format, args...)
}

func ForbiddenError(format string, args ...any) *Error {
	return NewError(KindForbidden, TypeForbidden, format, args...)
}

func InternalError(format string, args ...any) *Error {
	return NewError(KindInternal, TypeInternal, format, args...)
}

// Result is the outcome of one adapter invocation: a payload or an error.
type Result struct {
	Data      map[string]any
	FromCache bool
	Err       *Error
}

func Success(data map[string]any, fromCache bool) Result {
	return Result{Data: data, FromCache: fromCache}
}

func Failure(err *Error) Result {
	return Result{Err: err}
}

func (r Result) OK() bool { return r.Err == nil }

// MarshalJSON flattens the payload (or the error fields) and from_cache into one object.
func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Data)+4)
	if r.Err != nil {
		for k, v := range r.Err.Details {
			out[k] = v
		}
		out["error"] = r.Err.Message
		out["error_type"] = r.Err.Type
		out["from_cache"] = false
		return json.Marshal(out)
	}

	for k, v := range r.Data {
		out[k] = v
	}
	out["from_cache"] = r.FromCache
	return json.Marshal(out)
}
