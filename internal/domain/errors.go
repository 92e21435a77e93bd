package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure. Each kind maps to one stable
// error code returned to callers.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindModelUnavailable ErrorKind = "model_unavailable"
	KindModelTimeout     ErrorKind = "model_timeout"
	KindParse            ErrorKind = "parse"
	KindInternal         ErrorKind = "internal"
)

// Code returns the stable, caller-facing error code for the kind.
func (k ErrorKind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindModelUnavailable:
		return "MODEL_UNAVAILABLE"
	case KindModelTimeout:
		return "MODEL_TIMEOUT"
	case KindParse:
		return "PARSE_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// Stage names one step of the analysis pipeline.
type Stage string

const (
	StageValidate Stage = "validate"
	StageEnrich   Stage = "enrich"
	StageBuild    Stage = "build"
	StageInvoke   Stage = "invoke"
	StageParse    Stage = "parse"
	StagePublish  Stage = "publish"
)

// Reason narrows a failure down to the violated constraint.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonInvalidCoordinates Reason = "invalid_coordinates"
	ReasonMissingInput       Reason = "missing_input"
	ReasonAmbiguousInput     Reason = "ambiguous_input"
	ReasonEmptyPayload       Reason = "empty_payload"
	ReasonTooLarge           Reason = "too_large"
	ReasonUnsupportedType    Reason = "unsupported_type"
	ReasonMalformedBody      Reason = "malformed_body"
	ReasonOverloaded         Reason = "overloaded"
	ReasonCancelled          Reason = "cancelled"
	ReasonPermanent          Reason = "permanent_rejection"
	ReasonRetriesExhausted   Reason = "retries_exhausted"
	ReasonEmptyResponse      Reason = "empty_response"
)

// PipelineError is the only error type the pipeline returns. Message is safe
// to show to callers; Cause may hold upstream detail and is only logged.
type PipelineError struct {
	Kind    ErrorKind
	Stage   Stage
	Reason  Reason
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Stage, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewValidationError reports input the caller must fix.
func NewValidationError(reason Reason, message string) *PipelineError {
	return &PipelineError{Kind: KindValidation, Stage: StageValidate, Reason: reason, Message: message}
}

// NewModelUnavailableError reports a model call that failed for a reason other than a timeout.
func NewModelUnavailableError(reason Reason, message string, cause error) *PipelineError {
	return &PipelineError{Kind: KindModelUnavailable, Stage: StageInvoke, Reason: reason, Message: message, Cause: cause}
}

// NewModelTimeoutError reports a model call that ran out of time.
func NewModelTimeoutError(reason Reason, message string, cause error) *PipelineError {
	return &PipelineError{Kind: KindModelTimeout, Stage: StageInvoke, Reason: reason, Message: message, Cause: cause}
}

// NewParseError reports model output that cannot be interpreted at all.
func NewParseError(reason Reason, message string) *PipelineError {
	return &PipelineError{Kind: KindParse, Stage: StageParse, Reason: reason, Message: message}
}

// NewInternalError wraps an unexpected failure at the given stage.
func NewInternalError(stage Stage, cause error) *PipelineError {
	return &PipelineError{Kind: KindInternal, Stage: stage, Message: "internal error", Cause: cause}
}

// CancellationError maps a finished request context to a pipeline error. A
// caller deadline counts as a timeout; a disconnect makes the model unavailable
// to this request.
func CancellationError(stage Stage, ctxErr error) *PipelineError {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return &PipelineError{Kind: KindModelTimeout, Stage: stage, Reason: ReasonCancelled, Message: "request deadline exceeded", Cause: ctxErr}
	}
	return &PipelineError{Kind: KindModelUnavailable, Stage: stage, Reason: ReasonCancelled, Message: "request cancelled", Cause: ctxErr}
}

// AsPipelineError returns the first PipelineError in err's chain. Any other
// non-nil error is reported as an internal error at the given stage.
func AsPipelineError(err error, stage Stage) *PipelineError {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return NewInternalError(stage, err)
}

// KindOf classifies any error; errors outside the taxonomy are internal.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// UpstreamError is returned by model adapters so the retry loop can tell
// transient failures from permanent rejections.
type UpstreamError struct {
	Provider   string
	StatusCode int // 0 for transport-level failures
	Retryable  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// RetryableStatus reports whether an HTTP status from a model endpoint is
// worth retrying: request timeouts, rate limiting and server errors.
func RetryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// IsRetryable reports whether err is a transient upstream failure. Errors that
// are not UpstreamErrors are treated as transport failures and retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable
	}
	return true
}
