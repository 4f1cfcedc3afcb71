package models

// Code is a stable error identifier presented to clients. The set below is
// the full taxonomy; handlers translate internal states into these at the
// API boundary and nothing else crosses the wire.
type Code string

const (
	CodeOK Code = ""

	CodeUnauthorized      Code = "unauthorized"
	CodeUnknownClient     Code = "unknown_client"
	CodeDuplicateClient   Code = "duplicate_client"
	CodeNoAssignment      Code = "no_assignment"
	CodeRoundNotCollect   Code = "round_not_collecting"
	CodeRateLimited       Code = "rate_limited"
	CodeDuplicateUpdate   Code = "duplicate_update"
	CodeMalformedDelta    Code = "malformed_delta"
	CodeInvalidValues     Code = "invalid_values"
	CodeUnknownRound      Code = "unknown_round"
	CodeUnknownVersion    Code = "unknown_version"
	CodeNotReady          Code = "not_ready"
	CodeAggregationFailed Code = "aggregation_failed"
	CodeNoTaskAvailable   Code = "no_task_available"
	CodeInternalError     Code = "internal_error"
)

// Err wraps a Code as a Go error so coordinator methods can return the
// taxonomy directly.
type Err struct {
	Code Code
}

func (e *Err) Error() string { return string(e.Code) }

// NewErr returns the taxonomy error for a code.
func NewErr(code Code) *Err { return &Err{Code: code} }

// CodeOf extracts the taxonomy code from an error, or internal_error when
// the error is not a taxonomy error.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	if te, ok := err.(*Err); ok {
		return te.Code
	}
	return CodeInternalError
}
