package job

import "unicode/utf8"

// ValidateNew checks the invariants a freshly created Job must satisfy
// before it reaches the store. Business rules live here, at the object
// boundary, rather than inside a schema mapper.
func ValidateNew(j *Job) error {
	if !ValidRequestID(j.RequestID) {
		return NewValidationError("request_id must be a canonical UUID v4 string")
	}
	if !ValidPayload(j.Payload) {
		return NewValidationError("payload must be a non-null JSON object")
	}
	if j.Status != StatusPending {
		return NewValidationError("new jobs must start in pending status")
	}
	return nil
}

// ValidateResult checks the invariants of a terminal-state write: complete
// requires exactly one of result/error, failed requires error, and error
// text is bounded.
func ValidateResult(status Status, result []byte, errMsg *string) error {
	if !status.Valid() {
		return NewValidationError("unknown status")
	}
	if errMsg != nil && utf8.RuneCountInString(*errMsg) > MaxErrorLen {
		return NewValidationError("error message exceeds 1000 characters")
	}
	switch status {
	case StatusComplete:
		hasResult := len(result) > 0
		hasError := errMsg != nil && *errMsg != ""
		if hasResult == hasError {
			return NewValidationError("complete status requires exactly one of result or error")
		}
	case StatusFailed:
		if errMsg == nil || *errMsg == "" {
			return NewValidationError("failed status requires an error message")
		}
	}
	return nil
}

// ValidTransition reports whether moving from 'from' to 'to' is allowed by
// the lifecycle DAG: pending -> processing -> {complete, failed}, plus
// terminal self-loops for idempotent webhook redelivery.
func ValidTransition(from, to Status) bool {
	if from == to && from.IsTerminal() {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusComplete || to == StatusFailed
	default:
		return false
	}
}
