package job

import "errors"

// Sentinel and typed errors surfaced by the store, queue, and vendor layers.
// Handlers at the API boundary use errors.Is/errors.As to translate these
// into the right HTTP status.
var (
	// ErrNotFound is returned when a requestId is unknown to the store.
	ErrNotFound = errors.New("job not found")

	// ErrDuplicateID is returned by Create when requestId already exists.
	ErrDuplicateID = errors.New("job with this request id already exists")

	// ErrUnknownVendor is returned when a vendor name has no VendorConfig.
	ErrUnknownVendor = errors.New("unknown vendor")

	// ErrCircuitOpen is returned when a breaker is OPEN and fails fast.
	ErrCircuitOpen = errors.New("circuit open")
)

// ValidationError wraps a reason a Job failed the invariants of §3.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

// NewValidationError constructs a ValidationError with the given reason.
func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

// VendorError wraps a failure returned by an external vendor call.
type VendorError struct {
	Vendor string
	Err    error
}

func (e *VendorError) Error() string {
	if e.Err == nil {
		return "vendor error: " + e.Vendor
	}
	return "vendor error (" + e.Vendor + "): " + e.Err.Error()
}

func (e *VendorError) Unwrap() error {
	return e.Err
}

// NewVendorError wraps err as a VendorError for the named vendor. If err is
// nil, "HTTP request failed" is used as the message per spec §7.
func NewVendorError(vendor string, err error) error {
	if err == nil {
		err = errors.New("HTTP request failed")
	}
	return &VendorError{Vendor: vendor, Err: err}
}
