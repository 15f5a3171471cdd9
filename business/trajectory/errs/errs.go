// Package errs defines the error kinds the trajectory pipeline raises, per
// spec.md §7. Each kind is a distinct type so callers can branch on kind
// with errors.As instead of string matching, and dispatcher-level code can
// decide per kind whether to advance a device's cursor.
package errs

import "errors"

// NoDataError is returned when a device has no samples in the requested
// window. Expected; the caller should advance its cursor without writing.
type NoDataError struct {
	DeviceID string
}

func (e *NoDataError) Error() string {
	return "no samples for device " + e.DeviceID
}

// NoData wraps an error as a NoDataError.
func NoData(deviceID string) error {
	return &NoDataError{DeviceID: deviceID}
}

// IsNoData reports whether err is (or wraps) a NoDataError.
func IsNoData(err error) bool {
	var nd *NoDataError
	return errors.As(err, &nd)
}

// UpstreamQueryError is a transient failure reading samples, transit
// observations, or writing results. The device's run aborts without
// advancing its cursor so the next scheduling cycle retries.
type UpstreamQueryError struct {
	Cause error
}

func (e *UpstreamQueryError) Error() string {
	return "upstream query failed: " + e.Cause.Error()
}

func (e *UpstreamQueryError) Unwrap() error { return e.Cause }

// UpstreamQuery wraps cause as an UpstreamQueryError.
func UpstreamQuery(cause error) error {
	return &UpstreamQueryError{Cause: cause}
}

// IsUpstreamQuery reports whether err is (or wraps) an UpstreamQueryError.
func IsUpstreamQuery(err error) bool {
	var uq *UpstreamQueryError
	return errors.As(err, &uq)
}

// NumericError is raised when the IMM filter or Viterbi pass fails
// numerically on a single trip. It is contained: the trip is dropped and
// the device's other trips continue.
type NumericError struct {
	Cause error
}

func (e *NumericError) Error() string {
	return "numeric failure: " + e.Cause.Error()
}

func (e *NumericError) Unwrap() error { return e.Cause }

// Numeric wraps cause as a NumericError.
func Numeric(cause error) error {
	return &NumericError{Cause: cause}
}

// IsNumeric reports whether err is (or wraps) a NumericError.
func IsNumeric(err error) bool {
	var n *NumericError
	return errors.As(err, &n)
}

// InvariantViolationError marks a programmer error: a structural invariant
// (e.g. monotone timestamps after sort) did not hold. Unlike the other
// kinds this is not expected to happen in normal operation and aborts with
// a diagnostic rather than being silently contained.
type InvariantViolationError struct {
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return "invariant violation: " + e.Detail
}

// InvariantViolation builds an InvariantViolationError with detail.
func InvariantViolation(detail string) error {
	return &InvariantViolationError{Detail: detail}
}

// UserEditConflictError describes a trip whose prior legs carry a user
// correction; RunDevice logs it and does not rewrite the trip.
type UserEditConflictError struct {
	DeviceID string
}

func (e *UserEditConflictError) Error() string {
	return "user edit conflict for device " + e.DeviceID
}

// UserEditConflict wraps deviceID as a UserEditConflictError.
func UserEditConflict(deviceID string) error {
	return &UserEditConflictError{DeviceID: deviceID}
}
