package job

import (
	"errors"
	"fmt"
)

// ProtocolViolationError is returned for a report that is well formed but
// semantically forbidden for the job, e.g. a proof for a pair that was never
// announced. The reporting peer should be downscored.
type ProtocolViolationError struct {
	JobID  string
	reason string
}

func (e ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation on job %s: %s", e.JobID, e.reason)
}

// NewProtocolViolationErrorf returns a new ProtocolViolationError.
func NewProtocolViolationErrorf(jobID string, msg string, args ...interface{}) ProtocolViolationError {
	return ProtocolViolationError{JobID: jobID, reason: fmt.Sprintf(msg, args...)}
}

// IsProtocolViolationError returns whether err is a ProtocolViolationError.
func IsProtocolViolationError(err error) bool {
	var e ProtocolViolationError
	return errors.As(err, &e)
}

// ErrStaleProof is returned when a verification result refers to a proof that
// is no longer the candidate of its item.
var ErrStaleProof = errors.New("proof is no longer the candidate of its item")
