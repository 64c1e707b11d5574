package backend

import (
	"fmt"
	"strings"
)

// BackendError reports a failed backend lifecycle or cleanup operation.
// Cleanup safety refusals are BackendErrors so callers can match them with
// errors.As and know nothing beyond already-validated objects was removed.
type BackendError struct {
	Backend string
	Op      string
	Key     string
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Backend)
	sb.WriteString(" backend")
	if e.Op != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Op)
	}
	if e.Key != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Key)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewNotEmptyError flags a state object that still tracks resources. The
// object named here was not deleted and cleanup of it must not be retried
// blindly.
func NewNotEmptyError(backendType, key string, resources int) *BackendError {
	return &BackendError{
		Backend: backendType,
		Op:      "clean",
		Key:     key,
		Message: fmt.Sprintf("state is not empty (%d resources)", resources),
	}
}
