package speakwatch

import (
	"errors"
	"fmt"
	"time"
)

// Error codes as constants
const (
	ErrCodeHostUnavailable = "HOST_UNAVAILABLE"
	ErrCodeDeviceNotFound  = "DEVICE_NOT_FOUND"
	ErrCodeStreamOpen      = "STREAM_OPEN_ERROR"
	ErrCodeCallbackFault   = "CALLBACK_FAULT"
)

// MonitorError is the error type returned by the engine. Message is the
// text shown to the user.
type MonitorError struct {
	Code      string
	Message   string
	Device    string
	Timestamp time.Time
	err       error
}

func newMonitorError(code, device string, cause error, format string, args ...interface{}) *MonitorError {
	return &MonitorError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Device:    device,
		Timestamp: time.Now(),
		err:       cause,
	}
}

func (e *MonitorError) Error() string {
	if e.err != nil {
		return e.Message + ": " + e.err.Error()
	}
	return e.Message
}

func (e *MonitorError) Unwrap() error {
	return e.err
}

// NewHostUnavailableError reports that the audio host could not be queried.
func NewHostUnavailableError(cause error) *MonitorError {
	return newMonitorError(ErrCodeHostUnavailable, "", cause, "audio host unavailable")
}

// NewDeviceNotFoundError reports a selection id absent from the current enumeration.
func NewDeviceNotFoundError(id string) *MonitorError {
	return newMonitorError(ErrCodeDeviceNotFound, id, nil, "input device %q not found", id)
}

// NewStreamOpenError reports that the host refused to build or start a capture stream.
func NewStreamOpenError(id string, cause error) *MonitorError {
	return newMonitorError(ErrCodeStreamOpen, id, cause, "failed to open capture stream on %q", id)
}

// NewCallbackFaultError wraps a fault raised by the host while delivering buffers.
func NewCallbackFaultError(id string, cause error) *MonitorError {
	return newMonitorError(ErrCodeCallbackFault, id, cause, "capture stream fault on %q", id)
}

// IsErrorCode reports whether err is a MonitorError carrying code.
func IsErrorCode(err error, code string) bool {
	var mErr *MonitorError
	if !errors.As(err, &mErr) {
		return false
	}
	return mErr.Code == code
}
