package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig     = errors.New("gateway_invalid_config")
	ErrInvalidRequest    = errors.New("gateway_invalid_request")
	ErrUnavailable       = errors.New("gateway_unavailable")
	ErrAuthRejected      = errors.New("gateway_auth_rejected")
	ErrMalformedResponse = errors.New("gateway_malformed_response")
)

// GatewayError carries the gateway's own diagnostics along with a retry verdict.
type GatewayError struct {
	Op        string
	Status    int
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %s", e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Message != "" {
		msg += " message=" + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient gateway failure.
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return false
}

// Diagnostics extracts the gateway code and message from err, if any.
func Diagnostics(err error) (code string, message string) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		code, message = gwErr.Code, gwErr.Message
		if code == "" && gwErr.Err != nil {
			code = gwErr.Err.Error()
		}
		if message == "" {
			message = gwErr.Error()
		}
		return code, message
	}
	if err != nil {
		return "gateway_error", err.Error()
	}
	return "", ""
}
