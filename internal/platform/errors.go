package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a typed failure from a platform API call. The publisher classifies
// it to decide between refresh-and-retry, job-level retry and terminal target
// failure.
type Error struct {
	Platform   string
	StatusCode int // 0 for network-level failures
	Message    string
	Permanent  bool // platform rejected the content; retrying cannot help
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Platform, e.Message)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Platform, e.Message, e.StatusCode)
}

func (e *Error) AuthFailure() bool {
	return !e.Permanent && (e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

func (e *Error) Transient() bool {
	return !e.Permanent && (e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500)
}

func asPlatformError(err error, target **Error) bool {
	return errors.As(err, target)
}

func IsAuthFailure(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.AuthFailure()
}

func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Transient()
}

// rejected builds a permanent content-rejection error, e.g. a required media
// kind is missing.
func rejected(platformName, message string) *Error {
	return &Error{Platform: platformName, Message: message, Permanent: true}
}

func netError(platformName string, err error) *Error {
	return &Error{Platform: platformName, Message: err.Error()}
}

func apiError(platformName string, statusCode int, body []byte) *Error {
	msg := string(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return &Error{Platform: platformName, StatusCode: statusCode, Message: msg}
}
