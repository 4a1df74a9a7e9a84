package archiveio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ExcerptLimit caps how much of an error response body is kept.
const ExcerptLimit = 1024

// ErrOffline means the archive host could not be reached at all.
type ErrOffline struct {
	msg string
}

func (e *ErrOffline) Error() string {
	return e.msg
}

// ErrTimeout means the exchange did not finish within its timeout. The
// request goroutine may still be running when this is returned.
type ErrTimeout struct {
	msg string
}

func (e *ErrTimeout) Error() string {
	return e.msg
}

type ErrPreconditionFailed struct {
	excerpt string
}

func (e *ErrPreconditionFailed) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.excerpt)
}

type ErrRequestFailed struct {
	status  int
	excerpt string
}

func (e *ErrRequestFailed) Error() string {
	if e.status == 0 {
		return fmt.Sprintf("request failed: %s", e.excerpt)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.status, e.excerpt)
}

func (e *ErrRequestFailed) Status() int {
	return e.status
}

type ErrPermissionsTooOpen struct {
	msg string
}

func (e *ErrPermissionsTooOpen) Error() string {
	return e.msg
}

type ErrIdentitiesNotFound struct{}

func (e *ErrIdentitiesNotFound) Error() string {
	return "unable to decrypt: no identities available"
}

// StatusOf reduces any transport outcome to a status code and message.
// Offline hosts report 503 and timeouts 504.
func StatusOf(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}

	var offline *ErrOffline
	var timeout *ErrTimeout
	var precondition *ErrPreconditionFailed
	var failed *ErrRequestFailed

	switch {
	case errors.As(err, &offline):
		return http.StatusServiceUnavailable, offline.Error()
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout, timeout.Error()
	case errors.As(err, &precondition):
		return http.StatusPreconditionFailed, precondition.Error()
	case errors.As(err, &failed):
		if failed.status == 0 {
			return http.StatusInternalServerError, failed.Error()
		}
		return failed.status, failed.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

// classify maps an error from the http client onto the transport errors.
func classify(url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ErrTimeout{msg: fmt.Sprintf("timed out waiting for %s", url)}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var dnserr *net.DNSError
	if errors.As(err, &dnserr) {
		return &ErrOffline{msg: fmt.Sprintf("unable to resolve host for %s: %s", url, dnserr)}
	}
	var operr *net.OpError
	if errors.As(err, &operr) && operr.Op == "dial" {
		return &ErrOffline{msg: fmt.Sprintf("unable to connect to %s: %s", url, operr)}
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return &ErrOffline{msg: fmt.Sprintf("unable to connect to %s: %s", url, err)}
	}

	return &ErrRequestFailed{excerpt: err.Error()}
}

// statusError builds the error for a non-2xx response.
func statusError(status int, body []byte) error {
	excerpt := string(body)
	if len(excerpt) > ExcerptLimit {
		excerpt = excerpt[:ExcerptLimit]
	}
	if status == http.StatusPreconditionFailed {
		return &ErrPreconditionFailed{excerpt: excerpt}
	}
	return &ErrRequestFailed{status: status, excerpt: excerpt}
}
