package storex

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/Abraxas-365/warden/pkg/errx"
)

var ErrRegistry = errx.NewRegistry("STORE")

var (
	CodeNotFound    = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Record not found")
	CodeConflict    = ErrRegistry.Register("CONFLICT", errx.TypeConflict, http.StatusConflict, "Record violates a uniqueness constraint")
	CodeUnreachable = ErrRegistry.Register("UNREACHABLE", errx.TypeUnavailable, http.StatusServiceUnavailable, "Storage backend unreachable")
	CodeTimeout     = ErrRegistry.Register("TIMEOUT", errx.TypeTimeout, http.StatusGatewayTimeout, "Storage operation timed out")
	CodeInternal    = ErrRegistry.Register("INTERNAL", errx.TypeInternal, http.StatusInternalServerError, "Storage operation failed")
)

func ErrNotFound(backend string) *errx.Error {
	return ErrRegistry.New(CodeNotFound).WithDetail("backend", backend)
}

func ErrConflict(backend, field string) *errx.Error {
	return ErrRegistry.New(CodeConflict).WithDetail("backend", backend).WithDetail("field", field)
}

func ErrUnreachable(backend string, cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeUnreachable, cause).WithDetail("backend", backend)
}

func ErrTimeout(backend string, cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeTimeout, cause).WithDetail("backend", backend)
}

func ErrInternal(backend string, cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeInternal, cause).WithDetail("backend", backend)
}

func IsNotFound(err error) bool    { return errx.IsCode(err, CodeNotFound) }
func IsConflict(err error) bool    { return errx.IsCode(err, CodeConflict) }
func IsUnreachable(err error) bool { return errx.IsCode(err, CodeUnreachable) }
func IsTimeout(err error) bool     { return errx.IsCode(err, CodeTimeout) }

// classify maps a raw backend error into the taxonomy. Errors that already
// carry a STORE code pass through.
func classify(backend string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := errx.As(err); ok && isStoreCode(e.Code) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout(backend, err)
	case errors.Is(err, context.Canceled):
		return err
	case isConnectionError(err):
		return ErrUnreachable(backend, err)
	default:
		return ErrInternal(backend, err)
	}
}

func isStoreCode(code string) bool {
	for _, c := range []*errx.ErrorCode{CodeNotFound, CodeConflict, CodeUnreachable, CodeTimeout, CodeInternal} {
		if c.Code == code {
			return true
		}
	}
	return false
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
