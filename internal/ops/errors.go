package ops

import (
	"errors"
	"fmt"
)

// ErrCritical is an error that must stop the archive attempt. It is never
// downgraded to a warning by callers.
type ErrCritical struct {
	msg string
	err error
}

func (e *ErrCritical) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.err)
	}
	return e.msg
}

func (e *ErrCritical) Unwrap() error {
	return e.err
}

func Critical(format string, args ...any) error {
	return &ErrCritical{msg: fmt.Sprintf(format, args...)}
}

func CriticalWrap(err error, format string, args ...any) error {
	return &ErrCritical{msg: fmt.Sprintf(format, args...), err: err}
}

func IsCritical(err error) bool {
	var critical *ErrCritical
	return errors.As(err, &critical)
}

type ErrDuplicatePath struct {
	relpath string
}

func (e *ErrDuplicatePath) Error() string {
	return fmt.Sprintf("duplicate relative destination path: %s", e.relpath)
}
