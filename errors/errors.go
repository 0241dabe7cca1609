package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for a failure class.
type Code string

const (
	CodeModelRequest       Code = "model.request.failure"
	CodeToolInvocation     Code = "tool.invocation.failure"
	CodeSessionUnavailable Code = "tool.session.unavailable"
	CodeConfiguration      Code = "config.validate.invalid_value"
	CodeConfigLoad         Code = "config.load.read.failure"
)

// locatedError carries the call site that created it. Error() returns only the
// message chain; the file and line are printed with %+v.
type locatedError struct {
	msg   string
	file  string
	line  int
	cause error
}

func (e *locatedError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *locatedError) Unwrap() error { return e.cause }

func (e *locatedError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "[%s:%d] %s", e.file, e.line, e.msg)
			if e.cause != nil {
				fmt.Fprintf(s, ": %+v", e.cause)
			}
			return
		}
		fmt.Fprint(s, e.Error())
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

func caller(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "???", 0
	}
	return filepath.Base(file), line
}

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	file, line := caller(1)
	return &locatedError{msg: fmt.Sprintf(format, a...), file: file, line: line}
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	file, line := caller(1)
	return &locatedError{msg: fmt.Sprintf(format, a...), file: file, line: line, cause: err}
}

// Coded wraps err with a failure code. If err is nil, Coded returns nil.
func Coded(err error, code Code, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, a...)
}

// Codef creates a new coded error.
func Codef(code Code, format string, a ...interface{}) error {
	return oops.Code(code).Errorf(format, a...)
}

// CodeOf returns the innermost failure code in err's chain, or "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch c := oopsErr.Code().(type) {
	case Code:
		return c
	case string:
		return Code(c)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", c))
	}
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsModelRequest reports whether err is a failed completion call.
func IsModelRequest(err error) bool { return HasCode(err, CodeModelRequest) }

// IsConfiguration reports whether err is a rejected configuration value.
func IsConfiguration(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "config.")
}

// IsSessionUnavailable reports whether err means the tool session is gone.
func IsSessionUnavailable(err error) bool { return HasCode(err, CodeSessionUnavailable) }

// Is and As re-export the standard library helpers so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
