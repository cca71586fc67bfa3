package cli

import "errors"

const (
	ExitOK      = 0
	ExitDiffers = 1
	ExitFailure = 2
)

// ExitError carries the process exit code out of a command. Err has already
// been logged when set.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "files differ"
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps the error returned by Execute to a process exit code. Errors
// other than *ExitError come from flag or config handling.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// Reported tells main whether err was already logged.
func Reported(err error) bool {
	var ee *ExitError
	return errors.As(err, &ee)
}
