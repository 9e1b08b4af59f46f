// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"strconv"
)

// ExitError carries a process exit status out of a RunE handler. When Err is
// set it has already been shown to the user.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit status " + strconv.Itoa(e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitStatus maps the error returned by the root command to a process exit
// status. Errors that are not ExitErrors come from cobra itself (unknown flags,
// bad arguments) and exit with 1.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}
