package cli

import (
	"fmt"
	"io"

	"github.com/grovetools/appshell/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler writing to out
func NewErrorHandler(verbose bool, out io.Writer) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		Out:     out,
	}
}

// Handle prints a user-friendly message for err and returns it.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(h.Out, "Configuration not found: %v\n", err)

	case errors.ErrCodeConfigInvalid:
		fmt.Fprintf(h.Out, "Configuration is invalid: %v\n", err)
		fmt.Fprintf(h.Out, "Run 'appshell schema config' to see the expected format.\n")

	case errors.ErrCodeDisconnected, errors.ErrCodeUninitialized:
		fmt.Fprintf(h.Out, "%v\n", err)
		fmt.Fprintf(h.Out, "Is appshell running? Start it with 'appshell start'.\n")

	case errors.ErrCodeFatalProcess:
		fmt.Fprintf(h.Out, "Database Process Stopped Unexpectedly\n%v\n", err)

	default:
		fmt.Fprintf(h.Out, "Error: %v\n", err)
	}

	if h.Verbose {
		if appErr, ok := errors.As(err); ok {
			fmt.Fprintf(h.Out, "\nError details:\n%s\n", appErr.ToJSON())
		}
	}
	return err
}
