package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Request rejected (not found, already enrolled, ...)
	ExitCommandError = 2 // Bad flags, unreachable database
	ExitRetryable    = 3 // Conflict; running the command again may succeed
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// serviceError turns a service failure into an ExitError carrying its code.
func serviceError(action string, err error) error {
	appErr := appErrors.FromError(err)
	code := ExitFailure
	switch {
	case appErr.Retryable:
		code = ExitRetryable
	case appErr.Status >= 500:
		code = ExitCommandError
	}
	return &ExitError{Code: code, Message: fmt.Sprintf("%s failed [%s]", action, appErr.Code), Err: appErr}
}

type jsonResult struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
}

// writeResult prints data as JSON, or the text lines otherwise.
func writeResult(w io.Writer, format string, data interface{}, lines ...string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonResult{Status: "ok", Data: data})
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
