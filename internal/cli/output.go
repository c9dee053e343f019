package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the store or the document refused the request
	ExitCommandError = 2 // bad flags or settings, or the store could not be opened
)

// Codes carried in Envelope.Error.Code, keyed by exit code.
const (
	CodeFailure      = "E001"
	CodeCommandError = "E002"
)

var errorCodes = map[int]string{
	ExitFailure:      CodeFailure,
	ExitCommandError: CodeCommandError,
}

// ExitError is a command failure with the exit code the process should end
// with. Message is what the user sees; Err is shown as details.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns a failure with no underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code and a user-facing message to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ReportError writes err through f and returns the exit code.
func ReportError(f *OutputFormatter, err error) int {
	code := GetExitCode(err)
	errCode, ok := errorCodes[code]
	if !ok {
		errCode = CodeFailure
	}

	message, details := err.Error(), any(nil)
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err != nil {
		message, details = exitErr.Message, exitErr.Err.Error()
	}
	_ = f.Error(errCode, message, details)
	return code
}

// Envelope wraps every JSON reply.
type Envelope struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *EnvelopeError `json:"error,omitempty"`
}

// EnvelopeError describes a failed command.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as JSON envelopes or plain text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; falls back to Writer
	Verbose   bool
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

// Result writes data as the envelope payload in JSON mode and text
// otherwise.
func (f *OutputFormatter) Result(data any, text string) error {
	if f.isJSON() {
		return json.NewEncoder(f.Writer).Encode(Envelope{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

// Error writes a failure. Text mode shows details only when verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return json.NewEncoder(f.Writer).Encode(Envelope{
			Status: "error",
			Error:  &EnvelopeError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Logf writes a diagnostic line when verbose. It never goes to Writer in
// JSON mode unless no ErrWriter is set.
func (f *OutputFormatter) Logf(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
