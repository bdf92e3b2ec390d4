package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess        = 0 // Successful execution
	ExitCommandError   = 1 // Invalid usage or unreadable input
	ExitNeedsAttention = 2 // Conflicts, near duplicates, failed commands or cascade abort
)

// Error codes carried in the JSON envelope.
const (
	CodeConfig         = "E_CONFIG"
	CodeNoInput        = "E_NO_INPUT"
	CodeInput          = "E_INPUT"
	CodeStore          = "E_STORE"
	CodeNeedsReview    = "E_NEEDS_REVIEW"
	CodeCommandFailed  = "E_COMMAND_FAILURES"
	CodeCascadeAbort   = "E_CASCADE_ABORT"
	CodeCancelled      = "E_CANCELLED"
	CodeNondeterminism = "E_NONDETERMINISTIC"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitCommandError or ExitNeedsAttention)
	Message string // Error message
	Err     error  // Underlying error (optional)
	// Reported is set when the command already wrote its own output for
	// this error, so main only sets the exit code.
	Reported bool
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

// reportedExit is an ExitError whose details are already on screen.
func reportedExit(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message, Reported: true}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitCommandError (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// IsReported reports whether err's details were already written.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   any `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E_CASCADE_ABORT", etc.
	Message string      `json:"message"`           // human-readable message
	Details any `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Result outputs data alongside an error for runs that finished but need
// attention. Text output is left to the caller.
func (f *OutputFormatter) Result(data any, code, message string) error {
	if f.Format != "json" {
		return nil
	}
	return f.encode(CLIResponse{
		Status: "error",
		Data:   data,
		Error:  &CLIError{Code: code, Message: message},
	})
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// CascadeBanner writes the operator message for an aborted replay.
func CascadeBanner(w io.Writer, graphPath, instancePath, reportPath string) {
	if instancePath == "" {
		instancePath = "(unknown)"
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "[CASCADE ABORT] Schema validation error detected at graph path: %s\n", instancePath)
	fmt.Fprintln(w, "The store's persisted state is invalid, so every later command would fail for the same reason.")
	fmt.Fprintln(w, "Replay stopped; remaining commands were not attempted.")
	fmt.Fprintln(w)
	if graphPath != "" {
		fmt.Fprintf(w, "To repair: open %s and fix or remove the entry at: %s\n", graphPath, instancePath)
	} else {
		fmt.Fprintf(w, "To repair: fix or remove the stored entry at: %s\n", instancePath)
	}
	fmt.Fprintln(w, "Then re-run the same replay; already-applied commands are upserts.")
	if reportPath != "" {
		fmt.Fprintf(w, "Partial report: %s\n", reportPath)
	}
}
