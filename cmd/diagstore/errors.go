package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arthur-debert/diagstore/diagstore/history"
	"github.com/arthur-debert/diagstore/diagstore/storage"
	"github.com/arthur-debert/diagstore/internal/validation"
)

// CLIError represents a user-friendly CLI error with context and suggestions
type CLIError struct {
	Operation   string   // The operation that failed (e.g., "create entity", "undo")
	Cause       string   // The underlying cause (e.g., "entity not found")
	Details     string   // Additional technical details
	Suggestions []string // Helpful suggestions for the user
	Underlying  error    // Original error for debugging
}

// Error implements the error interface
func (e *CLIError) Error() string {
	var msg strings.Builder

	if e.Operation != "" {
		fmt.Fprintf(&msg, "Failed to %s", e.Operation)
	} else {
		msg.WriteString("Operation failed")
	}

	if e.Cause != "" {
		fmt.Fprintf(&msg, ": %s", e.Cause)
	}

	if e.Details != "" {
		fmt.Fprintf(&msg, " (%s)", e.Details)
	}

	if len(e.Suggestions) > 0 {
		msg.WriteString("\n\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			fmt.Fprintf(&msg, "\n  %d. %s", i+1, suggestion)
		}
	}

	return msg.String()
}

// Unwrap returns the underlying error for error chain compatibility
func (e *CLIError) Unwrap() error {
	return e.Underlying
}

// NewValidationError creates an error for invalid arguments
func NewValidationError(operation, field, value string, suggestions ...string) *CLIError {
	return &CLIError{
		Operation:   operation,
		Cause:       fmt.Sprintf("invalid %s: %q", field, value),
		Suggestions: suggestions,
	}
}

// NewNotFoundError creates an error for missing entities
func NewNotFoundError(operation, resource, id string, suggestions ...string) *CLIError {
	return &CLIError{
		Operation:   operation,
		Cause:       fmt.Sprintf("%s with ID %q not found", resource, id),
		Suggestions: suggestions,
	}
}

// NewConfigError creates an error for configuration issues
func NewConfigError(operation, issue string, suggestions ...string) *CLIError {
	return &CLIError{
		Operation:   operation,
		Cause:       fmt.Sprintf("configuration error: %s", issue),
		Suggestions: suggestions,
	}
}

// NewStoreError creates an error for failures reading or writing the document
func NewStoreError(operation string, underlying error, suggestions ...string) *CLIError {
	cause := "document operation failed"
	details := ""

	if underlying != nil {
		details = underlying.Error()

		errStr := strings.ToLower(details)
		switch {
		case errors.Is(underlying, storage.ErrLockTimeout):
			cause = "document file is locked by another process"
		case errors.Is(underlying, history.ErrNothingToUndo):
			cause = "nothing to undo"
		case errors.Is(underlying, history.ErrNothingToRedo):
			cause = "nothing to redo"
		case errors.Is(underlying, history.ErrUnknownItemType):
			cause = "document history uses an unknown item type"
		case errors.Is(underlying, validation.ErrInvalidFile):
			cause = "document file is invalid"
		case strings.Contains(errStr, "permission denied"):
			cause = "insufficient permissions to access document file"
		case strings.Contains(errStr, "failed to parse json"):
			cause = "document file is not valid JSON"
		}
	}

	return &CLIError{
		Operation:   operation,
		Cause:       cause,
		Details:     details,
		Suggestions: suggestions,
		Underlying:  underlying,
	}
}

// WrapError wraps an existing error with CLI-friendly context
func WrapError(operation string, err error, suggestions ...string) error {
	if err == nil {
		return nil
	}

	// Errors raised by command callbacks arrive wrapped by the document layer
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		if cliErr.Operation == "" {
			cliErr.Operation = operation
		}
		return cliErr
	}

	return NewStoreError(operation, err, suggestions...)
}

// Common error messages and suggestions
var (
	CommonSuggestions = struct {
		CheckFile    string
		CheckID      string
		CheckConfig  string
		CheckHistory string
		RunHelp      string
		CheckPerms   string
		TryDryRun    string
	}{
		CheckFile:    "Verify --file points to a diagstore document",
		CheckID:      "Verify the entity ID exists (try 'list' command first)",
		CheckConfig:  "Check your configuration file or environment variables",
		CheckHistory: "Run 'diagstore history' to inspect the undo and redo stacks",
		RunHelp:      "Run command with --help for usage information",
		CheckPerms:   "Check file permissions and directory access",
		TryDryRun:    "Use --dry-run to preview the operation",
	}
)
