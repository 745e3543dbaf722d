package core

// error_messages.go maps technical errors to coded user messages.
//
// # Error Codes Reference
//
// When an operator reports an error, the code identifies what happened.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this key already exists
//	DB002 - Unique constraint: A value that must be unique already exists
//	DB003 - Check constraint: The record was rejected by the database
//	DB004 - Connection refused: Unable to connect to the database
//	DB005 - Connection reset: Database connection was interrupted
//	DB006 - Timeout: Operation timed out
//	DB007 - Deadlock: Database was busy with conflicting operations
//	DB008 - Locked: Database file is locked by another writer
//	DB009 - Lookup failed: Existing records could not be read
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Required field is empty
//	VAL002 - Value is not in the allowed list
//	VAL003 - Duplicate key inside the file
//	VAL004 - Invalid resolution (keep, replace, merge)
//	VAL005 - Unknown record type
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Invalid document
//	FILE003 - No file provided
//	FILE004 - Empty file
//	FILE005 - Unsupported format
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import session not found or expired
//	IMP002 - Conflict not found
//	IMP003 - Import is already being applied
//	IMP004 - Too many imports being applied
//	IMP005 - Request cancelled
//	IMP006 - Request timed out
//	IMP007 - Import has not been applied yet
//
// # Rate Limiting
//
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
//	ERR000 - An unexpected error occurred; check the logs for the technical error
//
// # Matching
//
// Sentinel errors from this package are matched first with errors.Is. Other
// errors are matched case-insensitively by substring; the first match wins,
// so specific patterns come before general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

// sentinelMessages are checked in order before any pattern.
var sentinelMessages = []sentinelMessage{
	{ErrLookupFailed, UserMessage{"Existing records could not be read", "Nothing was written. Please try again in a few moments", "DB009"}},
	{ErrKeyExists, UserMessage{"A record with this key already exists", "Resolve it as a conflict instead of inserting", "DB001"}},
	{ErrUnknownRecordType, UserMessage{"Unknown record type", "Use one of the types listed by the schemas endpoint", "VAL005"}},
	{ErrInvalidResolution, UserMessage{"Invalid resolution", "Use keep, replace, or merge", "VAL004"}},
	{ErrFileTooLarge, UserMessage{"File exceeds the maximum size limit", "Split the file into smaller chunks", "FILE001"}},
	{ErrEmptyPayload, UserMessage{"The uploaded file is empty", "Please upload a file with data rows", "FILE004"}},
	{ErrSessionNotFound, UserMessage{"Import session not found", "The session may have expired. Please upload the file again", "IMP001"}},
	{ErrConflictNotFound, UserMessage{"Conflict not found", "Check the key against the conflict list", "IMP002"}},
	{ErrApplyInProgress, UserMessage{"This import is already being applied", "Wait for the current run to finish", "IMP003"}},
	{ErrNotApplied, UserMessage{"This import has not been applied yet", "Apply the import first", "IMP007"}},
	{ErrTooManyApplies, UserMessage{"System is busy applying other imports", "Please wait a moment and try again", "IMP004"}},
	{context.Canceled, UserMessage{"Request was cancelled", "Please try again", "IMP005"}},
	{context.DeadlineExceeded, UserMessage{"Request timed out", "Try a smaller file or try again later", "IMP006"}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (lowercased) to user messages.
// Both PostgreSQL and SQLite wordings are covered.
var errorPatterns = []errorPattern{
	// In-file duplicates, before the database wording below
	{"duplicate key \"", UserMessage{"The same key appears more than once in the file", "Remove the repeated rows", "VAL003"}},

	// Constraint errors
	{"duplicate key", UserMessage{"A record with this key already exists", "Resolve it as a conflict instead of inserting", "DB001"}},
	{"unique constraint", UserMessage{"A value that must be unique already exists", "Check for duplicate entries in your file", "DB002"}},
	{"violates unique", UserMessage{"A duplicate value was found", "Review your data for duplicate key values", "DB002"}},
	{"check constraint", UserMessage{"The record was rejected by the database", "Review the record's values", "DB003"}},
	{"not null constraint", UserMessage{"A required value is missing", "Ensure all required columns have values", "DB003"}},

	// Connection errors
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},
	{"database is locked", UserMessage{"Database is locked by another writer", "Please try again", "DB008"}},

	// Validation errors
	{"is required", UserMessage{"Required field is empty", "Ensure all required columns have values", "VAL001"}},
	{"must be one of", UserMessage{"Value is not in the allowed list", "Check the allowed values for this field", "VAL002"}},

	// File errors
	{"file too large", UserMessage{"File exceeds the maximum size limit", "Split the file into smaller chunks", "FILE001"}},
	{"invalid document", UserMessage{"File is not a valid document", "Upload a JSON array or an object with a records collection", "FILE002"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a file to upload", "FILE003"}},
	{"empty file", UserMessage{"The uploaded file is empty", "Please upload a file with data rows", "FILE004"}},
	{"unsupported format", UserMessage{"Unsupported file format", "Use delimited (CSV/TSV) or structured (JSON)", "FILE005"}},

	// Request errors
	{"invalid request body", UserMessage{"The request body could not be read", "Send a JSON body such as {\"resolution\": \"merge\"}", "REQ001"}},

	// Rate limiting
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns the zero UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a display string: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
// Error() returns the user message; Unwrap() the technical error.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
