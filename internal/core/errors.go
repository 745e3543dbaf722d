package core

import "errors"

var (
	ErrUnknownRecordType = errors.New("unknown record type")
	ErrSessionNotFound   = errors.New("import session not found")
	ErrConflictNotFound  = errors.New("conflict not found")
	ErrLookupFailed      = errors.New("existing record lookup failed")
	ErrApplyInProgress   = errors.New("import is already being applied")
	ErrNotApplied        = errors.New("import has not been applied")
	ErrInvalidResolution = errors.New("invalid resolution")
	ErrEmptyPayload      = errors.New("empty file")
	ErrFileTooLarge      = errors.New("file too large")

	// ErrKeyExists is returned by Writer.Insert when the key is already stored.
	ErrKeyExists = errors.New("record key already exists")
)
