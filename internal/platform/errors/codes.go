// Package errors provides structured error handling for the engine.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Command errors
	CodeCommandKindEmpty   Code = "COMMAND_KIND_EMPTY"
	CodeCommandKindUnknown Code = "COMMAND_KIND_UNKNOWN"
	CodeCommandRejected    Code = "COMMAND_REJECTED"
	CodeExecutorDuplicate  Code = "EXECUTOR_DUPLICATE"
	CodeExecutionFailed    Code = "EXECUTION_FAILED"
	CodeBusReentrantSubmit Code = "BUS_REENTRANT_SUBMIT"
	CodeJournalCorrupt     Code = "JOURNAL_CORRUPT"

	// Content errors
	CodeContentLoadFailed   Code = "CONTENT_LOAD_FAILED"
	CodeContentDecodeFailed Code = "CONTENT_DECODE_FAILED"
	CodeContentDuplicateID  Code = "CONTENT_DUPLICATE_ID"

	// State machine errors
	CodeDefinitionInvalid    Code = "DEFINITION_INVALID"
	CodeStateNotInDefinition Code = "STATE_NOT_IN_DEFINITION"
	CodeInstanceMissing      Code = "INSTANCE_MISSING"
	CodeDefinitionMissing    Code = "DEFINITION_MISSING"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Scripting errors
	CodeScriptLoadFailed Code = "SCRIPT_LOAD_FAILED"
)
