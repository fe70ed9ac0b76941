package recorder

import "codeberg.org/mutker/procmon/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidOutput = errors.ErrorCode("recorder_invalid_output")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("recorder_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("recorder_schema_validation_failed")
	ErrTransactionFailed      = errors.ErrorCode("recorder_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitRecorder
	ErrStorageWrite = errors.ErrWriteRecorder
	ErrStorageClose = errors.ErrShutdownFailed

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)
