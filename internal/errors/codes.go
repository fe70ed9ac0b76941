package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Sampling taxonomy
	ErrFeatureMissing       ErrorCode = "feature_missing"
	ErrUnsupportedFeature   ErrorCode = "unsupported_feature"
	ErrAccessDenied         ErrorCode = "access_denied"
	ErrResourceInit         ErrorCode = "resource_init"
	ErrConsumerDisconnected ErrorCode = "consumer_disconnected"
	ErrNotObserved          ErrorCode = "not_observed"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrTimeout         ErrorCode = "operation_timeout"

	// Output errors
	ErrInitRecorder  ErrorCode = "init_recorder_failed"
	ErrWriteRecorder ErrorCode = "write_recorder_failed"
	ErrInitTelemetry ErrorCode = "init_telemetry_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:             "Internal error occurred",
	ErrInvalidArgument:      "Invalid argument provided",
	ErrNotImplemented:       "Operation not implemented",
	ErrInvalidConfig:        "Invalid configuration",
	ErrBindFlags:            "Failed to bind flags",
	ErrReadConfig:           "Failed to read config file",
	ErrInvalidInterval:      "Invalid interval value",
	ErrInvalidLogLevel:      "Invalid log level",
	ErrInitFailed:           "Initialization failed",
	ErrShutdownFailed:       "Shutdown failed",
	ErrAlreadyRunning:       "Another instance is already running",
	ErrFeatureMissing:       "Feature was not requested",
	ErrUnsupportedFeature:   "Feature is not supported on this platform",
	ErrAccessDenied:         "Access denied",
	ErrResourceInit:         "Failed to open resource",
	ErrConsumerDisconnected: "Producer disconnected",
	ErrNotObserved:          "Entity not observed",
	ErrOperationFailed:      "Operation failed",
	ErrTimeout:              "Operation timed out",
	ErrInitRecorder:         "Failed to initialize recorder",
	ErrWriteRecorder:        "Failed to write recording",
	ErrInitTelemetry:        "Failed to initialize telemetry",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
