package telemetry

import "codeberg.org/mutker/procmon/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidListen = errors.ErrorCode("telemetry_invalid_listen")

	// Collection Errors
	ErrInvalidMetrics = errors.ErrorCode("telemetry_invalid_metrics")

	// Server Errors
	ErrServerInit      = errors.ErrInitTelemetry
	ErrServiceShutdown = errors.ErrorCode("telemetry_service_shutdown_failed")
)
