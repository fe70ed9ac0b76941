package gpu

import (
	"codeberg.org/mutker/procmon/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	// Initialization and Lifecycle Errors
	ErrNotInitialized = errors.ErrorCode("gpu_not_initialized")
	ErrInitFailed     = errors.ErrorCode("gpu_init_failed")
	ErrDeviceNotFound = errors.ErrorCode("gpu_device_not_found")
	ErrShutdownFailed = errors.ErrorCode("gpu_shutdown_failed")
	ErrNoDevices      = errors.ErrorCode("gpu_no_devices")

	// Device Discovery Errors
	ErrDeviceCountFailed = errors.ErrorCode("gpu_device_count_failed")

	// Query Errors
	ErrUtilizationFailed = errors.ErrorCode("gpu_utilization_failed")
	ErrProcessesFailed   = errors.ErrorCode("gpu_processes_failed")
	ErrTemperatureFailed = errors.ErrorCode("gpu_temperature_read_failed")
	ErrPowerReadFailed   = errors.ErrorCode("gpu_power_read_failed")
)

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

// newNVMLError creates an error from an NVML return code
func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}

// IsNVMLSuccess checks if a Return value indicates success
func IsNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}

// taxonomyCode maps an NVML return code to the sampler error taxonomy.
func taxonomyCode(ret nvml.Return) errors.ErrorCode {
	switch ret {
	case nvml.ERROR_LIBRARY_NOT_FOUND, nvml.ERROR_DRIVER_NOT_LOADED,
		nvml.ERROR_NOT_SUPPORTED, nvml.ERROR_FUNCTION_NOT_FOUND:
		return errors.ErrUnsupportedFeature
	case nvml.ERROR_NO_PERMISSION:
		return errors.ErrAccessDenied
	default:
		return errors.ErrResourceInit
	}
}

// wrapReturn builds a two-level error: the taxonomy code outside, the
// package code inside, the NVML message at the bottom.
func wrapReturn(code errors.ErrorCode, ret nvml.Return) errors.Error {
	errFactory := errors.New()
	return errFactory.Wrap(taxonomyCode(ret), errFactory.Wrap(code, newNVMLError(ret)))
}
