package gpu

import (
	"sync"

	"codeberg.org/mutker/procmon/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

type nvmlWrapper struct {
	mu          sync.Mutex
	initialized bool
}

// NewLibrary returns the NVML-backed Library.
func NewLibrary() Library {
	return &nvmlWrapper{}
}

func (w *nvmlWrapper) Initialize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.initialized {
		return nil
	}

	ret := nvml.Init()
	if !IsNVMLSuccess(ret) {
		return wrapReturn(ErrInitFailed, ret)
	}

	w.initialized = true

	return nil
}

func (w *nvmlWrapper) Shutdown() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.initialized {
		return nil
	}

	ret := nvml.Shutdown()
	if !IsNVMLSuccess(ret) {
		return errors.New().Wrap(ErrShutdownFailed, newNVMLError(ret))
	}

	w.initialized = false

	return nil
}

func (w *nvmlWrapper) GetDeviceCount() (int, error) {
	if !w.ready() {
		return 0, errors.New().New(ErrNotInitialized)
	}

	count, ret := nvml.DeviceGetCount()
	if !IsNVMLSuccess(ret) {
		return 0, wrapReturn(ErrDeviceCountFailed, ret)
	}

	return count, nil
}

func (w *nvmlWrapper) GetDevice(index int) (Device, error) {
	if !w.ready() {
		return nil, errors.New().New(ErrNotInitialized)
	}

	device, ret := nvml.DeviceGetHandleByIndex(index)
	if !IsNVMLSuccess(ret) {
		return nil, wrapReturn(ErrDeviceNotFound, ret)
	}

	return device, nil
}

func (w *nvmlWrapper) ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initialized
}

// openDevices initialises lib and returns every device it reports. Having
// no device at all is an unsupported feature.
func openDevices(lib Library) ([]Device, error) {
	errFactory := errors.New()

	if err := lib.Initialize(); err != nil {
		return nil, err
	}

	count, err := lib.GetDeviceCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errFactory.Wrap(errors.ErrUnsupportedFeature, errFactory.New(ErrNoDevices))
	}

	devices := make([]Device, 0, count)
	for i := 0; i < count; i++ {
		d, err := lib.GetDevice(i)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}

	return devices, nil
}
