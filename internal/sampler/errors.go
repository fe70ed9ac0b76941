package sampler

import "codeberg.org/mutker/procmon/internal/errors"

const (
	ErrFeatureMissing       = errors.ErrFeatureMissing
	ErrUnsupportedFeature   = errors.ErrUnsupportedFeature
	ErrAccessDenied         = errors.ErrAccessDenied
	ErrResourceInit         = errors.ErrResourceInit
	ErrConsumerDisconnected = errors.ErrConsumerDisconnected
	ErrNotObserved          = errors.ErrNotObserved

	ErrInvalidFeatures = errors.ErrorCode("sampler_invalid_features")
	ErrClosed          = errors.ErrorCode("sampler_closed")
)

var taxonomy = []errors.ErrorCode{
	ErrFeatureMissing,
	ErrUnsupportedFeature,
	ErrAccessDenied,
	ErrResourceInit,
	ErrConsumerDisconnected,
	ErrNotObserved,
}

// classify returns the taxonomy code carried anywhere in err's chain,
// defaulting to ErrResourceInit.
func classify(err error) errors.ErrorCode {
	for _, code := range taxonomy {
		if errors.HasCode(err, code) {
			return code
		}
	}
	return ErrResourceInit
}

// featureError tags a construction failure with the feature it belongs to.
func featureError(f Feature, err error) errors.Error {
	return errors.New().Wrap(classify(err), err).WithData(f.String())
}
