package errors_test

import (
	"fmt"
	"io"
	"testing"

	"codeberg.org/mutker/procmon/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.New(errors.ErrFeatureMissing)
	assert.Equal(t, "Feature was not requested (feature_missing)", err.Error())

	err = errFactory.Wrap(errors.ErrResourceInit, io.EOF).WithData("FPS")
	assert.Equal(t, "Failed to open resource (resource_init): FPS: EOF", err.Error())

	err = errFactory.WithMessage(errors.ErrAccessDenied, "no CAP_PERFMON")
	assert.Equal(t, "no CAP_PERFMON (access_denied)", err.Error())
}

func TestHasCode(t *testing.T) {
	errFactory := errors.New()

	inner := errFactory.New(errors.ErrAccessDenied)
	outer := errFactory.Wrap(errors.ErrInitFailed, fmt.Errorf("open trace: %w", inner))

	assert.True(t, errors.HasCode(outer, errors.ErrInitFailed))
	assert.True(t, errors.HasCode(outer, errors.ErrAccessDenied))
	assert.False(t, errors.HasCode(outer, errors.ErrFeatureMissing))
	assert.False(t, errors.HasCode(io.EOF, errors.ErrInternal))
	assert.False(t, errors.HasCode(nil, errors.ErrInternal))
}

func TestIsComparesCodes(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.Wrap(errors.ErrConsumerDisconnected, io.ErrUnexpectedEOF).WithData("NET_TRAFFIC")

	assert.True(t, errors.Is(err, errFactory.New(errors.ErrConsumerDisconnected)))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.False(t, errors.Is(err, errFactory.New(errors.ErrNotObserved)))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, errors.ErrNotObserved, errors.CodeOf(errors.New().New(errors.ErrNotObserved)))
	assert.Equal(t, errors.ErrInternal, errors.CodeOf(io.EOF))
}
