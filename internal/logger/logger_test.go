package logger_test

import (
	"bytes"
	"testing"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/logger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	require.NoError(t, logger.SetLogLevel("debug"))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	require.NoError(t, logger.SetLogLevel("warning"))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	err := logger.SetLogLevel("loud")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestComponentLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	log := logger.New(&buf).With("sampler")

	log.ErrorWithCode(errors.New().New(errors.ErrAccessDenied)).Msg("open failed")

	out := buf.String()
	assert.Contains(t, out, `"component":"sampler"`)
	assert.Contains(t, out, `"error_code":"access_denied"`)
	assert.Contains(t, out, `"message":"open failed"`)
}
