package scraper

import "codeberg.org/mutker/procmon/internal/errors"

const (
	ErrHelperMissing = errors.ErrorCode("scraper_helper_missing")
	ErrHelperExited  = errors.ErrorCode("scraper_helper_exited")
)
