package scraper

import "codeberg.org/mutker/procmon/internal/sampler"

// Grammar parses one line of a helper's output. ok is false when the line
// is not a data line: headers, markers, truncated or garbled text. The
// runner skips such lines and keeps reading.
type Grammar interface {
	Parse(line string) (events []sampler.Event, ok bool)
	// Skippable reports lines that are expected non-data, such as headers,
	// so they are not counted as parse errors.
	Skippable(line string) bool
}
