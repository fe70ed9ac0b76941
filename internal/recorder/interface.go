package recorder

import (
	"time"

	"codeberg.org/mutker/procmon/internal/host"
	"codeberg.org/mutker/procmon/internal/sampler"
)

// Source is the read side of the sampler the recorder polls every tick.
type Source interface {
	ProcessValue(c sampler.Category, e sampler.EntityID) (float64, error)
	SystemValues(c sampler.Category) ([]float64, error)
}

// Writer persists a run. Record streams ticks, Finish receives the whole
// report once sampling is over.
type Writer interface {
	Record(tick *Tick) error
	Finish(report *Report) error
	Close() error
}

// Run describes one sampling session.
type Run struct {
	ID         string             `json:"id"`
	Started    time.Time          `json:"started"`
	Interval   float64            `json:"interval"`
	Categories []sampler.Category `json:"categories"`
	Entities   []host.Info        `json:"-"`
}

// Tick is every value read at one instant. Failed reads carry NaN.
type Tick struct {
	Index     int
	Timestamp time.Time
	Window    time.Duration
	Samples   []Sample
}

type Sample struct {
	Entity   sampler.EntityID
	Category sampler.Category
	Index    int
	Value    float64
}

// Report is the end-of-run document.
type Report struct {
	Run       Run                                 `json:"run"`
	Ticks     int                                 `json:"ticks"`
	Processes []ProcessReport                     `json:"processes"`
	System    map[sampler.Category][]SeriesReport `json:"system,omitempty"`
}

type ProcessReport struct {
	host.Info
	Metrics map[sampler.Category]SeriesReport `json:"metrics"`
}

type SeriesReport struct {
	Index   int      `json:"index"`
	Average *float64 `json:"avg"`
	Max     *float64 `json:"max"`
	Values  *Series  `json:"values"`
}

// Summary is one row of the end-of-run log.
type Summary struct {
	Entity   string
	Category sampler.Category
	Average  float64
	Max      float64
}
