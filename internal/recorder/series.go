package recorder

import (
	"math"
	"strconv"
)

// Series is one value per recorded tick. A tick whose read failed holds
// NaN so every series of a run has the same length.
type Series struct {
	values []float64
}

func newSeries(ticks int) *Series {
	s := &Series{values: make([]float64, 0, ticks+1)}
	for i := 0; i < ticks; i++ {
		s.values = append(s.values, math.NaN())
	}
	return s
}

func (s *Series) Append(v float64) {
	s.values = append(s.values, v)
}

func (s *Series) Len() int {
	return len(s.values)
}

func (s *Series) Values() []float64 {
	return append([]float64(nil), s.values...)
}

// Average is the mean of the valid values, NaN if there are none.
func (s *Series) Average() float64 {
	var sum float64
	var n int
	for _, v := range s.values {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Max is the largest valid value, NaN if there are none.
func (s *Series) Max() float64 {
	out := math.NaN()
	for _, v := range s.values {
		if !math.IsNaN(v) && (math.IsNaN(out) || v > out) {
			out = v
		}
	}
	return out
}

// MarshalJSON writes NaN as null.
func (s *Series) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 2+len(s.values)*8)
	buf = append(buf, '[')
	for i, v := range s.values {
		if i > 0 {
			buf = append(buf, ',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf = append(buf, "null"...)
			continue
		}
		buf = strconv.AppendFloat(buf, v, 'f', -1, 64)
	}
	return append(buf, ']'), nil
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
