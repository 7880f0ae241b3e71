package curve

import (
	"bytes"
	"math"
	"strconv"
)

// BandWidth is the number of standard deviations between the moving
// average and each band line.
const BandWidth = 2.0

// Values is a float series whose undefined entries are NaN. It marshals
// NaN as JSON null.
type Values []float64

// MarshalJSON implements json.Marshaler.
func (v Values) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Defined reports whether index i holds a band value.
func (v Values) Defined(i int) bool {
	return i >= 0 && i < len(v) && !math.IsNaN(v[i])
}

// At returns the value at i, or NaN when i is out of range.
func (v Values) At(i int) float64 {
	if i < 0 || i >= len(v) {
		return math.NaN()
	}
	return v[i]
}

// Band is a trailing Bollinger band: moving average plus and minus k
// population standard deviations.
type Band struct {
	Window int     `json:"window"`
	K      float64 `json:"k"`
	Upper  Values  `json:"upper"`
	Middle Values  `json:"middle"`
	Lower  Values  `json:"lower"`
}

// Bollinger computes a band over data using a trailing window of the given
// size. Entries with fewer than window points of history are NaN. A window
// below 1 yields an all-NaN band.
func Bollinger(data []float64, window int, k float64) Band {
	n := len(data)
	band := Band{
		Window: window,
		K:      k,
		Upper:  make(Values, n),
		Middle: make(Values, n),
		Lower:  make(Values, n),
	}
	for i := 0; i < n; i++ {
		if window < 1 || i < window-1 {
			band.Upper[i] = math.NaN()
			band.Middle[i] = math.NaN()
			band.Lower[i] = math.NaN()
			continue
		}
		mean, stdev := meanStdev(data[i-window+1 : i+1])
		band.Middle[i] = mean
		band.Upper[i] = mean + k*stdev
		band.Lower[i] = mean - k*stdev
	}
	return band
}

// meanStdev returns the mean and population standard deviation of window.
func meanStdev(window []float64) (float64, float64) {
	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(len(window))

	var sq float64
	for _, v := range window {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(window)))
}
