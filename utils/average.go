package utils

// A RollingAverage computes an average over a fixed window of samples.
// It is not safe for concurrent use.
type RollingAverage struct {
	data []float64
	pos  int
	n    int
}

func NewRollingAverage(numSamples int) *RollingAverage {
	if numSamples <= 0 {
		numSamples = 1
	}
	return &RollingAverage{data: make([]float64, numSamples), pos: 0}
}

func (ra *RollingAverage) NumSamples() int {
	return len(ra.data)
}

func (ra *RollingAverage) Add(x float64) {
	ra.data[ra.pos] = x
	ra.pos++
	if ra.pos >= len(ra.data) {
		ra.pos = 0
	}
	if ra.n < len(ra.data) {
		ra.n++
	}
}

func (ra *RollingAverage) Average() float64 {
	if ra.n == 0 {
		return 0
	}

	sum := 0.0
	for _, d := range ra.data[:ra.n] {
		sum += d
	}

	return sum / float64(ra.n)
}
