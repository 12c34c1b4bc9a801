package model

// Counter is a named group of series sharing sample timestamps.
type Counter struct {
	Category string
	Name     string
	Series   []*CounterSeries

	Timestamps []float64
}

// CounterSeries is one numeric sequence within a counter.
type CounterSeries struct {
	Name    string
	ColorID uint32
	Values  []float64
}

// AppendSample appends one sample to every series; values must carry one
// entry per series, in series order.
func (c *Counter) AppendSample(ts float64, values []float64) {
	c.Timestamps = append(c.Timestamps, ts)
	for i, s := range c.Series {
		s.Values = append(s.Values, values[i])
	}
}

func (c *Counter) NumSamples() int {
	return len(c.Timestamps)
}

func (c *Counter) UpdateBounds(bounds *Bounds) {
	for _, ts := range c.Timestamps {
		bounds.AddValue(ts)
	}
}

func (c *Counter) ShiftTimestamps(amount float64) {
	for i := range c.Timestamps {
		c.Timestamps[i] += amount
	}
}
