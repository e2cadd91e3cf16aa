package trainer

// meanTracker accumulates a running mean loss across an epoch.
type meanTracker struct {
	sum float64
	n   int
}

func (m *meanTracker) add(v float64) {
	m.sum += v
	m.n++
}

func (m *meanTracker) value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}
