package models

// Tick is a single raw market sample. Timestamp is a float unix epoch in
// seconds, the way every feed hands it over. Immutable once produced.
type Tick struct {
	Timestamp float64
	Bid       float64
	Ask       float64
	Volume    float64
}

// Spread returns the ask minus bid at this sample.
func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}
