package application

import (
	"encoding/json"
	"math"
)

type Direction int

const (
	DirectionFlat Direction = iota
	DirectionUp
	DirectionDown
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "flat"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// TrendSnapshot is derived from a topic's history at one point in time.
// Mean is NaN when Count is 0 or when it does not fit a float64.
// DeltaUndefined is set when the previous reading was zero or the delta
// overflows; DeltaPercent is then 0 and Direction flat.
type TrendSnapshot struct {
	Count          int
	Latest         float64
	Mean           float64
	DeltaPercent   float64
	Direction      Direction
	DeltaUndefined bool
}

// EmptyTrend is the snapshot of a topic with no readings.
func EmptyTrend() TrendSnapshot {
	return TrendSnapshot{Mean: math.NaN()}
}

// ComputeTrend derives mean, latest-vs-previous delta and direction from
// history, which must be in arrival order. ErrZeroBaseline and
// ErrTrendOverflow are returned alongside a usable snapshot.
func ComputeTrend(history []Reading) (TrendSnapshot, error) {
	if len(history) == 0 {
		return EmptyTrend(), nil
	}

	// running mean, a plain sum overflows long before the mean does
	var mean float64
	for i, r := range history {
		mean += (r.Value - mean) / float64(i+1)
	}

	latest := history[len(history)-1].Value
	snap := TrendSnapshot{
		Count:  len(history),
		Latest: latest,
		Mean:   round2(mean),
	}

	var err error
	if !isFinite(snap.Mean) {
		snap.Mean = math.NaN()
		err = ErrTrendOverflow
	}

	if len(history) < 2 {
		return snap, err
	}

	previous := history[len(history)-2].Value
	if previous == 0 {
		snap.DeltaUndefined = true
		return snap, ErrZeroBaseline
	}

	delta := round2((latest - previous) * 100 / previous)
	if !isFinite(delta) {
		snap.DeltaUndefined = true
		return snap, ErrTrendOverflow
	}

	snap.DeltaPercent = delta
	switch {
	case snap.DeltaPercent > 0:
		snap.Direction = DirectionUp
	case snap.DeltaPercent < 0:
		snap.Direction = DirectionDown
	default:
		// round2 may produce -0
		snap.DeltaPercent = 0
	}
	return snap, err
}

// round2 rounds to 2 decimals. Values too large to scale are already
// integral and are returned unchanged.
func round2(v float64) float64 {
	scaled := v * 100
	if !isFinite(scaled) {
		return v
	}
	return math.Round(scaled) / 100
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

type trendJSON struct {
	Count          int       `json:"count"`
	Latest         *float64  `json:"latest"`
	Mean           *float64  `json:"mean"`
	DeltaPercent   *float64  `json:"deltaPercent"`
	Direction      Direction `json:"direction"`
	DeltaUndefined bool      `json:"deltaUndefined"`
}

// MarshalJSON renders undefined and non-finite values as null.
func (t TrendSnapshot) MarshalJSON() ([]byte, error) {
	out := trendJSON{Count: t.Count, Direction: t.Direction, DeltaUndefined: t.DeltaUndefined}
	if t.Count > 0 {
		out.Latest, out.Mean = finiteOrNil(t.Latest), finiteOrNil(t.Mean)
	}
	if !t.DeltaUndefined {
		out.DeltaPercent = finiteOrNil(t.DeltaPercent)
	}
	return json.Marshal(out)
}

func finiteOrNil(v float64) *float64 {
	if !isFinite(v) {
		return nil
	}
	return &v
}
