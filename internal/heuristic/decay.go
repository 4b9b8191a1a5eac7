package heuristic

import (
	"fmt"
	"math"
	"time"
)

// DecayConfig defines the public parameters of the decay scorer. Alpha is the exponential weight
// given to the most recent inter-observation gap when updating the trend; it also weights the gap
// estimate against time-since-last-seen when computing the attenuator.
type DecayConfig struct {
	Alpha float64 // Weight for latest observation gap (range: 0-1 exclusive)
}

var (
	DefaultDecayConfig = DecayConfig{
		Alpha: 0.1,
	}
)

// attenuatorScaleSecs normalizes the idleness vector. At two days of accumulated idleness the
// attenuator reaches 2; by eight days the query-count boost is down to roughly a sixteenth.
const attenuatorScaleSecs = 172800

type decay struct {
	DecayConfig
}

// NewDecay constructs the decay scorer. A zero Alpha selects the default.
func NewDecay(config DecayConfig) (*decay, error) {
	t := &decay{DecayConfig: config}

	if t.Alpha < 0 || t.Alpha >= 1 {
		return nil, fmt.Errorf("Alpha is not in range 0-1: %f", t.Alpha)
	}
	if t.Alpha == 0 {
		t.Alpha = DefaultDecayConfig.Alpha
	}

	return t, nil
}

func (t *decay) Algorithm() string {
	return string(DecayAlgorithm)
}

// Score prefers deep chains ending in few-labeled terminal names, boosted by the log of the query
// count. The boost is attenuated by a vector combining the weighted inter-query gap with
// time-since-last-seen; both contribute so a resolution that has gone dark loses rank even though
// no update event ever fires on it.
func (t *decay) Score(s Sample, now time.Time) float64 {
	labels := s.Labels
	if labels < 1 { // The root name has no labels but must not divide by zero
		labels = 1
	}
	base := float64(s.Depth) / float64(labels)

	qc := s.QueryCount
	if qc < 1 {
		qc = 1
	}
	boost := math.Log(float64(qc))

	deltaLast := now.Sub(s.LastSeen).Seconds()
	if deltaLast < 0 {
		deltaLast = 0
	}

	combined := (1-t.Alpha)*s.Trend + t.Alpha*deltaLast
	norm := math.Sqrt(combined*combined+deltaLast*deltaLast) / attenuatorScaleSecs
	attenuator := 1 + norm*norm

	return base + boost/attenuator
}

// UpdateTrend is a weighted moving average over observation gaps. The seed value is zero so the
// first update is dominated by the historic weight.
func (t *decay) UpdateTrend(trend float64, gap float64) float64 {
	return (1-t.Alpha)*trend + t.Alpha*gap
}
