// Package hrv keeps a time-bounded buffer of beats and derives
// heart-rate-variability metrics from it.
package hrv

import (
	"math"
	"time"

	"github.com/okian/hrvlink/internal/domain/model"
)

// DefaultWindow is the rolling window length.
const DefaultWindow = 300 * time.Second

// pnn50Limit is the successive-difference cutoff for PNN50, in milliseconds.
const pnn50Limit = 50.0

// BeatWindow is a rolling buffer of beats. It is not safe for concurrent use;
// callers own it from a single goroutine.
type BeatWindow struct {
	window time.Duration
	beats  []model.Beat
}

// Option configures a BeatWindow.
type Option func(*BeatWindow)

// WithWindow sets the window length. Non-positive values are ignored.
func WithWindow(d time.Duration) Option {
	return func(w *BeatWindow) {
		if d > 0 {
			w.window = d
		}
	}
}

// NewBeatWindow creates an empty window.
func NewBeatWindow(opts ...Option) *BeatWindow {
	w := &BeatWindow{window: DefaultWindow}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Window returns the configured window length.
func (w *BeatWindow) Window() time.Duration { return w.window }

// AddBeat appends a beat and drops every beat older than the window relative
// to ts. A beat exactly window old is kept.
func (w *BeatWindow) AddBeat(heartRate float64, ts time.Time) {
	w.beats = append(w.beats, model.Beat{HeartRate: heartRate, Timestamp: ts})

	kept := w.beats[:0]
	for _, b := range w.beats {
		if ts.Sub(b.Timestamp) <= w.window {
			kept = append(kept, b)
		}
	}
	clear(w.beats[len(kept):])
	w.beats = kept
}

// Len returns the number of retained beats.
func (w *BeatWindow) Len() int { return len(w.beats) }

// Latest returns the most recently added beat.
func (w *BeatWindow) Latest() (model.Beat, bool) {
	if len(w.beats) == 0 {
		return model.Beat{}, false
	}
	return w.beats[len(w.beats)-1], true
}

// RMSSD is the root mean square of successive IBI differences.
// Undefined with fewer than two beats.
func (w *BeatWindow) RMSSD() (float64, bool) {
	if len(w.beats) < 2 {
		return 0, false
	}
	var sum float64
	for i := 1; i < len(w.beats); i++ {
		d := w.beats[i].IBI() - w.beats[i-1].IBI()
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(w.beats)-1)), true
}

// SDNN is the population standard deviation of the retained IBIs.
// Undefined with no beats.
func (w *BeatWindow) SDNN() (float64, bool) {
	if len(w.beats) == 0 {
		return 0, false
	}
	// Welford: identical samples leave m2 at exactly zero.
	var mean, m2 float64
	for i, b := range w.beats {
		x := b.IBI()
		delta := x - mean
		mean += delta / float64(i+1)
		m2 += delta * (x - mean)
	}
	return math.Sqrt(m2 / float64(len(w.beats))), true
}

// PNN50 is the percentage of successive IBI differences larger than 50 ms.
// Undefined with fewer than two beats.
func (w *BeatWindow) PNN50() (float64, bool) {
	if len(w.beats) < 2 {
		return 0, false
	}
	over := 0
	for i := 1; i < len(w.beats); i++ {
		if math.Abs(w.beats[i].IBI()-w.beats[i-1].IBI()) > pnn50Limit {
			over++
		}
	}
	return 100 * float64(over) / float64(len(w.beats)-1), true
}

// Snapshot is a point-in-time view of the window metrics.
type Snapshot struct {
	Beats           int     `json:"beats"`
	LatestHeartRate float64 `json:"latest_heart_rate"`
	RMSSD           float64 `json:"rmssd"`
	RMSSDDefined    bool    `json:"rmssd_defined"`
	SDNN            float64 `json:"sdnn"`
	SDNNDefined     bool    `json:"sdnn_defined"`
	PNN50           float64 `json:"pnn50"`
	PNN50Defined    bool    `json:"pnn50_defined"`
}

// Snapshot computes all metrics at once.
func (w *BeatWindow) Snapshot() Snapshot {
	s := Snapshot{Beats: len(w.beats)}
	if b, ok := w.Latest(); ok {
		s.LatestHeartRate = b.HeartRate
	}
	s.RMSSD, s.RMSSDDefined = w.RMSSD()
	s.SDNN, s.SDNNDefined = w.SDNN()
	s.PNN50, s.PNN50Defined = w.PNN50()
	return s
}
