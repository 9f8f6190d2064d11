// Package features computes the engineered feature vector the risk model was
// trained on, from a rolling window of recent telemetry samples.
package features

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/riverwatch/floodsentry/internal/types"
	"github.com/riverwatch/floodsentry/pkg/config"
)

const (
	distanceWindow   = 3 * time.Minute
	rainWindow       = 5 * time.Minute
	cumulativeWindow = 30 * time.Minute

	// Floor on elapsed minutes when computing the rise rate, so two samples
	// arriving in the same instant cannot divide by zero.
	minElapsedMinutes = 1e-6
)

type sample struct {
	ts          time.Time
	distanceCM  float64
	rainAnalog  float64
	floatStatus int
}

// Window keeps a bounded, time-ordered buffer of recent samples and derives
// the model's engineered features from it. All computation and mutation
// happens under a single lock, so a read plus an optional state update are
// atomic with respect to concurrent callers.
type Window struct {
	mu        sync.Mutex
	samples   []sample
	rainStart *time.Time
	cfg       config.FeaturesData

	// now is swapped out by tests that need to control the clock.
	now func() time.Time
}

// NewWindow creates an empty feature window. The window lives for the process
// lifetime and is never explicitly cleared; samples age out past the
// configured retention horizon.
func NewWindow(cfg config.FeaturesData) *Window {
	return &Window{
		cfg: cfg,
		now: time.Now,
	}
}

// Count returns the number of currently retained samples.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

// BuildFeatures computes the engineered feature vector for a sample.
//
// When persist is true the sample is appended to the window and the
// rain-episode timer is updated before computation. When false, the features
// are computed as if the sample had arrived now, without mutating any state;
// this is the path used for on-demand explanations of historical data.
//
// A negative distance is rejected outright. Callers are expected to have
// normalized upstream; this boundary keeps bad data out of the window rather
// than duplicating validation.
func (w *Window) BuildFeatures(s types.CanonicalSample, persist bool) (types.FeatureVector, error) {
	if s.DistanceCM < 0 {
		return nil, fmt.Errorf("invalid distance %.2f: must be non-negative", s.DistanceCM)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	current := sample{
		ts:          now,
		distanceCM:  s.DistanceCM,
		rainAnalog:  float64(s.RainAnalog),
		floatStatus: s.FloatStatus,
	}

	// Snapshot the pre-mutation state. The rise rate is always computed
	// against the previous persisted sample, never the one being added.
	// Copied by value: pruning below shifts the backing array.
	var prev *sample
	if len(w.samples) > 0 {
		p := w.samples[len(w.samples)-1]
		prev = &p
	}
	rainStart := w.rainStart

	var forCalc []sample
	if persist {
		w.prune(now)
		w.samples = append(w.samples, current)
		forCalc = w.samples
	} else {
		forCalc = make([]sample, len(w.samples), len(w.samples)+1)
		copy(forCalc, w.samples)
		forCalc = append(forCalc, current)
	}

	win3m := windowFrom(forCalc, now, distanceWindow)
	dist3m := distances(win3m)
	distMean3m := mean(dist3m)
	distStd3m := stddev(dist3m)

	riseRate := 0.0
	if prev != nil {
		elapsedMin := now.Sub(prev.ts).Minutes()
		if elapsedMin < minElapsedMinutes {
			elapsedMin = minElapsedMinutes
		}
		riseRate = (prev.distanceCM - current.distanceCM) / elapsedMin
	}

	win5m := windowFrom(forCalc, now, rainWindow)
	rainTrend5m := mean(rains(win5m))

	// Cumulative rain over 30 minutes: trapezoidal integration of the scaled
	// rain level over elapsed minutes. The divisor is a calibration constant,
	// not derived from the sensor; see config.FeaturesData.
	win30m := windowFrom(forCalc, now, cumulativeWindow)
	cumulativeRain := 0.0
	for i := 1; i < len(win30m); i++ {
		a, b := win30m[i-1], win30m[i]
		dtMin := b.ts.Sub(a.ts).Minutes()
		if dtMin < 0 {
			dtMin = 0
		}
		cumulativeRain += (a.rainAnalog + b.rainAnalog) / 2.0 / w.cfg.CumulativeRainDivisor * dtMin
	}

	// Rain-episode timer: on the absent-to-present transition, the episode
	// starts now; while absent, no episode is open.
	rainPresent := current.rainAnalog >= float64(w.cfg.RainPresentThreshold)
	if rainPresent && rainStart == nil {
		t := now
		rainStart = &t
	}
	if !rainPresent {
		rainStart = nil
	}
	if persist {
		w.rainStart = rainStart
	}
	sinceRainStart := 0.0
	if rainStart != nil {
		sinceRainStart = now.Sub(*rainStart).Minutes()
	}

	emergency := 0.0
	if current.floatStatus == 1 {
		emergency = 1.0
	}
	month := int(now.Month())
	season := 0.0
	if month >= w.cfg.WetSeasonStartMonth && month <= w.cfg.WetSeasonEndMonth {
		season = 1.0
	}

	return types.FeatureVector{
		"distance_cm":                current.distanceCM,
		"rain_analog":                current.rainAnalog,
		"float_status":               float64(current.floatStatus),
		"rise_rate_cm_per_min":       riseRate,
		"rain_trend_5min":            rainTrend5m,
		"distance_rolling_mean_3min": distMean3m,
		"distance_rolling_std_3min":  distStd3m,
		"cumulative_rain_30min":      cumulativeRain,
		"time_since_rain_start":      sinceRainStart,
		"emergency_flag":             emergency,
		"season_flag":                season,
		"hour_of_day":                float64(now.Hour()),
		"day_of_week":                float64(mondayIndexedWeekday(now)),
		"month":                      float64(month),
	}, nil
}

// prune drops samples older than the retention horizon. Called with the lock
// held, only on the persisting path.
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-time.Duration(w.cfg.RetentionMinutes) * time.Minute)
	i := 0
	for i < len(w.samples) && w.samples[i].ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

func windowFrom(samples []sample, now time.Time, span time.Duration) []sample {
	cutoff := now.Add(-span)
	for i, s := range samples {
		if !s.ts.Before(cutoff) {
			return samples[i:]
		}
	}
	return nil
}

func distances(samples []sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.distanceCM
	}
	return out
}

func rains(samples []sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.rainAnalog
	}
	return out
}

// mean over an empty set is defined as 0, not NaN.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	return stat.Mean(values, nil)
}

// stddev over fewer than two samples is defined as 0, not NaN.
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0.0
	}
	return stat.StdDev(values, nil)
}

// mondayIndexedWeekday matches the convention the model was trained with:
// Monday is 0, Sunday is 6.
func mondayIndexedWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
