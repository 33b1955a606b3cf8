// Package counter turns noisy per-frame person counts into stable occupancy
// statistics. Raw counts are smoothed with a rolling median; the cumulative
// total only grows on upward deltas of the smoothed count (arrivals-only
// accounting, departures never decrement it).
package counter

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/andresvm/person-counter/pkg/types"
)

// maxSessionSamples bounds the memory used by the session aggregates.
const maxSessionSamples = 4096

// Counter tracks occupancy statistics over a detection session.
type Counter struct {
	mu sync.Mutex

	window int
	buf    []int

	previous int
	current  int
	total    int
	max      int
	frames   int
	loaded   bool

	samples []float64
}

// New creates a Counter smoothing over a rolling window of the given capacity.
// Capacities below 1 are treated as 1.
func New(window int) *Counter {
	if window < 1 {
		window = 1
	}
	return &Counter{
		window: window,
		buf:    make([]int, 0, window),
	}
}

// SetLoaded records whether the detector model is available.
func (c *Counter) SetLoaded(loaded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = loaded
}

// IncFrames counts one captured frame.
func (c *Counter) IncFrames() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
}

// Update appends a raw detection count, evicting the oldest entry beyond the
// window, and advances the statistics from the smoothed (median) count.
// It returns the smoothed count and the number of new arrivals attributed to
// this frame.
func (c *Counter) Update(raw int) (smoothed, newArrivals int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) == c.window {
		copy(c.buf, c.buf[1:])
		c.buf = c.buf[:c.window-1]
	}
	c.buf = append(c.buf, raw)

	smoothed = median(c.buf)

	if smoothed > c.max {
		c.max = smoothed
	}
	if smoothed > c.previous {
		newArrivals = smoothed - c.previous
		c.total += newArrivals
	}
	c.previous = smoothed
	c.current = smoothed

	if len(c.samples) < maxSessionSamples {
		c.samples = append(c.samples, float64(smoothed))
	}

	return smoothed, newArrivals
}

// Reset returns the counter to its initial state: all statistics zeroed and
// the rolling buffer emptied. The loaded flag is left alone.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = c.buf[:0]
	c.previous = 0
	c.current = 0
	c.total = 0
	c.max = 0
	c.frames = 0
	c.samples = c.samples[:0]
}

// Stats returns a copy of the current occupancy statistics.
func (c *Counter) Stats() types.OccupancyStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return types.OccupancyStats{
		CurrentPersons:  c.current,
		TotalCounted:    c.total,
		MaxSimultaneous: c.max,
		FramesProcessed: c.frames,
		Loaded:          c.loaded,
	}
}

// Session returns aggregate occupancy over the smoothed samples seen since
// the last reset.
func (c *Counter) Session() types.SessionStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := types.SessionStats{Samples: len(c.samples)}
	if len(c.samples) > 0 {
		s.MeanOccupancy = stat.Mean(c.samples, nil)
	}
	if len(c.samples) > 1 {
		s.StddevOccupancy = stat.StdDev(c.samples, nil)
	}
	return s
}

// median returns the upper median of vs: for an odd count the middle value,
// for an even count the greater of the two middle values. Person counts are
// integers, so this equals the statistical median rounded half-up.
func median(vs []int) int {
	if len(vs) == 0 {
		return 0
	}
	sorted := make([]int, len(vs))
	copy(sorted, vs)
	sort.Ints(sorted)
	return sorted[len(sorted)/2]
}
