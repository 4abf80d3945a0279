package speakwatch

import (
	"context"
	"sync"
	"time"
)

// ReadingHandler consumes one polled Reading.
type ReadingHandler func(Reading)

// ReadingSource is anything that publishes Readings, typically a *Monitor.
type ReadingSource interface {
	Reading() Reading
}

// Poll samples src every interval and passes each Reading to handler until
// ctx is done. It returns ctx.Err().
func Poll(ctx context.Context, src ReadingSource, interval time.Duration, handler ReadingHandler) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			handler(src.Reading())
		}
	}
}

// CreateActivityChangeHandler calls callback only when activity flips. The
// first Reading always counts as a change.
func CreateActivityChangeHandler(callback func(active bool)) ReadingHandler {
	var mu sync.Mutex
	var seen, last bool

	return func(r Reading) {
		mu.Lock()
		changed := !seen || r.Active != last
		seen = true
		last = r.Active
		mu.Unlock()

		if changed {
			callback(r.Active)
		}
	}
}

// CreateStaleLevelDetector calls callback once when the polled reading has
// not changed for window, which is how a caller notices a dead stream and
// reselects the device. It re-arms as soon as the reading changes.
func CreateStaleLevelDetector(window time.Duration, callback func(since time.Duration)) ReadingHandler {
	var mu sync.Mutex
	var last Reading
	var since time.Time
	var fired bool

	return func(r Reading) {
		mu.Lock()
		now := time.Now()
		if since.IsZero() || r != last {
			last = r
			since = now
			fired = false
			mu.Unlock()
			return
		}
		stale := now.Sub(since)
		fire := !fired && stale >= window
		if fire {
			fired = true
		}
		mu.Unlock()

		if fire {
			callback(stale)
		}
	}
}

// CreateActivityRatioTracker counts polled readings and reports the share of
// them that were active after each one.
func CreateActivityRatioTracker(callback func(ratio float64)) ReadingHandler {
	var mu sync.Mutex
	var total, active int

	return func(r Reading) {
		mu.Lock()
		total++
		if r.Active {
			active++
		}
		ratio := float64(active) / float64(total)
		mu.Unlock()

		callback(ratio)
	}
}

// ChainReadingHandlers runs handlers in order for every Reading.
func ChainReadingHandlers(handlers ...ReadingHandler) ReadingHandler {
	return func(r Reading) {
		for _, h := range handlers {
			if h != nil {
				h(r)
			}
		}
	}
}
