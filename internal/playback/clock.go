package playback

import (
	"context"
	"math"
	"time"
)

// clock maps real elapsed time onto the scenario's virtual timeline.
type clock struct {
	start time.Time
	speed float64
}

func newClock(speed float64) *clock {
	if speed <= 0 {
		speed = 1
	}
	return &clock{start: time.Now(), speed: speed}
}

// Offset returns virtual seconds since start, rounded to milliseconds.
func (c *clock) Offset() float64 {
	return c.span(time.Since(c.start))
}

// span converts a wall-clock duration into virtual seconds, rounded to
// milliseconds.
func (c *clock) span(d time.Duration) float64 {
	return roundMillis(d.Seconds() * c.speed)
}

func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// wall converts a virtual span into wall-clock time.
func (c *clock) wall(virtual float64) time.Duration {
	return time.Duration(virtual / c.speed * float64(time.Second))
}

// SleepUntil blocks until the virtual clock reaches offset.
func (c *clock) SleepUntil(ctx context.Context, offset float64) error {
	wait := time.Until(c.start.Add(c.wall(offset)))
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
