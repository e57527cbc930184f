package manager

import (
	"fmt"
	"sync"
	"time"

	"github.com/reservd/reservd/internal/model"
)

// Clock abstracts wall-clock time so tests can drive it deterministically.
// All returned times are UTC.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// FakeClock is a manually advanced clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to the given instant.
func (c *FakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now.UTC()
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// truncMinute drops seconds and below; date comparisons in the lease
// lifecycle are minute-precision.
func truncMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// parseDate parses the wire date format, or the literal "now" as the
// current minute.
func parseDate(value string, now time.Time) (time.Time, error) {
	if value == "now" {
		return truncMinute(now), nil
	}
	t, err := time.ParseInLocation(model.DateFormat, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q does not match %q", ErrInvalidDate, value, model.DateFormat)
	}
	return t, nil
}
