// Package system provides the wall clock used outside tests.
package system

import (
	"context"
	"time"
)

// Clock implements audit.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Every calls fn each interval until ctx is done. The first call happens after one interval.
func (c Clock) Every(ctx context.Context, interval time.Duration, fn func(context.Context, time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			fn(ctx, t.UTC())
		}
	}
}
