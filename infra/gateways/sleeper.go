package gateways

import (
	"context"
	"time"
)

type Sleeper struct{}

func NewSleeper() *Sleeper {
	return &Sleeper{}
}

// Sleep waits for duration or until ctx is done, whichever comes first.
func (s *Sleeper) Sleep(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
