package protocols

import (
	"context"
	"time"
)

type Sleeper interface {
	Sleep(ctx context.Context, duration time.Duration) error
}
