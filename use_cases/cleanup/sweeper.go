package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type runner interface {
	Run(ctx context.Context) Result
}

// Sweeper runs cleanup passes on a fixed interval until stopped.
type Sweeper struct {
	cleanup    runner
	interval   time.Duration
	runOnStart bool
	logger     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type SweeperOption func(*Sweeper)

// WithRunOnStart makes the sweeper run a pass immediately instead of waiting one interval.
func WithRunOnStart() SweeperOption {
	return func(s *Sweeper) {
		s.runOnStart = true
	}
}

func NewSweeper(cleanup runner, interval time.Duration, logger *zap.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		cleanup:  cleanup,
		interval: interval,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the loop. The loop ends when ctx is cancelled or Stop is called.
// Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))
}

// Stop cancels any in-flight pass and waits for the loop to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("expiry sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.runOnce(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("expiry sweep panicked", zap.Any("panic", r))
		}
	}()
	s.cleanup.Run(ctx)
}
