package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryScheduler runs checks on in-process timers. Jobs do not survive a
// restart; the in-memory store mode and the test suite use it.
type MemoryScheduler struct {
	mu      sync.Mutex
	runner  CheckRunner
	logger  *zap.Logger
	timers  map[int]*time.Timer
	nextID  int
	stopped bool
}

func NewMemoryScheduler(runner CheckRunner, logger *zap.Logger) *MemoryScheduler {
	return &MemoryScheduler{
		runner: runner,
		logger: logger,
		timers: make(map[int]*time.Timer),
	}
}

func (s *MemoryScheduler) ScheduleCheck(ctx context.Context, args CheckArgs, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}

	id := s.nextID
	s.nextID++

	delay := time.Until(runAt)
	if delay < 0 {
		delay = 0
	}

	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}

		if err := s.runner.RunCheck(context.Background(), args); err != nil {
			s.logger.Error("Reply check failed",
				zap.Error(err),
				zap.String("message_id", args.MessageID),
				zap.Int("attempt", args.Attempt))
		}
	})
	return nil
}

// Stop cancels all pending timers.
func (s *MemoryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}
