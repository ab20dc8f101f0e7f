package relationship

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs synthesis as a deferred step after appends commit.
// Appends enqueue their factor id; a background goroutine drains the
// pending set once per debounce window, so rapid appends to siblings
// coalesce into a single synthesis pass per factor.
//
// Thread safety: all public methods are safe for concurrent use.
type Scheduler struct {
	manager  *Manager
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a scheduler around a relationship manager.
func NewScheduler(manager *Manager, logger *zap.Logger) (*Scheduler, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	debounce := manager.cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Scheduler{
		manager:  manager,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}, nil
}

// Notify marks a factor as needing a synthesis pass.
func (s *Scheduler) Notify(factorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[factorID] = struct{}{}
}

// Start begins the background drain loop. Idempotent in the sense that a
// second Start on a running scheduler returns an error without spawning a
// second goroutine.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.logger.Info("synthesis scheduler started", zap.Duration("debounce", s.debounce))
	go s.run()
	return nil
}

// Stop signals the drain loop to exit and waits for it to finish. Calling
// Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info("synthesis scheduler stopped")
}

// Flush synchronously drains the pending set. Used by tests and by callers
// that need synthesis effects visible before the next query.
func (s *Scheduler) Flush(ctx context.Context) error {
	for _, factorID := range s.drain() {
		if err := s.manager.Synthesize(ctx, factorID); err != nil {
			return err
		}
	}
	return nil
}

// run is the background drain loop. A panic in one pass is logged and the
// loop continues.
func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeDrain()
		case <-s.stopCh:
			// Final drain so evidence appended just before shutdown still
			// gets its synthesis pass.
			s.safeDrain()
			return
		}
	}
}

func (s *Scheduler) safeDrain() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("synthesis pass panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	for _, factorID := range s.drain() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := s.manager.Synthesize(ctx, factorID)
		cancel()
		if err != nil {
			s.logger.Error("synthesis pass failed",
				zap.String("factor_id", factorID),
				zap.Error(err))
		}
	}
}

// drain atomically takes the pending set.
func (s *Scheduler) drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.pending))
	for factorID := range s.pending {
		out = append(out, factorID)
	}
	s.pending = make(map[string]struct{})
	return out
}
