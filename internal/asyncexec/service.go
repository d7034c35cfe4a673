package asyncexec

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Service runs deferred work off the caller's goroutine.
//
// Tasks submitted after Close are dropped. Close cancels pending timers and
// waits for tasks that are already running.
type Service struct {
	log *slog.Logger

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
	wg     sync.WaitGroup
}

func New(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		log:    logger,
		timers: make(map[*time.Timer]struct{}),
	}
}

// Execute runs fn on a new goroutine.
func (s *Service) Execute(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.run(fn)
	}()
}

// After runs fn once d has elapsed. The returned cancel func reports whether
// it stopped fn from running.
func (s *Service) After(d time.Duration, fn func()) (cancel func() bool) {
	if fn == nil {
		return func() bool { return false }
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() bool { return false }
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		if _, ok := s.timers[t]; !ok || s.closed {
			s.mu.Unlock()
			return
		}
		delete(s.timers, t)
		s.wg.Add(1)
		s.mu.Unlock()

		defer s.wg.Done()
		s.run(fn)
	})
	s.timers[t] = struct{}{}

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.timers[t]; !ok {
			return false
		}
		delete(s.timers, t)
		t.Stop()
		return true
	}
}

// Pending returns the number of scheduled tasks that have not fired yet.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.closed = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Service) run(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("panic in async task", "recover", rec, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
