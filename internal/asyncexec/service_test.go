package asyncexec

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(s.Close)
	return s
}

func TestExecute(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	done := make(chan struct{})
	s.Execute(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestExecute_RecoversPanics(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	s.Execute(func() { panic("boom") })

	done := make(chan struct{})
	s.Execute(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service stopped running tasks after a panic")
	}
}

func TestAfter_Fires(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	done := make(chan struct{})
	s.After(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred task did not run")
	}
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestAfter_Cancel(t *testing.T) {
	t.Parallel()

	s := newTestService(t)
	var ran atomic.Bool
	cancel := s.After(50*time.Millisecond, func() { ran.Store(true) })
	require.Equal(t, 1, s.Pending())

	assert.True(t, cancel())
	assert.False(t, cancel(), "second cancel must report nothing to stop")
	assert.Equal(t, 0, s.Pending())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestClose_DropsPendingAndLateTasks(t *testing.T) {
	t.Parallel()

	s := New(nil)
	var ran atomic.Int32
	s.After(20*time.Millisecond, func() { ran.Add(1) })
	s.Close()

	s.Execute(func() { ran.Add(1) })
	cancel := s.After(time.Millisecond, func() { ran.Add(1) })
	assert.False(t, cancel())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
	assert.Equal(t, 0, s.Pending())

	s.Close()
}

func TestClose_WaitsForRunningTasks(t *testing.T) {
	t.Parallel()

	s := New(nil)
	started := make(chan struct{})
	var finished atomic.Bool
	s.Execute(func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})
	<-started
	s.Close()
	assert.True(t, finished.Load())
}
