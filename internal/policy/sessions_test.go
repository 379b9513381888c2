package policy

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestSessionGuardAcquireRelease(t *testing.T) {
	g := NewSessionGuard(2)

	if err := g.Acquire(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := g.Acquire(); err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	err := g.Acquire()
	if err == nil {
		t.Fatal("third acquire should fail at cap 2")
	}
	var limitErr *ErrSessionLimit
	if !errors.As(err, &limitErr) {
		t.Fatalf("got %T, want *ErrSessionLimit", err)
	}
	if limitErr.Max != 2 || limitErr.Active != 2 {
		t.Errorf("limit error = %+v, want Max 2 Active 2", limitErr)
	}

	g.Release()
	if err := g.Acquire(); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestSessionGuardNeverExceedsMax(t *testing.T) {
	const max = 2
	const goroutines = 50
	g := NewSessionGuard(max)

	var granted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := g.Acquire(); err == nil {
				granted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := granted.Load(); got > max {
		t.Errorf("granted %d sessions, cap is %d", got, max)
	}
	if got := g.Active(); got > max {
		t.Errorf("active = %d, cap is %d", got, max)
	}
}

func TestSessionGuardReleaseAtZero(t *testing.T) {
	g := NewSessionGuard(2)

	// Must be a no-op, not a panic or a negative count.
	g.Release()
	g.Release()

	if got := g.Active(); got != 0 {
		t.Errorf("active = %d, want 0", got)
	}

	if err := g.Acquire(); err != nil {
		t.Errorf("acquire after spurious releases: %v", err)
	}
	if got := g.Active(); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
}

func TestSessionGuardDefaultMax(t *testing.T) {
	g := NewSessionGuard(0)
	if g.Max() != DefaultMaxSessions {
		t.Errorf("Max() = %d, want %d", g.Max(), DefaultMaxSessions)
	}

	g = NewSessionGuard(-1)
	if g.Max() != DefaultMaxSessions {
		t.Errorf("Max() = %d, want %d", g.Max(), DefaultMaxSessions)
	}
}

func TestErrSessionLimitMessage(t *testing.T) {
	err := &ErrSessionLimit{Max: 2, Active: 2}
	want := "maximum interactive sessions (2) exceeded, current active sessions: 2"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}
