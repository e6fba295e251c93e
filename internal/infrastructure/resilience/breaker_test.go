package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errCounted = errors.New("counted")
	errIgnored = errors.New("ignored")
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func tripAfter(n uint32) func(Counts) bool {
	return func(counts Counts) bool { return counts.ConsecutiveFailures >= n }
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []error
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{ReadyToTrip: tripAfter(2)},
			requests:      []error{nil, nil, nil},
			expectedState: StateClosed,
		},
		{
			name:          "opens after consecutive failures",
			settings:      Settings{ReadyToTrip: tripAfter(3)},
			requests:      []error{errCounted, errCounted, errCounted},
			expectedState: StateOpen,
		},
		{
			name:          "success breaks the streak",
			settings:      Settings{ReadyToTrip: tripAfter(2)},
			requests:      []error{errCounted, nil, errCounted},
			expectedState: StateClosed,
		},
		{
			name: "uncounted errors break the streak",
			settings: Settings{
				ReadyToTrip: tripAfter(2),
				IsFailure:   func(err error) bool { return errors.Is(err, errCounted) },
			},
			requests:      []error{errCounted, errIgnored, errCounted},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", tt.settings)
			for _, outcome := range tt.requests {
				err := breaker.Do(func() error { return outcome })
				assert.ErrorIs(t, err, outcome)
			}
			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{})

	require.NoError(t, breaker.Do(func() error { return nil }))

	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)

	assert.Error(t, breaker.Do(func() error { return errCounted }))

	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerOpenRejectsCalls(t *testing.T) {
	breaker := New("test", Settings{ReadyToTrip: tripAfter(2)})

	for i := 0; i < 2; i++ {
		_ = breaker.Do(func() error { return errCounted })
	}
	assert.Equal(t, StateOpen, breaker.State())

	called := false
	err := breaker.Do(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{
		MaxRequests: 2,
		Timeout:     time.Second,
		ReadyToTrip: tripAfter(2),
		Now:         clock.Now,
	})

	for i := 0; i < 2; i++ {
		_ = breaker.Do(func() error { return errCounted })
	}
	assert.Equal(t, StateOpen, breaker.State())

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, breaker.Do(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{
		Timeout:     time.Second,
		ReadyToTrip: tripAfter(1),
		Now:         clock.Now,
	})

	_ = breaker.Do(func() error { return errCounted })
	clock.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	_ = breaker.Do(func() error { return errCounted })
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	clock := newFakeClock()
	breaker := New("test", Settings{
		Interval:    time.Minute,
		ReadyToTrip: tripAfter(2),
		Now:         clock.Now,
	})

	_ = breaker.Do(func() error { return errCounted })
	clock.Advance(2 * time.Minute)
	_ = breaker.Do(func() error { return errCounted })

	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, uint32(1), breaker.Counts().ConsecutiveFailures)
}

func TestBreakerCallbacksAndReset(t *testing.T) {
	clock := newFakeClock()
	var transitions []string

	breaker := New("session-1", Settings{
		Timeout:     time.Second,
		ReadyToTrip: tripAfter(2),
		Now:         clock.Now,
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 2; i++ {
		_ = breaker.Do(func() error { return errCounted })
	}
	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())

	breaker.Reset()
	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, Counts{}, breaker.Counts())

	assert.Equal(t, []string{
		"session-1:closed->open",
		"session-1:open->half-open",
		"session-1:half-open->closed",
	}, transitions)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	breaker := New("test", Settings{ReadyToTrip: tripAfter(1)})

	assert.Panics(t, func() {
		_ = breaker.Do(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, breaker.State())
}

func TestCall(t *testing.T) {
	breaker := New("test", Settings{})

	n, err := Call(breaker, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = Call(breaker, func() (string, error) { return "", errCounted })
	assert.ErrorIs(t, err, errCounted)
}

func TestGroup(t *testing.T) {
	group := NewGroup(Settings{ReadyToTrip: tripAfter(1)})

	a := group.Get("a")
	assert.Same(t, a, group.Get("a"))
	assert.Equal(t, "a", a.Name())

	_ = a.Do(func() error { return errCounted })
	assert.Equal(t, StateOpen, group.Get("a").State())
	assert.Equal(t, StateClosed, group.Get("b").State())
	assert.Equal(t, []string{"a", "b"}, group.Keys())

	group.Remove("a")
	assert.Equal(t, StateClosed, group.Get("a").State())
}
