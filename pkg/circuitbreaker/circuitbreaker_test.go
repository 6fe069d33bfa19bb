package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	errStore    = errors.New("connection refused")
	errBusiness = errors.New("out of stock")
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	cb := NewCircuitBreakerWithWindow(2, 10*time.Second, time.Minute)
	cb.now = clock.Now
	return cb.CountOnly(func(err error) bool { return errors.Is(err, errStore) })
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	cb := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return errStore }), errStore)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreakerIgnoresUncountedErrors(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	cb := newTestBreaker(clock)

	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return errBusiness }), errBusiness)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	cb := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errStore })
	}
	assert.Equal(t, StateOpen, cb.GetState())

	clock.t = clock.t.Add(11 * time.Second)
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	cb := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errStore })
	}

	clock.t = clock.t.Add(11 * time.Second)
	assert.ErrorIs(t, cb.Execute(func() error { return errStore }), errStore)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestBreakerForgetsOldFailures(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	cb := newTestBreaker(clock)

	_ = cb.Execute(func() error { return errStore })
	_ = cb.Execute(func() error { return errStore })
	clock.t = clock.t.Add(2 * time.Minute)
	_ = cb.Execute(func() error { return errStore })

	assert.Equal(t, StateClosed, cb.GetState())
}
