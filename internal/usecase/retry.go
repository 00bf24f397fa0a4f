package usecase

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

var (
	ErrListenTimeout    = errors.New("listen attempt timed out")
	ErrRetriesExhausted = errors.New("speech recognition unavailable after repeated failures")
)

// Timing holds the fixed delays of the listen cycle.
type Timing struct {
	// PreRoll is the wait before the first native listen call after arming.
	PreRoll time.Duration
	// InterAttempt separates consecutive native attempts after a success.
	InterAttempt time.Duration
	// Settle is the platform restart delay after a segment ends.
	Settle time.Duration
	// Watchdog bounds one native attempt.
	Watchdog time.Duration
	// Resume is the audio-focus handoff delay after speech output ends.
	Resume time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		PreRoll:      550 * time.Millisecond,
		InterAttempt: 420 * time.Millisecond,
		Settle:       450 * time.Millisecond,
		Watchdog:     7500 * time.Millisecond,
		Resume:       950 * time.Millisecond,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.PreRoll <= 0 {
		t.PreRoll = d.PreRoll
	}
	if t.InterAttempt <= 0 {
		t.InterAttempt = d.InterAttempt
	}
	if t.Settle <= 0 {
		t.Settle = d.Settle
	}
	if t.Watchdog <= 0 {
		t.Watchdog = d.Watchdog
	}
	if t.Resume <= 0 {
		t.Resume = d.Resume
	}
	return t
}

// RetryPolicy is exponential backoff with additive jitter, shared by watchdog
// timeouts, backend errors and failed starts.
type RetryPolicy struct {
	Base       time.Duration
	Factor     float64
	MaxJitter  time.Duration
	MaxRetries int
	// Random returns a value in [0, 1). Nil uses math/rand/v2.
	Random func() float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:       700 * time.Millisecond,
		Factor:     1.6,
		MaxJitter:  250 * time.Millisecond,
		MaxRetries: 5,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.MaxJitter < 0 {
		p.MaxJitter = 0
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.Random == nil {
		p.Random = rand.Float64
	}
	return p
}

// BaseDelay is the jitter-free delay before retry n (n >= 1).
func (p RetryPolicy) BaseDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(math.Round(float64(p.Base) * math.Pow(p.Factor, float64(n-1))))
}

// Delay is BaseDelay(n) plus uniform jitter in [0, MaxJitter).
func (p RetryPolicy) Delay(n int) time.Duration {
	delay := p.BaseDelay(n)
	if p.MaxJitter <= 0 || p.Random == nil {
		return delay
	}
	r := p.Random()
	if r < 0 || r >= 1 {
		r = 0
	}
	return delay + time.Duration(r*float64(p.MaxJitter))
}

// Exhausted reports whether n consecutive failures end listening for the session.
func (p RetryPolicy) Exhausted(n int) bool {
	return n >= p.MaxRetries
}
