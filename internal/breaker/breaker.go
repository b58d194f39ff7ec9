/*
Copyright 2025 Replyloop Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package breaker implements a per-operation circuit breaker. Each named
// remote operation (post, refresh, lookup) owns an independent breaker; a
// failing operation never poisons another's state. State is in-memory only
// and rebuilt from zero on restart.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned when a call is rejected without any remote
// attempt because the breaker is open or the half-open trial slot is taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// IsCircuitOpen reports whether err is a breaker rejection, unwrapping as needed.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// State is the breaker's position in its lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

const (
	DefaultFailureThreshold = 5
	DefaultCooldownPeriod   = 60 * time.Second
)

// Breaker guards one named remote operation.
type Breaker struct {
	name             string
	failureThreshold int
	cooldownPeriod   time.Duration

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// New creates a breaker for the named operation. Non-positive threshold or
// cooldown values fall back to the defaults.
func New(name string, failureThreshold int, cooldownPeriod time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldownPeriod <= 0 {
		cooldownPeriod = DefaultCooldownPeriod
	}
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		cooldownPeriod:   cooldownPeriod,
		state:            StateClosed,
	}
}

// Execute runs fn through the breaker. When the breaker is open it returns
// ErrCircuitOpen without invoking fn. In half-open state exactly one caller
// is admitted as the trial; concurrent callers are rejected until the trial
// resolves.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return errors.Wrapf(err, "operation %q rejected", b.name)
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// State returns the breaker's current state, promoting open to half-open if
// the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// admit decides whether a call may proceed. It claims the half-open trial
// slot under the lock so two concurrent callers can never both be the trial.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// record feeds a call outcome back into the breaker.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialInFlight = false
		if err != nil {
			// Trial failed: re-open and restart the cooldown.
			b.state = StateOpen
			b.openedAt = time.Now()
			logrus.Warnf("circuit %q re-opened after failed trial call", b.name)
			return
		}
		b.state = StateClosed
		b.consecutiveFailures = 0
		logrus.Infof("circuit %q closed after successful trial call", b.name)
		return
	}

	if err != nil {
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold && b.state == StateClosed {
			b.state = StateOpen
			b.openedAt = time.Now()
			logrus.Warnf("circuit %q opened after %d consecutive failures", b.name, b.consecutiveFailures)
		}
		return
	}
	b.consecutiveFailures = 0
}

// maybeHalfOpen moves open to half-open once the cooldown has elapsed.
// Must be called with the lock held.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cooldownPeriod {
		b.state = StateHalfOpen
		b.trialInFlight = false
	}
}

// Registry hands out breakers by operation name, creating them on first use
// with shared threshold and cooldown settings.
type Registry struct {
	mu               sync.Mutex
	breakers         map[string]*Breaker
	failureThreshold int
	cooldownPeriod   time.Duration
}

// NewRegistry creates a breaker registry with the given settings applied to
// every breaker it creates.
func NewRegistry(failureThreshold int, cooldownPeriod time.Duration) *Registry {
	return &Registry{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		cooldownPeriod:   cooldownPeriod,
	}
}

// Get returns the breaker for the named operation, creating it if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.failureThreshold, r.cooldownPeriod)
	r.breakers[name] = b
	return b
}
