// Package ratelimit bounds request rates with fixed-window counters in
// the capability store. Counters are read-then-written without any
// atomic primitive, so concurrent requests can under-count; the design
// trades exact enforcement for low coordination.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/passkeep/passkeep/internal/capstore"
)

// Policy names a limit over a clock-aligned window. Policies never
// share counters; the name is part of the counter key.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Built-in policies. Authentication and emergency-request endpoints
// are throttled hard; the general API is moderate.
var (
	Auth        = Policy{Name: "auth", Limit: 10, Window: time.Minute}
	API         = Policy{Name: "api", Limit: 100, Window: time.Minute}
	Emergency   = Policy{Name: "emergency", Limit: 5, Window: 5 * time.Minute}
	ShareAccess = Policy{Name: "share", Limit: 30, Window: time.Minute}
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed      bool
	Limit        int
	Remaining    int
	ResetSeconds int
}

// Counter TTLs outlive the window by a skew buffer so that loosely
// synchronized nodes do not drop live counters.
const ttlSkew = 10 * time.Second

// Limiter admits requests per (policy, client identity).
type Limiter struct {
	caps capstore.Store
	now  func() time.Time
}

// New creates a Limiter over the given capability store.
func New(caps capstore.Store) *Limiter {
	return &Limiter{caps: caps, now: time.Now}
}

// WithClock overrides the limiter clock; tests only.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Admit counts a request for clientID under p. When the window budget
// is exhausted the request is denied without incrementing, and
// ResetSeconds tells the caller how long to back off.
func (l *Limiter) Admit(ctx context.Context, p Policy, clientID string) (Decision, error) {
	windowSecs := int64(p.Window / time.Second)
	nowUnix := l.now().Unix()
	windowStart := nowUnix - nowUnix%windowSecs
	resetSeconds := int(windowStart + windowSecs - nowUnix)
	key := fmt.Sprintf("rl:%s:%s:%d", p.Name, clientID, windowStart)

	count := 0
	raw, ok, err := l.caps.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("reading rate counter: %w", err)
	}
	if ok {
		if n, perr := strconv.Atoi(string(raw)); perr == nil {
			count = n
		}
	}

	if count >= p.Limit {
		return Decision{Allowed: false, Limit: p.Limit, Remaining: 0, ResetSeconds: resetSeconds}, nil
	}

	// Not compare-and-swap: two racing requests may both store the
	// same count+1 and one increment is lost. Accepted.
	next := []byte(strconv.Itoa(count + 1))
	if err := l.caps.Put(ctx, key, next, p.Window+ttlSkew); err != nil {
		return Decision{}, fmt.Errorf("writing rate counter: %w", err)
	}

	return Decision{
		Allowed:      true,
		Limit:        p.Limit,
		Remaining:    p.Limit - count - 1,
		ResetSeconds: resetSeconds,
	}, nil
}
