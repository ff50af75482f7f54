package saucenao

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Quota exhaustion sentinels. Match with errors.Is; unwrap to *CooldownError
// for the expiry time.
var (
	ErrShortCooldown = errors.New("saucenao short-term quota exhausted")
	ErrDailyCooldown = errors.New("saucenao daily quota exhausted")
)

const (
	shortCooldownPeriod = 30 * time.Second
	dailyCooldownPeriod = 24 * time.Hour
)

// CooldownError reports that searching is paused until Until.
type CooldownError struct {
	Daily bool
	Until time.Time
}

func (e *CooldownError) Error() string {
	kind := "short"
	if e.Daily {
		kind = "daily"
	}
	return fmt.Sprintf("saucenao %s cooldown until %s", kind, e.Until.Format(time.RFC3339))
}

func (e *CooldownError) Unwrap() error {
	if e.Daily {
		return ErrDailyCooldown
	}
	return ErrShortCooldown
}

// cooldown tracks the quota state across searches. The API reports the
// remaining short-window and daily budgets on every response; once either
// hits zero the client refuses further requests until the window passes.
type cooldown struct {
	mu    sync.Mutex
	daily bool
	until time.Time
	now   func() time.Time
}

func newCooldown() *cooldown {
	return &cooldown{now: time.Now}
}

// check returns the active cooldown error, clearing expired state.
func (c *cooldown) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.until.IsZero() {
		return nil
	}
	if c.now().After(c.until) {
		c.until = time.Time{}
		c.daily = false
		return nil
	}
	return &CooldownError{Daily: c.daily, Until: c.until}
}

// observe transitions the state from one response's quota fields. A daily
// exhaustion outranks a short one.
func (c *cooldown) observe(header responseHeader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case header.LongRemaining <= 0:
		c.daily = true
		c.until = c.now().Add(dailyCooldownPeriod)
	case header.ShortRemaining <= 0:
		c.daily = false
		c.until = c.now().Add(shortCooldownPeriod)
	default:
		return nil
	}
	return &CooldownError{Daily: c.daily, Until: c.until}
}

// throttle records a rate-limit response without quota fields.
func (c *cooldown) throttle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.daily = false
	c.until = c.now().Add(shortCooldownPeriod)
	return &CooldownError{Daily: false, Until: c.until}
}
