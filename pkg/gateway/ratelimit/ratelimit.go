// Package ratelimit holds per-account in-memory limits: a token bucket
// for request rate and a permit for concurrent voice sessions.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentVoiceSessions int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*accountLimiter
}

type accountLimiter struct {
	mu sync.Mutex

	tb       tokenBucket
	voiceSem chan struct{}

	lastSeen time.Time
}

type tokenBucket struct {
	rps      float64
	capacity float64

	tokens float64
	last   time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*accountLimiter),
	}
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

func (l *Limiter) AcquireRequest(account string, now time.Time) Decision {
	if account == "" {
		account = "anonymous"
	}

	al := l.getOrCreate(account, now)
	al.touch(now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		ok, retryAfter := al.allowToken(now, l.cfg.RPS, l.cfg.Burst)
		if !ok {
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
	}
	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

// AcquireVoiceSession caps simultaneous live voice sessions per account.
func (l *Limiter) AcquireVoiceSession(account string, now time.Time) Decision {
	if account == "" {
		account = "anonymous"
	}

	al := l.getOrCreate(account, now)
	al.touch(now)

	if l.cfg.MaxConcurrentVoiceSessions > 0 {
		select {
		case al.voiceSem <- struct{}{}:
			return Decision{
				Allowed: true,
				Permit:  &Permit{release: func() { <-al.voiceSem }},
			}
		default:
			return Decision{Allowed: false, RetryAfter: 1}
		}
	}
	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

func (l *Limiter) getOrCreate(account string, now time.Time) *accountLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// If still too big, drop one arbitrary entry (bounded memory
		// beats perfect fairness here).
		if len(l.m) >= l.cfg.MaxEntries {
			for k := range l.m {
				delete(l.m, k)
				break
			}
		}
	}

	if al, ok := l.m[account]; ok {
		return al
	}
	al := &accountLimiter{
		voiceSem: make(chan struct{}, maxInt(1, l.cfg.MaxConcurrentVoiceSessions)),
		lastSeen: now,
	}
	l.m[account] = al
	return al
}

func (l *Limiter) gcLocked(now time.Time) {
	ttl := l.cfg.EntryTTL
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > ttl {
			delete(l.m, k)
		}
	}
}

func (al *accountLimiter) touch(now time.Time) {
	al.lastSeen = now
}

func (al *accountLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	al.mu.Lock()
	defer al.mu.Unlock()

	if burst <= 0 || rps <= 0 {
		return true, 0
	}
	capacity := float64(burst)
	if al.tb.capacity == 0 {
		al.tb = tokenBucket{
			rps:      rps,
			capacity: capacity,
			tokens:   capacity,
			last:     now,
		}
	}

	al.tb.rps = rps
	al.tb.capacity = capacity

	elapsed := now.Sub(al.tb.last).Seconds()
	if elapsed > 0 {
		al.tb.tokens = math.Min(al.tb.capacity, al.tb.tokens+elapsed*al.tb.rps)
		al.tb.last = now
	}

	if al.tb.tokens >= 1 {
		al.tb.tokens--
		return true, 0
	}

	deficit := 1 - al.tb.tokens
	retryAfter := int(math.Ceil(deficit / al.tb.rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
