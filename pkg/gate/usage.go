package gate

import "sync"

// UsageCounter tracks per-account, per-feature successful invocation
// counts for the session. Mutated only by the gate after a successful
// action. No eviction, no cap.
type UsageCounter struct {
	mu     sync.Mutex
	counts map[string]map[string]int
}

func NewUsageCounter() *UsageCounter {
	return &UsageCounter{counts: make(map[string]map[string]int)}
}

// Increment bumps the account's count for a feature and returns the new value.
func (u *UsageCounter) Increment(account, feature string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	byFeature := u.counts[account]
	if byFeature == nil {
		byFeature = make(map[string]int)
		u.counts[account] = byFeature
	}
	byFeature[feature]++
	return byFeature[feature]
}

// Count returns the account's current count for a feature.
func (u *UsageCounter) Count(account, feature string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[account][feature]
}

// Snapshot returns a copy of one account's counts.
func (u *UsageCounter) Snapshot(account string) map[string]int {
	u.mu.Lock()
	defer u.mu.Unlock()
	byFeature := u.counts[account]
	out := make(map[string]int, len(byFeature))
	for k, v := range byFeature {
		out[k] = v
	}
	return out
}
