// Package sessions tracks live voice sessions for graceful shutdown.
package sessions

import (
	"context"
	"sync"
)

type Handle struct {
	Stop func()
}

type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*trackedSession)}
}

func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*trackedSession)
	}
	old := t.sessions[sessionID]
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions != nil && t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// StopAll stops every tracked session.
func (t *Tracker) StopAll() (stopped int) {
	if t == nil {
		return 0
	}
	var stops []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry != nil && entry.handle.Stop != nil {
			stops = append(stops, entry.handle.Stop)
		}
	}
	t.mu.Unlock()

	for _, stop := range stops {
		stop()
		stopped++
	}
	return stopped
}

// Wait blocks until all tracked sessions have unregistered or ctx ends.
func (t *Tracker) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	doneCh := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
