package session

import (
	"sync"
	"time"

	"github.com/aeternacy/aeterngw/pkg/gateway/voice/protocol"
)

// playbackScheduler places streamed companion audio on the session
// playback timeline. Chunks are scheduled at a monotonically advancing
// cursor so playback is gapless and never overlaps, regardless of how
// irregularly the network delivers them:
//
//	start  = max(cursor, now)
//	cursor = start + duration
//
// A barge-in interrupt drops everything still scheduled or playing and
// resets the cursor to zero, so the next chunk plays immediately.
type playbackScheduler struct {
	mu     sync.Mutex
	now    func() time.Time
	epoch  time.Time
	cursor time.Duration

	// ends of chunks handed out since the last interrupt, used to count
	// what is still in flight when one arrives.
	ends []time.Duration
}

type scheduledChunk struct {
	PCM      []byte
	Start    time.Duration
	Duration time.Duration
}

func newPlaybackScheduler(now func() time.Time) *playbackScheduler {
	if now == nil {
		now = time.Now
	}
	return &playbackScheduler{now: now, epoch: now()}
}

// pcmDuration converts a pcm_s16le mono byte count at the playback rate
// into wall time.
func pcmDuration(n int) time.Duration {
	samples := n / 2
	return time.Duration(samples) * time.Second / protocol.PlaybackSampleRateHz
}

// Schedule assigns the next chunk its slot on the timeline.
func (p *playbackScheduler) Schedule(pcm []byte) scheduledChunk {
	dur := pcmDuration(len(pcm))

	p.mu.Lock()
	defer p.mu.Unlock()

	nowOff := p.now().Sub(p.epoch)
	start := p.cursor
	if nowOff > start {
		start = nowOff
	}
	p.cursor = start + dur
	p.ends = append(p.ends, p.cursor)

	return scheduledChunk{PCM: pcm, Start: start, Duration: dur}
}

// Interrupt drops all chunks still scheduled or playing and resets the
// cursor to zero. Returns how many were cut off.
func (p *playbackScheduler) Interrupt() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	nowOff := p.now().Sub(p.epoch)
	dropped := 0
	for _, end := range p.ends {
		if end > nowOff {
			dropped++
		}
	}
	p.ends = p.ends[:0]
	p.cursor = 0
	return dropped
}

// Cursor returns the next scheduled playback offset.
func (p *playbackScheduler) Cursor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}
