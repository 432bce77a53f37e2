// Package session bridges a client WebSocket to the realtime companion
// audio endpoint: mic PCM up, scheduled playback and transcripts down.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aeternacy/aeterngw/pkg/ai"
	"github.com/aeternacy/aeterngw/pkg/gateway/voice/protocol"
)

const apologyText = "I'm so sorry, something went wrong on my end. Could you try starting our conversation again?"

// Config bounds one voice session.
type Config struct {
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	MaxSessionDuration time.Duration
	MaxFrameBytes      int

	// StopDebounce is how long the stop guard stays held after a stop
	// completes, absorbing rapid double-stops from overlapping
	// client-side triggers.
	StopDebounce time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxSessionDuration <= 0 {
		c.MaxSessionDuration = 30 * time.Minute
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 64 << 10
	}
	if c.StopDebounce <= 0 {
		c.StopDebounce = 500 * time.Millisecond
	}
	return c
}

// ClientConn is the slice of *websocket.Conn the session uses.
type ClientConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session owns one live voice conversation. It is started by exactly
// one handler goroutine and torn down exactly once through Stop, no
// matter how many paths race into it.
type Session struct {
	ID string

	cfg      Config
	logger   *slog.Logger
	client   ClientConn
	upstream ai.RealtimeSession

	sched *playbackScheduler
	turns *turnAccumulator

	recording atomic.Bool
	stopGuard atomic.Bool
	stopped   atomic.Bool

	writeCh chan []byte
	done    chan struct{}

	now func() time.Time
}

func New(id string, cfg Config, client ClientConn, upstream ai.RealtimeSession, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Session{
		ID:       id,
		cfg:      cfg,
		logger:   logger,
		client:   client,
		upstream: upstream,
		sched:    newPlaybackScheduler(time.Now),
		turns:    &turnAccumulator{},
		writeCh:  make(chan []byte, 64),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// History returns the flushed conversation transcript.
func (s *Session) History() []ai.ChatMessage {
	return s.turns.History()
}

// Recording reports whether the session is live.
func (s *Session) Recording() bool {
	return s.recording.Load()
}

// Run drives the session until the client stops, the upstream closes,
// the deadline passes, or ctx is cancelled. It always returns with the
// session fully torn down.
func (s *Session) Run(ctx context.Context) error {
	s.recording.Store(true)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.MaxSessionDuration)
	defer cancel()

	s.send(protocol.Encode(protocol.ServerHelloAck{
		Type:      "hello_ack",
		SessionID: s.ID,
		AudioOut:  protocol.PlaybackFormat(),
	}))

	errCh := make(chan error, 2)
	go func() { errCh <- s.clientLoop() }()
	go func() { errCh <- s.upstreamLoop() }()
	go s.writeLoop(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
	}

	if runErr != nil && !errors.Is(runErr, errClientStopped) && !s.stopped.Load() {
		// Mid-stream failure: apologize in the transcript, then tear
		// down. No automatic retry; the user restarts manually.
		s.turns.appendAI(apologyText)
		s.send(protocol.Encode(protocol.ServerTranscript{
			Type:   "transcript",
			Source: protocol.SourceCompanion,
			Text:   apologyText,
		}))
		s.logger.Warn("voice session failed", "session_id", s.ID, "error", runErr)
	}

	stopErr := s.Stop()
	if runErr != nil && !errors.Is(runErr, errClientStopped) && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return stopErr
}

var errClientStopped = errors.New("client requested stop")

// clientLoop is the uplink pump: every mic audio frame is forwarded to
// the realtime endpoint for the lifetime of the session.
func (s *Session) clientLoop() error {
	for {
		messageType, raw, err := s.client.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		decoded, err := protocol.DecodeClientMessage(raw)
		if err != nil {
			s.send(protocol.Encode(protocol.ServerError{
				Type: "error", Code: "bad_request", Message: err.Error(),
			}))
			continue
		}
		switch m := decoded.(type) {
		case protocol.ClientAudio:
			pcm, err := base64.StdEncoding.DecodeString(m.Audio)
			if err != nil {
				s.send(protocol.Encode(protocol.ServerError{
					Type: "error", Code: "bad_request", Message: "audio payload is not valid base64",
				}))
				continue
			}
			if len(pcm) > s.cfg.MaxFrameBytes {
				s.send(protocol.Encode(protocol.ServerError{
					Type: "error", Code: "frame_too_large", Message: "audio frame exceeds limit",
				}))
				continue
			}
			if err := s.upstream.SendAudio(pcm); err != nil {
				return err
			}
		case protocol.ClientStop:
			return errClientStopped
		case protocol.ClientHello:
			s.send(protocol.Encode(protocol.ServerError{
				Type: "error", Code: "bad_request", Message: "session already open",
			}))
		}
	}
}

// upstreamLoop is the downlink pump.
func (s *Session) upstreamLoop() error {
	for {
		chunk, err := s.upstream.Receive()
		if err != nil {
			return err
		}
		s.handleChunk(chunk)
	}
}

func (s *Session) handleChunk(chunk ai.RealtimeChunk) {
	if chunk.Interrupted {
		// Barge-in discards scheduled audio only. Transcript fragments
		// already received (including the interrupting speech) stay in
		// the accumulators until turn-complete flushes them.
		dropped := s.sched.Interrupt()
		s.send(protocol.Encode(protocol.ServerInterrupted{Type: "interrupted"}))
		s.logger.Debug("barge-in", "session_id", s.ID, "dropped_chunks", dropped)
		return
	}

	if chunk.InputTranscript != "" {
		s.turns.addUser(chunk.InputTranscript)
		s.send(protocol.Encode(protocol.ServerTranscript{
			Type: "transcript", Source: protocol.SourceUser, Text: chunk.InputTranscript,
		}))
	}
	if chunk.OutputTranscript != "" {
		s.turns.addAI(chunk.OutputTranscript)
		s.send(protocol.Encode(protocol.ServerTranscript{
			Type: "transcript", Source: protocol.SourceCompanion, Text: chunk.OutputTranscript,
		}))
	}

	if len(chunk.Audio) > 0 {
		sc := s.sched.Schedule(chunk.Audio)
		s.send(protocol.Encode(protocol.ServerAudio{
			Type:       "audio",
			Audio:      base64.StdEncoding.EncodeToString(sc.PCM),
			StartMS:    sc.Start.Milliseconds(),
			DurationMS: sc.Duration.Milliseconds(),
		}))
	}

	if chunk.TurnComplete {
		userText, aiText := s.turns.flush()
		s.send(protocol.Encode(protocol.ServerTurnComplete{
			Type:          "turn_complete",
			UserText:      userText,
			CompanionText: aiText,
		}))
	}
}

func (s *Session) send(frame []byte) {
	select {
	case s.writeCh <- frame:
	case <-s.done:
	default:
		// Slow client: drop rather than stall the audio pumps.
		s.logger.Debug("outbound frame dropped", "session_id", s.ID)
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case frame := <-s.writeCh:
			_ = s.client.SetWriteDeadline(s.now().Add(s.cfg.WriteTimeout))
			if err := s.client.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.client.WriteControl(websocket.PingMessage, nil, s.now().Add(s.cfg.WriteTimeout))
		}
	}
}

// Stop tears the session down. It is idempotent and re-entrant-guarded:
// a stop arriving while another is in flight (or within the debounce
// window after one) is absorbed. Teardown runs every step even when an
// earlier step fails; the errors are joined.
func (s *Session) Stop() error {
	if !s.stopGuard.CompareAndSwap(false, true) {
		return nil
	}
	if s.stopped.Swap(true) {
		// Already torn down; just re-arm the guard release.
		time.AfterFunc(s.cfg.StopDebounce, func() { s.stopGuard.Store(false) })
		return nil
	}

	var errs []error
	if s.upstream != nil {
		if err := s.upstream.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	close(s.done)
	if s.client != nil {
		deadline := s.now().Add(s.cfg.WriteTimeout)
		_ = s.client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		if err := s.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.sched.Interrupt()
	s.turns.clear()
	s.recording.Store(false)

	time.AfterFunc(s.cfg.StopDebounce, func() { s.stopGuard.Store(false) })
	return errors.Join(errs...)
}
