// Package ai defines the boundary to the generative backend. Everything
// above it treats AI actions as opaque async calls; everything below it
// (pkg/ai/gemini) adapts a concrete SDK.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSafetyBlocked marks a content-safety policy rejection from the
// backend. The attempt consumed backend resources even though output
// was withheld, so the gate does not refund it.
var ErrSafetyBlocked = errors.New("operation stopped due to safety policy")

// safetyBlockNeedle is a fallback for raw upstream errors that were not
// classified at the adapter boundary. Wording-dependent, kept only as a
// net under the typed classification.
const safetyBlockNeedle = "stopped due to safety policy"

// IsSafetyBlocked reports whether err is a safety-policy block, either
// via the typed sentinel or the raw-message fallback.
func IsSafetyBlocked(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSafetyBlocked) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), safetyBlockNeedle)
}

// SafetyBlockedError wraps ErrSafetyBlocked with the backend's reason.
func SafetyBlockedError(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrSafetyBlocked
	}
	return fmt.Errorf("%w: %s", ErrSafetyBlocked, reason)
}

// ChatMessage is one turn of companion conversation history.
type ChatMessage struct {
	Role string `json:"role"` // "user" or "model"
	Text string `json:"text"`
}

// VideoResult is the outcome of a generation operation.
type VideoResult struct {
	URI      string
	Data     []byte
	MIMEType string
}

// Client is the set of generative actions the product invokes. All
// methods block until settlement and are safe to wrap in the
// confirmation gate.
type Client interface {
	// ChatReply continues a companion conversation and returns the
	// model's next text turn.
	ChatReply(ctx context.Context, system string, history []ChatMessage, prompt string) (string, error)

	// Speak synthesizes speech audio (pcm_s16le @24kHz mono) for text.
	Speak(ctx context.Context, voice, text string) ([]byte, error)

	// GenerateVideo produces a short generated video for a prompt,
	// polling the long-running operation until it settles.
	GenerateVideo(ctx context.Context, prompt string) (*VideoResult, error)
}

// RealtimeChunk is one inbound message from a live duplex session.
type RealtimeChunk struct {
	Audio            []byte // pcm_s16le @24kHz mono, may be empty
	InputTranscript  string // incremental user-speech fragment
	OutputTranscript string // incremental model-speech fragment
	Interrupted      bool   // barge-in: discard pending playback
	TurnComplete     bool   // flush accumulated transcripts
}

// RealtimeSession is an open duplex audio session.
type RealtimeSession interface {
	// SendAudio forwards one block of pcm_s16le @16kHz mono mic audio.
	SendAudio(chunk []byte) error

	// Receive blocks for the next server message.
	Receive() (RealtimeChunk, error)

	Close() error
}

// RealtimeConfig shapes a live session at open time.
type RealtimeConfig struct {
	SystemInstruction string
	Voice             string
}

// RealtimeDialer opens live duplex sessions.
type RealtimeDialer interface {
	Connect(ctx context.Context, cfg RealtimeConfig) (RealtimeSession, error)
}
