// Package protocol defines the client WebSocket frames for live voice
// sessions: mic audio up, scheduled companion audio and transcripts
// down.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ProtocolVersion1 = "1"

	// Fixed audio shapes: mic capture at 16 kHz, companion playback at
	// 24 kHz, both pcm_s16le mono.
	MicSampleRateHz      = 16000
	PlaybackSampleRateHz = 24000
	EncodingPCM16        = "pcm_s16le"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// AudioFormat describes a negotiated audio shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// MicFormat is the only accepted uplink shape.
func MicFormat() AudioFormat {
	return AudioFormat{Encoding: EncodingPCM16, SampleRateHz: MicSampleRateHz, Channels: 1}
}

// PlaybackFormat is the only downlink shape.
func PlaybackFormat() AudioFormat {
	return AudioFormat{Encoding: EncodingPCM16, SampleRateHz: PlaybackSampleRateHz, Channels: 1}
}

// ClientHello opens a voice session.
type ClientHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	AudioIn         AudioFormat `json:"audio_in"`
	AudioOut        AudioFormat `json:"audio_out"`
	Voice           string      `json:"voice,omitempty"`
	System          string      `json:"system,omitempty"`
}

// Validate enforces the fixed session shape.
func (h ClientHello) Validate() error {
	if strings.TrimSpace(h.ProtocolVersion) != ProtocolVersion1 {
		return badRequest("unsupported protocol_version", "protocol_version")
	}
	if h.AudioIn != MicFormat() {
		return badRequest("audio_in must be pcm_s16le @16000Hz mono", "audio_in")
	}
	if h.AudioOut != PlaybackFormat() {
		return badRequest("audio_out must be pcm_s16le @24000Hz mono", "audio_out")
	}
	return nil
}

// ClientAudio carries one base64-encoded block of mic PCM.
type ClientAudio struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
	Seq   int64  `json:"seq,omitempty"`
}

// ClientStop asks for session teardown.
type ClientStop struct {
	Type string `json:"type"`
}

// DecodeClientMessage peeks at the type field and strictly decodes
// the matching frame.
func DecodeClientMessage(raw []byte) (any, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	switch strings.TrimSpace(head.Type) {
	case "hello":
		var m ClientHello
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case "audio":
		var m ClientAudio
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		if strings.TrimSpace(m.Audio) == "" {
			return nil, badRequest("audio frame requires audio payload", "audio")
		}
		return m, nil
	case "stop":
		return ClientStop{Type: "stop"}, nil
	default:
		return nil, badRequest(fmt.Sprintf("unknown frame type %q", head.Type), "type")
	}
}

func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid frame: "+err.Error(), "")
	}
	return nil
}

// ServerHelloAck confirms session open.
type ServerHelloAck struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	AudioOut  AudioFormat `json:"audio_out"`
}

// ServerAudio is one scheduled playback chunk. StartMS/DurationMS place
// it on the session playback timeline; chunks never overlap.
type ServerAudio struct {
	Type       string `json:"type"`
	Audio      string `json:"audio"`
	StartMS    int64  `json:"start_ms"`
	DurationMS int64  `json:"duration_ms"`
}

// TranscriptSource identifies who is speaking.
type TranscriptSource string

const (
	SourceUser      TranscriptSource = "user"
	SourceCompanion TranscriptSource = "companion"
)

// ServerTranscript is a live incremental transcript fragment.
type ServerTranscript struct {
	Type   string           `json:"type"`
	Source TranscriptSource `json:"source"`
	Text   string           `json:"text"`
}

// ServerTurnComplete flushes the finished turn into history.
type ServerTurnComplete struct {
	Type          string `json:"type"`
	UserText      string `json:"user_text,omitempty"`
	CompanionText string `json:"companion_text,omitempty"`
}

// ServerInterrupted tells the client to drop all scheduled playback.
type ServerInterrupted struct {
	Type string `json:"type"`
}

// ServerError is a terminal or warning error frame.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// Encode marshals any server frame.
func Encode(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		// All server frames are plain structs; this cannot fail.
		return []byte(`{"type":"error","code":"encode_failed","message":"internal error","fatal":true}`)
	}
	return raw
}
