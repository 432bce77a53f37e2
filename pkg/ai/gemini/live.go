package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/aeternacy/aeterngw/pkg/ai"
)

const micMIMEType = "audio/pcm;rate=16000"

// Connect opens a realtime duplex audio session with input and output
// transcription enabled.
func (c *Client) Connect(ctx context.Context, cfg ai.RealtimeConfig) (ai.RealtimeSession, error) {
	lcfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.SystemInstruction != "" {
		lcfg.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.Voice != "" {
		lcfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	sess, err := c.gc.Live.Connect(ctx, c.opts.LiveModel, lcfg)
	if err != nil {
		return nil, fmt.Errorf("open realtime session: %w", classify(err))
	}
	return &liveSession{sess: sess}, nil
}

type liveSession struct {
	sess *genai.Session
}

func (s *liveSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	return s.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: chunk, MIMEType: micMIMEType},
	})
}

func (s *liveSession) Receive() (ai.RealtimeChunk, error) {
	msg, err := s.sess.Receive()
	if err != nil {
		return ai.RealtimeChunk{}, classify(err)
	}
	var out ai.RealtimeChunk
	sc := msg.ServerContent
	if sc == nil {
		return out, nil
	}
	out.Interrupted = sc.Interrupted
	out.TurnComplete = sc.TurnComplete
	if sc.InputTranscription != nil {
		out.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		out.OutputTranscript = sc.OutputTranscription.Text
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				out.Audio = append(out.Audio, part.InlineData.Data...)
			}
		}
	}
	return out, nil
}

func (s *liveSession) Close() error {
	return s.sess.Close()
}
