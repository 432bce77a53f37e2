// Package gemini adapts google.golang.org/genai to the pkg/ai boundary.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/aeternacy/aeterngw/pkg/ai"
)

const (
	defaultChatModel  = "gemini-2.5-flash"
	defaultTTSModel   = "gemini-2.5-flash-preview-tts"
	defaultVideoModel = "veo-3.0-generate-001"
	defaultLiveModel  = "gemini-2.5-flash-native-audio-preview-09-2025"

	videoPollInterval = 10 * time.Second
)

// Options overrides the default model selection.
type Options struct {
	ChatModel  string
	TTSModel   string
	VideoModel string
	LiveModel  string
}

// Client implements ai.Client and ai.RealtimeDialer on the Gemini API.
type Client struct {
	gc   *genai.Client
	opts Options
}

func New(ctx context.Context, apiKey string, opts Options) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if opts.ChatModel == "" {
		opts.ChatModel = defaultChatModel
	}
	if opts.TTSModel == "" {
		opts.TTSModel = defaultTTSModel
	}
	if opts.VideoModel == "" {
		opts.VideoModel = defaultVideoModel
	}
	if opts.LiveModel == "" {
		opts.LiveModel = defaultLiveModel
	}
	return &Client{gc: gc, opts: opts}, nil
}

// ChatReply continues a companion conversation with one more user turn.
func (c *Client) ChatReply(ctx context.Context, system string, history []ai.ChatMessage, prompt string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		var role genai.Role = genai.RoleUser
		if strings.EqualFold(m.Role, "model") || strings.EqualFold(m.Role, "assistant") {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(system) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := c.gc.Models.GenerateContent(ctx, c.opts.ChatModel, contents, cfg)
	if err != nil {
		return "", classify(err)
	}
	if err := blockedError(resp); err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: empty chat response")
	}
	return text, nil
}

// Speak synthesizes pcm_s16le @24kHz mono audio for the given text.
func (c *Client) Speak(ctx context.Context, voice, text string) ([]byte, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
	}
	if strings.TrimSpace(voice) != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}

	resp, err := c.gc.Models.GenerateContent(ctx, c.opts.TTSModel, genai.Text(text), cfg)
	if err != nil {
		return nil, classify(err)
	}
	if err := blockedError(resp); err != nil {
		return nil, err
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}
	return nil, fmt.Errorf("gemini: no audio in response")
}

// GenerateVideo starts a Veo operation and polls until it settles.
func (c *Client) GenerateVideo(ctx context.Context, prompt string) (*ai.VideoResult, error) {
	op, err := c.gc.Models.GenerateVideos(ctx, c.opts.VideoModel, prompt, nil, nil)
	if err != nil {
		return nil, classify(err)
	}

	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(videoPollInterval):
		}
		op, err = c.gc.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, classify(err)
		}
	}

	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		// Veo withholds output entirely on a policy block.
		return nil, ai.SafetyBlockedError("video generation returned no output")
	}
	v := op.Response.GeneratedVideos[0].Video
	if v == nil {
		return nil, fmt.Errorf("gemini: generated video missing payload")
	}
	return &ai.VideoResult{
		URI:      v.URI,
		Data:     v.VideoBytes,
		MIMEType: v.MIMEType,
	}, nil
}
