package handlers

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aeternacy/aeterngw/pkg/accounts"
	"github.com/aeternacy/aeterngw/pkg/ai"
	"github.com/aeternacy/aeterngw/pkg/gate"
	"github.com/aeternacy/aeterngw/pkg/gateway/apierror"
	"github.com/aeternacy/aeterngw/pkg/gateway/auth"
	"github.com/aeternacy/aeterngw/pkg/gateway/config"
)

// FeaturesHandler serves POST /v1/features/{key}: every token-costing
// generation feature, routed through the confirmation gate.
type FeaturesHandler struct {
	Config   config.Config
	Accounts *accounts.Service
	Gate     *gate.Gate
	AI       ai.Client
	Logger   *slog.Logger
}

type featureRequest struct {
	Prompt  string           `json:"prompt,omitempty"`
	Text    string           `json:"text,omitempty"`
	Voice   string           `json:"voice,omitempty"`
	System  string           `json:"system,omitempty"`
	History []ai.ChatMessage `json:"history,omitempty"`
}

type featureResponse struct {
	Feature    string `json:"feature"`
	Reply      string `json:"reply,omitempty"`
	AudioB64   string `json:"audio,omitempty"`
	VideoURI   string `json:"video_uri,omitempty"`
	MIMEType   string `json:"mime_type,omitempty"`
	Balance    int    `json:"balance"`
	UsageCount int    `json:"usage_count"`
}

func (h FeaturesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, r, &apierror.Error{
			Type: apierror.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed",
		})
		return
	}
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeAPIError(w, r, &apierror.Error{Type: apierror.ErrAuthentication, Message: "missing principal"})
		return
	}

	feature := strings.TrimPrefix(r.URL.Path, "/v1/features/")
	cost, known := h.costFor(feature)
	if !known {
		writeAPIError(w, r, &apierror.Error{
			Type: apierror.ErrNotFound, Message: "unknown feature", Param: "feature",
		})
		return
	}

	var req featureRequest
	if err := decodeBody(r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var resp featureResponse
	resp.Feature = feature

	err := h.Gate.Run(r.Context(), p.Account, feature, cost, func(ctx context.Context) error {
		return h.invoke(ctx, feature, req, &resp)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp.Balance = h.Accounts.State(r.Context(), p.Account).Balance
	resp.UsageCount = h.Gate.Usage().Count(p.Account, feature)
	writeJSON(w, http.StatusOK, resp)
}

func (h FeaturesHandler) costFor(feature string) (int, bool) {
	switch feature {
	case gate.FeatureVideoReflection:
		return h.Config.CostVideoReflection, true
	case gate.FeatureLivingSlideshow:
		return h.Config.CostLivingSlideshow, true
	case gate.FeatureMagazine:
		return h.Config.CostMagazine, true
	case gate.FeatureChatReply:
		return h.Config.CostChatReply, true
	case gate.FeatureSpeech:
		return h.Config.CostSpeech, true
	default:
		return 0, false
	}
}

func (h FeaturesHandler) invoke(ctx context.Context, feature string, req featureRequest, resp *featureResponse) error {
	switch feature {
	case gate.FeatureVideoReflection, gate.FeatureLivingSlideshow:
		result, err := h.AI.GenerateVideo(ctx, req.Prompt)
		if err != nil {
			return err
		}
		resp.VideoURI = result.URI
		resp.MIMEType = result.MIMEType
		return nil

	case gate.FeatureMagazine:
		reply, err := h.AI.ChatReply(ctx, magazineSystemPrompt, nil, req.Prompt)
		if err != nil {
			return err
		}
		resp.Reply = reply
		return nil

	case gate.FeatureChatReply:
		reply, err := h.AI.ChatReply(ctx, req.System, req.History, req.Prompt)
		if err != nil {
			return err
		}
		resp.Reply = reply
		return nil

	case gate.FeatureSpeech:
		audio, err := h.AI.Speak(ctx, req.Voice, req.Text)
		if err != nil {
			return err
		}
		resp.AudioB64 = base64.StdEncoding.EncodeToString(audio)
		resp.MIMEType = "audio/pcm;rate=24000"
		return nil
	}
	return &apierror.Error{Type: apierror.ErrNotFound, Message: "unknown feature"}
}

const magazineSystemPrompt = "You are the editor of a family memory magazine. " +
	"Write warm, evocative copy for the memories described, organized into " +
	"titled sections suitable for print layout."
