package gemini

import (
	"strings"

	"google.golang.org/genai"

	"github.com/aeternacy/aeterngw/pkg/ai"
)

// classify maps raw SDK errors onto the typed ai boundary. Safety
// blocks get the typed sentinel so callers never have to sniff message
// strings themselves.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "safety") || strings.Contains(msg, "blocked") {
		return ai.SafetyBlockedError(err.Error())
	}
	return err
}

// blockedError inspects a settled response for a policy block: either
// the prompt was refused outright or the candidate was cut for safety.
func blockedError(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return nil
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		reason := string(fb.BlockReason)
		if fb.BlockReasonMessage != "" {
			reason = fb.BlockReasonMessage
		}
		return ai.SafetyBlockedError(reason)
	}
	for _, cand := range resp.Candidates {
		if cand != nil && cand.FinishReason == genai.FinishReasonSafety {
			return ai.SafetyBlockedError("response finished for safety reasons")
		}
	}
	return nil
}
