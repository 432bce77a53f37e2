package gemini

import (
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/aeternacy/aeterngw/pkg/ai"
)

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Fatalf("nil classified as error")
	}

	plain := errors.New("rpc error: connection refused")
	if got := classify(plain); got != plain {
		t.Fatalf("plain error rewritten: %v", got)
	}

	if got := classify(errors.New("request BLOCKED by policy")); !ai.IsSafetyBlocked(got) {
		t.Fatalf("blocked error not classified: %v", got)
	}
	if got := classify(errors.New("candidate removed for SAFETY reasons")); !ai.IsSafetyBlocked(got) {
		t.Fatalf("safety error not classified: %v", got)
	}
}

func TestBlockedError(t *testing.T) {
	if blockedError(nil) != nil {
		t.Fatalf("nil response blocked")
	}
	if blockedError(&genai.GenerateContentResponse{}) != nil {
		t.Fatalf("empty response blocked")
	}

	resp := &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{
			BlockReason:        genai.BlockedReason("SAFETY"),
			BlockReasonMessage: "prompt rejected",
		},
	}
	err := blockedError(resp)
	if !ai.IsSafetyBlocked(err) {
		t.Fatalf("prompt feedback not detected: %v", err)
	}

	resp = &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{FinishReason: genai.FinishReasonStop},
			{FinishReason: genai.FinishReasonSafety},
		},
	}
	if err := blockedError(resp); !ai.IsSafetyBlocked(err) {
		t.Fatalf("safety finish not detected: %v", err)
	}
}
