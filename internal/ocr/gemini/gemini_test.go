package gemini

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestFirstText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []genai.Part{
				genai.Text("METFORMIN 500 MG\n"),
				genai.Blob{MIMEType: "image/png"},
				genai.Text("TAKE 1 TABLET"),
			}}},
		},
	}
	if got := firstText(resp); got != "METFORMIN 500 MG\nTAKE 1 TABLET" {
		t.Errorf("firstText = %q", got)
	}
	if got := firstText(nil); got != "" {
		t.Errorf("firstText(nil) = %q", got)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(context.Background(), "  ", "", nil); err == nil {
		t.Fatal("expected error for empty key")
	}
}
