package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/drfirst/medscan/internal/domain/medication"
)

func completionServer(t *testing.T, status int, content string, check func(chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if check != nil {
			check(req)
		}
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
}

func TestExtractText(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "```\nLISINOPRIL 10 MG TABLET\n```", func(req chatRequest) {
		if req.Model != DefaultModel || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
	})
	defer srv.Close()

	c, err := New("test-key", "", srv.URL, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := c.ExtractText(context.Background(), []byte("\x89PNG\r\n\x1a\n...."), "")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "LISINOPRIL 10 MG TABLET" {
		t.Errorf("text = %q", text)
	}
}

func TestExtractTextEmptyIsExtractionFailure(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "   ", nil)
	defer srv.Close()

	c, _ := New("test-key", "", srv.URL, nil)
	_, err := c.ExtractText(context.Background(), []byte{0xFF, 0xD8, 0xFF}, "image/jpeg")
	if !errors.Is(err, medication.ErrExtractionFailed) {
		t.Fatalf("got %v", err)
	}
}

func TestExtractTextUpstreamError(t *testing.T) {
	srv := completionServer(t, http.StatusTooManyRequests, "", nil)
	defer srv.Close()

	c, _ := New("test-key", "", srv.URL, nil)
	_, err := c.ExtractText(context.Background(), []byte{0xFF, 0xD8, 0xFF}, "image/jpeg")
	if err == nil || errors.Is(err, medication.ErrExtractionFailed) || !strings.Contains(err.Error(), "429") {
		t.Fatalf("got %v", err)
	}
}

func TestSuggest(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"conditions":[{"condition":"Hypertension","confidence":91,"reasoning":"ACE inhibitor"}]}`, func(req chatRequest) {
		if req.ResponseFormat["type"] != "json_object" {
			t.Errorf("response_format = %v", req.ResponseFormat)
		}
	})
	defer srv.Close()

	c, _ := New("test-key", "", srv.URL, nil)
	got, err := c.Suggest(context.Background(), medication.Record{Name: medication.Some("Lisinopril")})
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(got) != 1 || got[0].Condition != "Hypertension" || got[0].Confidence != 91 {
		t.Errorf("got %+v", got)
	}
}
