//go:build !integration

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sharktank-agent/internal/domain/ports/adapter"
)

func TestOpenAIAdapter_Complete(t *testing.T) {
	var body struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Hello there"}}]}`))
	}))
	defer srv.Close()

	o, err := NewOpenAIAdapter("key", srv.URL, "", 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenAIAdapter: %v", err)
	}
	out, err := o.Complete(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "Hello there" {
		t.Fatalf("out = %q", out)
	}
	if body.Model != "mistral-large-latest" {
		t.Errorf("model = %q", body.Model)
	}
	roles := []string{"system", "user", "assistant", "user"}
	if len(body.Messages) != len(roles) {
		t.Fatalf("messages = %+v", body.Messages)
	}
	for i, r := range roles {
		if body.Messages[i].Role != r {
			t.Errorf("message %d role = %s, want %s", i, body.Messages[i].Role, r)
		}
	}
}

func TestOpenAIAdapter_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	o, _ := NewOpenAIAdapter("key", srv.URL, "gpt-4o-mini", 5*time.Second)
	_, err := o.Complete(context.Background(), sampleRequest())
	var up *adapter.UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("err = %v", err)
	}
	if up.Status != http.StatusUnauthorized {
		t.Fatalf("status = %d", up.Status)
	}
}

func TestNewOpenAIAdapter_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIAdapter("", "", "", 0); err == nil {
		t.Fatal("expected error")
	}
}
