//go:build !integration

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/ports/adapter"
)

func sampleRequest() adapter.CompletionRequest {
	return adapter.CompletionRequest{
		Prompt:       "Answer the user's question: What is Shark Tank?",
		Instructions: "be brief",
		History: []adapter.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
		Options: adapter.CompletionOptions{Model: "mistral-large-latest", Temperature: 0.5, TopP: 1, MaxTokens: 8096},
	}
}

func TestProxyAdapter_Payload(t *testing.T) {
	var got map[string]any
	var rawBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rawBody = string(b)
		_ = json.Unmarshal(b, &got)
		_, _ = w.Write([]byte(`{"content":"  A show about investors.  "}`))
	}))
	defer srv.Close()

	p := NewProxyAdapter(ProxyOptions{Endpoint: srv.URL, Cookie: "sess=1"})
	out, err := p.Complete(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "A show about investors." {
		t.Fatalf("out = %q", out)
	}
	if got["stream"] != false || got["reset_conversation"] != false {
		t.Errorf("flags = %v %v", got["stream"], got["reset_conversation"])
	}
	if got["model"] != "mistral-large-latest" || got["max_tokens"].(float64) != 8096 {
		t.Errorf("options not sent: %v", got)
	}
	if hist := got["conversation_history"].([]any); len(hist) != 2 {
		t.Errorf("history = %v", hist)
	}
	if !strings.HasSuffix(rawBody, `"cookie":"sess=1"}`) {
		t.Errorf("cookie must be the last field: %s", rawBody)
	}
}

func TestProxyAdapter_ResponseField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"from response"}`))
	}))
	defer srv.Close()

	out, err := NewProxyAdapter(ProxyOptions{Endpoint: srv.URL}).Complete(context.Background(), sampleRequest())
	if err != nil || out != "from response" {
		t.Fatalf("out=%q err=%v", out, err)
	}
}

func TestProxyAdapter_Transcript(t *testing.T) {
	var got proxyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"content":"ok"}`))
	}))
	defer srv.Close()

	req := sampleRequest()
	if _, err := NewProxyAdapter(ProxyOptions{Endpoint: srv.URL, Transcript: true}).Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(got.ConversationHistory) != 0 {
		t.Fatalf("history should be flattened, got %v", got.ConversationHistory)
	}
	want := "Conversation so far:\nUser: hi\nAssistant: hello\n\n" + req.Prompt
	if got.Prompt != want {
		t.Fatalf("prompt = %q", got.Prompt)
	}
}

func TestProxyAdapter_Errors(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"non 2xx", http.StatusBadGateway, "upstream down", http.StatusBadGateway},
		{"non json", http.StatusOK, "<html>", http.StatusOK},
		{"error field", http.StatusOK, `{"error":"quota exceeded"}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewProxyAdapter(ProxyOptions{Endpoint: srv.URL}).Complete(context.Background(), sampleRequest())
			var up *adapter.UpstreamError
			if !errors.As(err, &up) {
				t.Fatalf("err = %v, want UpstreamError", err)
			}
			if up.Status != tc.wantStatus {
				t.Errorf("status = %d", up.Status)
			}
			if !errors.Is(err, domain.ErrUpstream) {
				t.Error("should wrap ErrUpstream")
			}
		})
	}
}

func TestProxyAdapter_NoEndpoint(t *testing.T) {
	_, err := NewProxyAdapter(ProxyOptions{}).Complete(context.Background(), sampleRequest())
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

type slowAI struct {
	inflight, peak int32
}

func (s *slowAI) Provider() string { return "slow" }

func (s *slowAI) Complete(ctx context.Context, _ adapter.CompletionRequest) (string, error) {
	n := atomic.AddInt32(&s.inflight, 1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	atomic.AddInt32(&s.inflight, -1)
	return "ok", nil
}

func TestLimitedAI_CapsConcurrency(t *testing.T) {
	inner := &slowAI{}
	l := NewLimitedAI(inner, 2)
	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			_, _ = l.Complete(context.Background(), adapter.CompletionRequest{})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	if inner.peak > 2 {
		t.Fatalf("peak concurrency = %d", inner.peak)
	}
}

func TestLimitedAI_ContextWhileWaiting(t *testing.T) {
	l := NewLimitedAI(&slowAI{}, 1).(*limitedAI)
	l.sem <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Complete(ctx, adapter.CompletionRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestMeteredAI_CountsPrompt(t *testing.T) {
	var seen string
	m := NewMeteredAI(NewNoopAIAdapter(), "m1", func(model, text string) int {
		seen = model + "|" + text
		return EstimateTokens(text)
	})
	_, err := m.Complete(context.Background(), adapter.CompletionRequest{Prompt: "p", Instructions: "i"})
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if seen != "m1|i\np" {
		t.Fatalf("counter saw %q", seen)
	}
	if m.Provider() != "noop" {
		t.Errorf("provider = %s", m.Provider())
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 || EstimateTokens("abcd") != 1 || EstimateTokens("abcde") != 2 {
		t.Fatal("unexpected estimates")
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"héllo", 2, "h..."},
		{"€€", 4, "€..."},
		{"日本語", 1, "..."},
	}
	for _, tc := range cases {
		got := truncate(tc.in, tc.n)
		if got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tc.in, tc.n)
		}
	}
}
