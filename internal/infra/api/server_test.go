//go:build !integration

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/infra/queue/memqueue"
	"sharktank-agent/internal/usecase"
)

type denyLimiter struct{ hits int }

func (d *denyLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	d.hits++
	return false, nil
}

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

type harness struct {
	q  *memqueue.Queue
	h  http.Handler
	gw usecase.JobGateway
}

func newHarness(t *testing.T, wait usecase.WaitOptions, limiter Limiter) *harness {
	t.Helper()
	q := memqueue.New()
	gw := usecase.NewJobGateway(q, nil, usecase.GatewayConfig{Wait: wait}, newLogger())
	auth := NewAuthManager("admin-key", "0123456789abcdef0123456789abcdef", time.Hour)
	srv := NewServer(gw, auth, limiter, ServerConfig{RateLimit: 5}, newLogger())
	return &harness{q: q, h: srv.Routes(), gw: gw}
}

func (h *harness) do(t *testing.T, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestQueueRoutes(t *testing.T) {
	h := newHarness(t, usecase.WaitOptions{}, nil)

	t.Run("submit, inspect, cancel", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/agent/queue/chat", map[string]any{"message": "What is Shark Tank?"}, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
		}
		if rec.Header().Get("X-Trace-Id") == "" {
			t.Error("trace id header missing")
		}
		var sub submitResponse
		decode(t, rec, &sub)
		if sub.JobID == "" || sub.StatusURL != "/agent/queue/job/"+sub.JobID || sub.ResultURL != sub.StatusURL+"/result" {
			t.Fatalf("submit body = %+v", sub)
		}

		rec = h.do(t, http.MethodGet, sub.StatusURL, nil, nil)
		var status struct {
			Job model.JobInfo `json:"job"`
		}
		decode(t, rec, &status)
		if rec.Code != http.StatusOK || status.Job.Status != model.JobStatusWaiting {
			t.Fatalf("status: %d %+v", rec.Code, status.Job)
		}

		if rec = h.do(t, http.MethodGet, sub.ResultURL, nil, nil); rec.Code != http.StatusAccepted {
			t.Fatalf("result while waiting: %d", rec.Code)
		}

		if rec = h.do(t, http.MethodDelete, sub.StatusURL, nil, nil); rec.Code != http.StatusOK {
			t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
		}
		if rec = h.do(t, http.MethodDelete, sub.StatusURL, nil, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("second cancel: %d", rec.Code)
		}
		if rec = h.do(t, http.MethodGet, sub.StatusURL, nil, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("status after cancel: %d", rec.Code)
		}
		if rec = h.do(t, http.MethodPost, sub.StatusURL+"/retry", nil, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("retry of missing job: %d", rec.Code)
		}
	})

	t.Run("validation errors are 400", func(t *testing.T) {
		if rec := h.do(t, http.MethodPost, "/agent/queue/chat", map[string]any{"message": "  "}, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("blank message: %d", rec.Code)
		}
		if rec := h.do(t, http.MethodPost, "/agent/queue/batch", map[string]any{"messages": []any{}}, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("empty batch: %d", rec.Code)
		}
		if rec := h.do(t, http.MethodGet, "/agent/queue/jobs?limit=abc", nil, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("bad limit: %d", rec.Code)
		}
	})

	t.Run("result is returned unchanged", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/agent/queue/chat", map[string]any{"message": "hi"}, nil)
		var sub submitResponse
		decode(t, rec, &sub)

		raw := `{"response":"Hello there","sessionId":"s","processingTime":3,"timestamp":"2024-01-01T00:00:00Z"}`
		j, err := h.q.Claim(context.Background(), "w", time.Minute)
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		_ = h.q.Complete(context.Background(), j.ID, "w", json.RawMessage(raw))

		rec = h.do(t, http.MethodGet, sub.ResultURL, nil, nil)
		var body struct {
			Result json.RawMessage `json:"result"`
		}
		decode(t, rec, &body)
		if rec.Code != http.StatusOK || string(body.Result) != raw {
			t.Fatalf("result: %d %s", rec.Code, body.Result)
		}
	})

	t.Run("batch reports message count", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/agent/queue/batch", map[string]any{
			"messages": []map[string]any{{"message": "a"}, {"message": "b"}},
		}, nil)
		var sub submitResponse
		decode(t, rec, &sub)
		if rec.Code != http.StatusOK || sub.Count != 2 {
			t.Fatalf("batch: %d %+v", rec.Code, sub)
		}
	})
}

func TestChatSync(t *testing.T) {
	t.Run("answers when the job completes", func(t *testing.T) {
		h := newHarness(t, usecase.WaitOptions{MaxWait: 2 * time.Second, PollInterval: 5 * time.Millisecond}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			for ctx.Err() == nil {
				j, err := h.q.Claim(ctx, "w", time.Minute)
				if err != nil {
					time.Sleep(2 * time.Millisecond)
					continue
				}
				res, _ := json.Marshal(model.ChatResult{Response: "It is a show.", SessionID: j.Payload.Chat.SessionID})
				_ = h.q.Complete(ctx, j.ID, "w", res)
			}
		}()

		rec := h.do(t, http.MethodPost, "/agent/chat/sync", map[string]any{"message": "What is Shark Tank?", "sessionId": "abc"}, nil)
		var body struct {
			Response  string `json:"response"`
			SessionID string `json:"sessionId"`
		}
		decode(t, rec, &body)
		if rec.Code != http.StatusOK || body.Response != "It is a show." || body.SessionID != "abc" {
			t.Fatalf("sync: %d %+v", rec.Code, body)
		}
	})

	t.Run("times out with the job id", func(t *testing.T) {
		h := newHarness(t, usecase.WaitOptions{MaxWait: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond}, nil)
		rec := h.do(t, http.MethodPost, "/agent/chat/sync", map[string]any{"message": "slow"}, nil)
		var body struct {
			JobID     string `json:"jobId"`
			StatusURL string `json:"statusUrl"`
		}
		decode(t, rec, &body)
		if rec.Code != http.StatusRequestTimeout || body.JobID == "" || !strings.HasSuffix(body.StatusURL, body.JobID) {
			t.Fatalf("timeout: %d %+v", rec.Code, body)
		}
	})
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t, usecase.WaitOptions{}, nil)

	if rec := h.do(t, http.MethodPost, "/agent/queue/pause", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("pause without token: %d", rec.Code)
	}
	if rec := h.do(t, http.MethodPost, "/admin/token", nil, map[string]string{"X-Admin-Key": "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("token with bad key: %d", rec.Code)
	}

	rec := h.do(t, http.MethodPost, "/admin/token", nil, map[string]string{"X-Admin-Key": "admin-key"})
	var tok struct {
		Token string `json:"token"`
	}
	decode(t, rec, &tok)
	if rec.Code != http.StatusOK || tok.Token == "" {
		t.Fatalf("mint: %d", rec.Code)
	}
	bearer := map[string]string{"Authorization": "Bearer " + tok.Token}

	if rec := h.do(t, http.MethodPost, "/agent/queue/pause", nil, bearer); rec.Code != http.StatusOK {
		t.Fatalf("pause: %d %s", rec.Code, rec.Body.String())
	}
	paused, _ := h.gw.Health(context.Background())
	if !paused.Paused {
		t.Fatal("queue not paused")
	}
	if rec := h.do(t, http.MethodPost, "/agent/chat/sync", map[string]any{"message": "hi"}, nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("sync while paused: %d", rec.Code)
	}
	if rec := h.do(t, http.MethodPost, "/agent/queue/resume", nil, bearer); rec.Code != http.StatusOK {
		t.Fatalf("resume: %d", rec.Code)
	}
	if rec := h.do(t, http.MethodPost, "/agent/queue/clean?olderThanHours=0", nil, bearer); rec.Code != http.StatusBadRequest {
		t.Fatalf("clean 0h: %d", rec.Code)
	}
	if rec := h.do(t, http.MethodPost, "/agent/queue/clean?olderThanHours=24", nil, bearer); rec.Code != http.StatusOK {
		t.Fatalf("clean: %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	l := &denyLimiter{}
	h := newHarness(t, usecase.WaitOptions{}, l)
	rec := h.do(t, http.MethodPost, "/agent/chat", map[string]any{"message": "hi"}, map[string]string{"X-User-Id": "u1"})
	if rec.Code != http.StatusTooManyRequests || l.hits != 1 {
		t.Fatalf("rate limited: %d hits=%d", rec.Code, l.hits)
	}
	if rec := h.do(t, http.MethodGet, "/agent/queue/stats", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("stats is not limited: %d", rec.Code)
	}
}

func TestSessionRoutes(t *testing.T) {
	h := newHarness(t, usecase.WaitOptions{}, nil)
	if rec := h.do(t, http.MethodGet, "/agent/session/none", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing session: %d", rec.Code)
	}
	if rec := h.do(t, http.MethodDelete, "/agent/session/none", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete session: %d", rec.Code)
	}
}
