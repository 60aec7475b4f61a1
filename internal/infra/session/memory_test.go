//go:build !integration

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/model"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := m.Get(ctx, "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}

	s, _ := m.Append(ctx, "a", base, model.NewTurn(model.RoleUser, "hi", time.Time{}))
	if len(s.Turns) != 1 || !s.Turns[0].Timestamp.Equal(base) {
		t.Fatalf("session = %+v", s)
	}
	// returned sessions are copies
	s.Turns[0].Content = "mutated"
	got, _ := m.Get(ctx, "a")
	if got.Turns[0].Content != "hi" {
		t.Fatal("store shares memory with callers")
	}

	_, _ = m.Append(ctx, "b", base.Add(25*time.Minute), model.NewTurn(model.RoleUser, "yo", base))
	n, _ := m.SweepExpired(ctx, base.Add(31*time.Minute), 30*time.Minute)
	if n != 1 {
		t.Fatalf("swept %d", n)
	}
	if _, err := m.Get(ctx, "b"); err != nil {
		t.Fatalf("active session swept: %v", err)
	}
	_ = m.Delete(ctx, "b")
	if _, err := m.Get(ctx, "b"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("delete failed")
	}
}
