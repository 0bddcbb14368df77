package log

import (
	"context"
	"errors"
	"testing"
)

func TestNop_DiscardsEverything(t *testing.T) {
	l := Nop()
	ctx := context.Background()

	l.Debug(ctx, "d", "k", 1)
	l.Info(ctx, "i")
	l.Warn(ctx, "w")
	l.Error(ctx, errors.New("boom"), "e")
	l.Error(ctx, nil, "nil error")

	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestNop_WithReturnsNop(t *testing.T) {
	child := Nop().With("a", 1).With("b", 2)
	if _, ok := child.(nopLogger); !ok {
		t.Fatalf("With() returned %T, want nopLogger", child)
	}
}
