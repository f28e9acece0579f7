package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := Newf(BadQuery, "unbalanced quotes in %q", `"movie`)
	if got := KindOf(err); got != BadQuery {
		t.Errorf("KindOf = %q, want %q", got, BadQuery)
	}

	wrapped := fmt.Errorf("search failed: %w", err)
	if got := KindOf(wrapped); got != BadQuery {
		t.Errorf("KindOf through wrap = %q, want %q", got, BadQuery)
	}
}

func TestIsMatchesOnKind(t *testing.T) {
	a := New(Conflict, errors.New("dimension 768 != 1536"))
	b := New(Conflict, nil)
	if !errors.Is(a, b) {
		t.Error("expected two Conflict errors to match")
	}
	if errors.Is(a, New(NotFound, nil)) {
		t.Error("Conflict must not match NotFound")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}
