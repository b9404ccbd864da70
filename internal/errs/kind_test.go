package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindTransient, errors.New("boom"))
	k, ok := KindOf(err)
	if !ok || k != KindTransient {
		t.Fatalf("KindOf() = %v, %v, want KindTransient, true", k, ok)
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	if ok {
		t.Fatal("expected unclassified error to report ok=false")
	}
}

func TestIs(t *testing.T) {
	err := Newf(KindBudget, "over cap: %d", 100)
	if !Is(err, KindBudget) {
		t.Error("expected Is(err, KindBudget) to be true")
	}
	if Is(err, KindTerminal) {
		t.Error("expected Is(err, KindTerminal) to be false")
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := New(KindTerminal, inner)
	if !errors.Is(err, inner) {
		t.Error("Classified should unwrap to the inner error")
	}
}

func TestWrapsThroughFmtErrorf(t *testing.T) {
	err := fmt.Errorf("context: %w", New(KindIntegrity, errors.New("dup")))
	if !Is(err, KindIntegrity) {
		t.Error("KindOf should see through fmt.Errorf wrapping")
	}
}

func TestNewNilError(t *testing.T) {
	if New(KindTransient, nil) != nil {
		t.Error("New with nil error should return nil")
	}
}
