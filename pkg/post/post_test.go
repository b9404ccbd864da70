package post

import "testing"

func TestContentHash_OrderIndependentOfMediaInput(t *testing.T) {
	h1 := ContentHash("title", "body", []string{"b.png", "a.png"})
	h2 := ContentHash("title", "body", []string{"a.png", "b.png"})
	if h1 != h2 {
		t.Errorf("ContentHash should sort media URLs before hashing: %q != %q", h1, h2)
	}
}

func TestContentHash_ChangesWithContent(t *testing.T) {
	h1 := ContentHash("title", "body", nil)
	h2 := ContentHash("title", "body2", nil)
	if h1 == h2 {
		t.Error("ContentHash should differ when body differs")
	}
}

func TestContentHash_Deterministic(t *testing.T) {
	h1 := ContentHash("t", "b", []string{"x"})
	h2 := ContentHash("t", "b", []string{"x"})
	if h1 != h2 {
		t.Error("ContentHash should be deterministic")
	}
}

func TestCanTransitionTakedown(t *testing.T) {
	tests := []struct {
		from, to TakedownStatus
		want     bool
	}{
		{TakedownActive, TakedownPending, true},
		{TakedownPending, TakedownRemoved, true},
		{TakedownPending, TakedownActive, true},
		{TakedownActive, TakedownRemoved, false},
		{TakedownRemoved, TakedownActive, false},
		{TakedownRemoved, TakedownPending, false},
		{TakedownActive, TakedownActive, false},
	}
	for _, tt := range tests {
		if got := CanTransitionTakedown(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionTakedown(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestValidTagCount(t *testing.T) {
	tests := []struct {
		tags []string
		want bool
	}{
		{nil, false},
		{[]string{"a"}, false},
		{[]string{"a", "b"}, false},
		{[]string{"a", "b", "c"}, true},
		{[]string{"a", "b", "c", "d", "e"}, true},
		{[]string{"a", "b", "c", "d", "e", "f"}, false},
	}
	for _, tt := range tests {
		if got := ValidTagCount(tt.tags); got != tt.want {
			t.Errorf("ValidTagCount(%v) = %v, want %v", tt.tags, got, tt.want)
		}
	}
}
