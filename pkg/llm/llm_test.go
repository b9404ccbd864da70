package llm

import (
	"errors"
	"testing"

	"github.com/devco/forumblog-pipeline/internal/errs"
)

func TestParseTags_RejectsOutOfRangeCount(t *testing.T) {
	_, err := parseTags(`["one","two"]`)
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected KindValidation, got %v", err)
	}
}

func TestParseTags_AcceptsValidCount(t *testing.T) {
	tags, err := parseTags(`["a","b","c"]`)
	if err != nil {
		t.Fatalf("parseTags() error = %v", err)
	}
	if len(tags) != 3 {
		t.Errorf("len(tags) = %d, want 3", len(tags))
	}
}

func TestParseArtifacts_RejectsUnknownFields(t *testing.T) {
	_, _, err := parseArtifacts(`{"pain_points": {}, "product_ideas": {}, "extra": 1}`)
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected KindValidation for unknown field, got %v", err)
	}
}

func TestParseArtifacts_RoundTrips(t *testing.T) {
	raw := `{
		"pain_points": {"points": [{"point": "slow onboarding", "severity": "high", "category": "ux"}], "meta": {"version": "v1", "generated_at": "2026-08-01T00:00:00Z"}},
		"product_ideas": {"ideas": [{"idea": "onboarding wizard", "feasibility": "medium", "market_size": "large"}], "meta": {"version": "v1", "generated_at": "2026-08-01T00:00:00Z"}}
	}`
	pp, pi, err := parseArtifacts(raw)
	if err != nil {
		t.Fatalf("parseArtifacts() error = %v", err)
	}
	if len(pp.Points) != 1 || pp.Points[0].Category != "ux" {
		t.Errorf("pain points = %+v", pp)
	}
	if len(pi.Ideas) != 1 || pi.Ideas[0].MarketSize != "large" {
		t.Errorf("product ideas = %+v", pi)
	}
}

func TestShouldFallback_TransientAndValidationFallBack(t *testing.T) {
	if !shouldFallback(errs.New(errs.KindTransient, errors.New("boom"))) {
		t.Error("transient errors should trigger fallback")
	}
	if !shouldFallback(errs.New(errs.KindValidation, errors.New("boom"))) {
		t.Error("validation errors should trigger fallback")
	}
}

func TestShouldFallback_TerminalDoesNotFallBack(t *testing.T) {
	if shouldFallback(errs.New(errs.KindTerminal, errors.New("boom"))) {
		t.Error("terminal errors should not trigger fallback")
	}
}

func TestEstimateTokens_ScalesWithLength(t *testing.T) {
	short := EstimateTokens("hi", "there")
	long := EstimateTokens("hi", "there, this is a much longer body of text for estimation purposes")
	if long <= short {
		t.Errorf("EstimateTokens should grow with content length: short=%d long=%d", short, long)
	}
}
