package articletemplate

import (
	"strings"
	"testing"

	"github.com/devco/forumblog-pipeline/pkg/post"
)

func TestRender_OmitsMissingSectionsButKeepsOrder(t *testing.T) {
	in := Input{
		Title:           "A title",
		SummaryKO:       "a summary",
		OriginalBody:    "the original body",
		SourcePermalink: "https://forum.example/r/x/comments/abc",
		SourceAuthor:    "some_user",
	}
	out := Render(in)

	summaryIdx := strings.Index(out, "summary")
	bodyIdx := strings.Index(out, "original-body")
	attributionIdx := strings.Index(out, "attribution")

	if !(summaryIdx < bodyIdx && bodyIdx < attributionIdx) {
		t.Errorf("expected summary < original-body < attribution ordering, got indices %d,%d,%d", summaryIdx, bodyIdx, attributionIdx)
	}
	if strings.Contains(out, "pain-points") {
		t.Error("expected pain-points section to be omitted when PainPoints is nil")
	}
}

func TestRender_IncludesPainPointsWhenPresent(t *testing.T) {
	in := Input{
		SummaryKO:       "s",
		SourcePermalink: "https://forum.example/x",
		PainPoints: &post.PainPoints{
			Points: []post.PainPoint{{Point: "slow load", Severity: post.LevelHigh, Category: "perf"}},
		},
	}
	out := Render(in)
	if !strings.Contains(out, "slow load") {
		t.Error("expected pain point text to be rendered")
	}
}

func TestRender_AlwaysIncludesAttribution(t *testing.T) {
	out := Render(Input{SourcePermalink: "https://forum.example/x"})
	if !strings.Contains(out, "attribution") {
		t.Error("attribution block should always be present")
	}
}

func TestAttributionNotice_IncludesSourceAndAuthor(t *testing.T) {
	notice := AttributionNotice("https://forum.example/x", "author1")
	if !strings.Contains(notice, "https://forum.example/x") || !strings.Contains(notice, "author1") {
		t.Errorf("AttributionNotice() = %q, missing source or author", notice)
	}
}
