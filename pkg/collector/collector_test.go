package collector

import (
	"testing"

	"github.com/devco/forumblog-pipeline/pkg/forum"
)

func TestShouldDrop_NSFW(t *testing.T) {
	p := forum.Post{Over18: true, Score: 100, NumComments: 100}
	reason, drop := shouldDrop(p, Policy{MinScore: 0, MinComments: 0})
	if !drop || reason != "nsfw" {
		t.Errorf("shouldDrop() = (%q, %v), want (\"nsfw\", true)", reason, drop)
	}
}

func TestShouldDrop_BelowMinScore(t *testing.T) {
	p := forum.Post{Score: 5, NumComments: 100}
	reason, drop := shouldDrop(p, Policy{MinScore: 10, MinComments: 0})
	if !drop || reason != "below_min_score" {
		t.Errorf("shouldDrop() = (%q, %v), want (\"below_min_score\", true)", reason, drop)
	}
}

func TestShouldDrop_BelowMinComments(t *testing.T) {
	p := forum.Post{Score: 100, NumComments: 1}
	reason, drop := shouldDrop(p, Policy{MinScore: 0, MinComments: 5})
	if !drop || reason != "below_min_comments" {
		t.Errorf("shouldDrop() = (%q, %v), want (\"below_min_comments\", true)", reason, drop)
	}
}

func TestShouldDrop_AcceptsQualifyingPost(t *testing.T) {
	p := forum.Post{Score: 100, NumComments: 50, Over18: false}
	_, drop := shouldDrop(p, Policy{MinScore: 10, MinComments: 5})
	if drop {
		t.Error("expected a qualifying post not to be dropped")
	}
}

func TestShouldDrop_NSFWTakesPrecedence(t *testing.T) {
	p := forum.Post{Over18: true, Score: -100, NumComments: -1}
	reason, drop := shouldDrop(p, Policy{MinScore: 0, MinComments: 0})
	if !drop || reason != "nsfw" {
		t.Errorf("shouldDrop() = (%q, %v), want (\"nsfw\", true) to take precedence", reason, drop)
	}
}
