package publisher

import (
	"testing"

	"github.com/devco/forumblog-pipeline/pkg/post"
)

func TestNormalizeTag_LowercasesAndHyphenates(t *testing.T) {
	got := normalizeTag("  Cloud Infra  ")
	if got != "cloud-infra" {
		t.Errorf("normalizeTag() = %q, want %q", got, "cloud-infra")
	}
}

func TestNormalizeTag_StripsSpecialChars(t *testing.T) {
	got := normalizeTag("C++ tips!")
	if got != "c-tips" {
		t.Errorf("normalizeTag() = %q, want %q", got, "c-tips")
	}
}

func TestNormalizeTag_AppliesCanonicalSubstitution(t *testing.T) {
	got := normalizeTag("Artificial Intelligence")
	if got != "ai" {
		t.Errorf("normalizeTag() = %q, want %q", got, "ai")
	}
}

func TestSourcePermalink_BuildsForumURL(t *testing.T) {
	p := post.Post{Subreddit: "golang", SourcePostID: "abc123"}
	got := sourcePermalink(p)
	want := "https://reddit.com/r/golang/comments/abc123"
	if got != want {
		t.Errorf("sourcePermalink() = %q, want %q", got, want)
	}
}

func TestExtensionFor_PNGAndDefault(t *testing.T) {
	if got := extensionFor("image/png"); got != ".png" {
		t.Errorf("extensionFor(image/png) = %q, want .png", got)
	}
	if got := extensionFor("image/jpeg"); got != ".jpg" {
		t.Errorf("extensionFor(image/jpeg) = %q, want .jpg", got)
	}
}
