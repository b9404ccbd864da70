package forum

import "testing"

func TestExtractMediaURLs_SkipsSelfPosts(t *testing.T) {
	p := Post{URL: "https://forum.example/r/x/comments/abc", Permalink: "https://forum.example/r/x/comments/abc"}
	if got := ExtractMediaURLs(p); got != nil {
		t.Errorf("ExtractMediaURLs(self post) = %v, want nil", got)
	}
}

func TestExtractMediaURLs_ReturnsLinkedMedia(t *testing.T) {
	p := Post{URL: "https://i.redd.it/abc123.jpg", Permalink: "https://forum.example/r/x/comments/abc"}
	got := ExtractMediaURLs(p)
	if len(got) != 1 || got[0] != p.URL {
		t.Errorf("ExtractMediaURLs() = %v, want [%s]", got, p.URL)
	}
}

func TestFetchTopPosts_RejectsTimeFilterWithoutTop(t *testing.T) {
	c := &Client{}
	_, err := c.FetchTopPosts(nil, ListingOptions{Sort: SortHot, TimeFilter: "day"}) //nolint:staticcheck
	if err == nil {
		t.Fatal("expected validation error for time_filter without sort=top")
	}
}
