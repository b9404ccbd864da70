// Package articletemplate renders a Post into the blog platform's HTML
// body, per spec §4.3: a fixed section order (title, summary, pain
// points, product ideas, original body, attribution), with missing
// sections omitted but order preserved. A rendering failure falls back to
// a minimal safe HTML body so a template bug never blocks publishing
// entirely.
package articletemplate

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/devco/forumblog-pipeline/pkg/post"
)

// Input is everything the template needs to render one article.
type Input struct {
	Title            string
	SummaryKO        string
	PainPoints       *post.PainPoints
	ProductIdeas     *post.ProductIdeas
	OriginalBody     string
	SourcePermalink  string
	SourceAuthor     string
}

var articleTmpl = template.Must(template.New("article").Parse(`
{{- if .Title}}<h1 class="title">{{.Title}}</h1>{{end -}}
{{- if .SummaryKO}}<section class="summary"><h2>Summary</h2><p>{{.SummaryKO}}</p></section>{{end -}}
{{- if .PainPoints}}<section class="pain-points"><h2>Pain points</h2><ul>{{range .PainPoints.Points}}<li><strong>[{{.Severity}}]</strong> {{.Point}} ({{.Category}})</li>{{end}}</ul></section>{{end -}}
{{- if .ProductIdeas}}<section class="product-ideas"><h2>Product ideas</h2><ul>{{range .ProductIdeas.Ideas}}<li>{{.Idea}} — feasibility: {{.Feasibility}}, market: {{.MarketSize}}</li>{{end}}</ul></section>{{end -}}
{{- if .OriginalBody}}<section class="original-body"><h2>Original post</h2><p>{{.OriginalBody}}</p></section>{{end -}}
<section class="attribution"><p>Source: <a href="{{.SourcePermalink}}">{{.SourcePermalink}}</a>. Original author: {{.SourceAuthor}}. Media and usernames belong to their original owners. If you are the author or a rights holder and want this content removed, contact us and it will be taken down.</p></section>
`))

// Render produces the article body HTML in the fixed section order.
// Sections whose corresponding Input field is empty/nil are omitted; the
// attribution block is always present. On any rendering error, Render
// falls back to a minimal safe body containing only title, summary, and
// attribution.
func Render(in Input) string {
	var buf bytes.Buffer
	if err := articleTmpl.Execute(&buf, in); err != nil {
		return fallback(in)
	}
	return buf.String()
}

func fallback(in Input) string {
	var title string
	if in.Title != "" {
		title = fmt.Sprintf(`<h1 class="title">%s</h1>`, template.HTMLEscapeString(in.Title))
	}
	return fmt.Sprintf(
		`%s<section class="summary"><h2>Summary</h2><p>%s</p></section><section class="attribution"><p>Source: <a href="%s">%s</a>. Media and usernames belong to their original owners. Contact us to request takedown.</p></section>`,
		title,
		template.HTMLEscapeString(in.SummaryKO),
		template.HTMLEscapeString(in.SourcePermalink),
		template.HTMLEscapeString(in.SourcePermalink),
	)
}

// AttributionNotice is the plain-text equivalent of the attribution block,
// used where HTML isn't appropriate (e.g. audit log metadata).
func AttributionNotice(permalink, author string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s. Original author: %s. ", permalink, author)
	b.WriteString("Media and usernames belong to their original owners. Contact us to request takedown.")
	return b.String()
}
