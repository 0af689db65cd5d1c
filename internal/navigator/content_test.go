package navigator

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestMainTextPrefersFirstQualifyingSelector(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<html><body>
		<main>short</main>
		<div class="content"><p>alpha</p><p>beta</p></div>
	</body></html>`)

	assert.Equal(t, "alpha beta", MainText(doc, []string{"article", "main", ".content", "body"}, 5))
}

func TestMainTextFallsBackToBody(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<html><body><p>one</p><p>two</p></body></html>`)
	assert.Equal(t, "one two", MainText(doc, []string{"article"}, 100))
}

func TestStripBoilerplate(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<html><body>
		<nav>menu items</nav><header>site header</header>
		<script>var x = 1;</script>
		<div class="sidebar">side</div>
		<p>policy body</p>
		<footer>copyright</footer>
	</body></html>`)
	StripBoilerplate(doc)
	assert.Equal(t, "policy body", NodeText(doc.Find("body")))
}

func TestNodeTextCollapsesWhitespaceAndSkipsScripts(t *testing.T) {
	t.Parallel()

	doc := parse(t, "<div>  a\n\n b <span>c</span><style>.x{}</style></div>")
	assert.Equal(t, "a b c", NodeText(doc.Find("div")))
}

func TestFallbackTextAcceptsAnyNonEmptyMatch(t *testing.T) {
	t.Parallel()

	html := `<html><body><nav>nav</nav><article>tiny article</article></body></html>`
	got := FallbackText(html, "http://site.test/", DefaultContentSelectors)
	assert.Contains(t, got, "tiny article")
	assert.Empty(t, FallbackText("   ", "http://site.test/", DefaultContentSelectors))
}
