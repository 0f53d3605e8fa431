package scenario

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/drover/internal/models"
)

// pageRule is one page-type classification rule. Any matcher triggers it.
type pageRule struct {
	pageType  string
	paths     []*regexp.Regexp // against the URL path
	query     []string         // query keys
	selectors []string         // DOM signals, checked only when HTML is present
}

// pageRules are evaluated in order; first match wins
var pageRules = []pageRule{
	{
		pageType:  models.PageTypeSearch,
		paths:     []*regexp.Regexp{regexp.MustCompile(`(?i)/(search|results|find)(/|$)`)},
		query:     []string{"q", "query", "search", "s", "keyword"},
		selectors: []string{`form[role="search"] ~ .results`, `[data-testid="search-results"]`},
	},
	{
		pageType: models.PageTypeProduct,
		paths: []*regexp.Regexp{
			regexp.MustCompile(`(?i)/(product|products|item|p|dp|shop)/`),
		},
		selectors: []string{
			`[itemtype*="schema.org/Product"]`,
			`meta[property="og:type"][content="product"]`,
			`[itemprop="price"]`,
			`button[name="add-to-cart"], .add-to-cart, #add-to-cart`,
		},
	},
	{
		pageType: models.PageTypeArticle,
		paths: []*regexp.Regexp{
			regexp.MustCompile(`(?i)/(blog|news|article|articles|post|posts|story)/`),
			regexp.MustCompile(`/\d{4}/\d{2}/`),
		},
		selectors: []string{
			`meta[property="og:type"][content="article"]`,
			`[itemtype*="schema.org/Article"]`,
			`article p`,
		},
	},
}

// ClassifyPage assigns a coarse page type from the URL and, when present, the page HTML
func ClassifyPage(page models.PageContext) string {
	u, err := url.Parse(page.URL)
	if err != nil {
		return models.PageTypeGeneric
	}

	var doc *goquery.Document
	if strings.TrimSpace(page.HTML) != "" {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	}

	for _, rule := range pageRules {
		if rule.matches(u, doc) {
			return rule.pageType
		}
	}

	if u.Path == "" || u.Path == "/" || strings.EqualFold(u.Path, "/index.html") {
		return models.PageTypeHomepage
	}
	return models.PageTypeGeneric
}

func (r pageRule) matches(u *url.URL, doc *goquery.Document) bool {
	for _, re := range r.paths {
		if re.MatchString(u.Path) {
			return true
		}
	}

	q := u.Query()
	for _, key := range r.query {
		if q.Get(key) != "" {
			return true
		}
	}

	if doc != nil {
		for _, sel := range r.selectors {
			if doc.Find(sel).Length() > 0 {
				return true
			}
		}
	}
	return false
}
