package scenario

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// maxContextChars bounds the page text sent to the LLM
const maxContextChars = 4000

// condensePage reduces page HTML to readable markdown for the prompt, and
// lists the interactive elements the LLM may target
func condensePage(html, baseURL string) (markdown string, targets []string) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", nil
	}
	doc.Find("script, style, noscript, svg, iframe").Remove()

	targets = interactiveTargets(doc)

	cleaned, err := doc.Html()
	if err != nil {
		return "", targets
	}

	converter := md.NewConverter(baseURL, true, nil)
	markdown, err = converter.ConvertString(cleaned)
	if err != nil {
		markdown = strings.Join(strings.Fields(doc.Text()), " ")
	}

	markdown = strings.TrimSpace(markdown)
	if len(markdown) > maxContextChars {
		markdown = strings.ToValidUTF8(markdown[:maxContextChars], "")
	}
	return markdown, targets
}

// interactiveTargets returns stable CSS selectors for links, buttons and inputs
func interactiveTargets(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var targets []string

	doc.Find("a[id], button[id], input[id], select[id], textarea[id], [data-testid]").Each(func(i int, s *goquery.Selection) {
		if len(targets) >= 25 {
			return
		}
		var sel string
		if id, ok := s.Attr("id"); ok && id != "" {
			sel = "#" + id
		} else if tid, ok := s.Attr("data-testid"); ok && tid != "" {
			sel = `[data-testid="` + tid + `"]`
		}
		if sel != "" && !seen[sel] {
			seen[sel] = true
			targets = append(targets, sel)
		}
	})
	return targets
}
