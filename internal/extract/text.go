package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// VisibleText reduces an HTML document to whitespace-collapsed visible text.
// mailto: and tel: targets are appended because they rarely appear in the
// anchor text itself.
func VisibleText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template, svg, iframe").Remove()

	var b strings.Builder
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		b.WriteString(title)
		b.WriteString("\n")
	}
	b.WriteString(strings.Join(strings.Fields(doc.Find("body").Text()), " "))

	var targets []string
	seen := make(map[string]struct{})
	doc.Find(`a[href^="mailto:"], a[href^="tel:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if _, dup := seen[href]; dup || href == "" {
			return
		}
		seen[href] = struct{}{}
		targets = append(targets, href)
	})
	if len(targets) > 0 {
		b.WriteString("\nContact links: ")
		b.WriteString(strings.Join(targets, " "))
	}
	return b.String(), nil
}
