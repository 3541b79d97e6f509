package extract

import (
	"net/url"
	"sort"
	"strings"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

// ContactKeywords are the terms that mark a link as a likely contact surface.
var ContactKeywords = []string{
	"contact", "team", "partner", "attorney", "staff", "profile", "bio",
	"leadership", "phone", "email", "office", "location", "people", "about",
}

// ScoreLinks ranks links by keyword hits in the URL path and anchor text.
// Non-http(s) links and duplicates are dropped. The result is sorted by
// descending score, ties kept in page order.
func ScoreLinks(links []leads.Link, keywords []string) []leads.ScoredLink {
	seen := make(map[string]struct{}, len(links))
	out := make([]leads.ScoredLink, 0, len(links))
	for _, link := range links {
		u, err := url.Parse(link.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		u.Fragment = ""
		canonical := u.String()
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}

		path := strings.ToLower(u.EscapedPath() + "?" + u.RawQuery)
		text := strings.ToLower(link.Text)
		var score float64
		for _, kw := range keywords {
			if strings.Contains(path, kw) {
				score++
			}
			if strings.Contains(text, kw) {
				score += 0.5
			}
		}
		out = append(out, leads.ScoredLink{URL: canonical, Text: link.Text, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// LinkSets are the prioritized follow-up URLs for one site.
type LinkSets struct {
	Internal []string
	External []string
}

// SplitLinks partitions scored links into same-site and off-site sets,
// keeping those at or above threshold and at most maxInternal/maxExternal
// of each. The page itself is never returned.
func SplitLinks(pageURL string, links []leads.ScoredLink, threshold float64, maxInternal, maxExternal int) LinkSets {
	var sets LinkSets
	base, err := url.Parse(pageURL)
	if err != nil {
		return sets
	}
	self := strings.TrimRight(base.String(), "/")
	for _, link := range links {
		if link.Score < threshold || strings.TrimRight(link.URL, "/") == self {
			continue
		}
		u, err := url.Parse(link.URL)
		if err != nil {
			continue
		}
		if SameSite(base.Hostname(), u.Hostname()) {
			if len(sets.Internal) < maxInternal {
				sets.Internal = append(sets.Internal, link.URL)
			}
			continue
		}
		if len(sets.External) < maxExternal {
			sets.External = append(sets.External, link.URL)
		}
	}
	return sets
}

// SameSite compares hosts case-insensitively, ignoring a leading "www.".
func SameSite(a, b string) bool {
	norm := func(h string) string {
		return strings.TrimPrefix(strings.ToLower(h), "www.")
	}
	return norm(a) != "" && norm(a) == norm(b)
}
