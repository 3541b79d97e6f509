package extract

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

// Blocklist matches hosts against exact names and "*.suffix" / ".suffix"
// wildcards. A nil Blocklist blocks nothing.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewBlocklist compiles patterns. It returns nil when no pattern is usable.
func NewBlocklist(patterns []string) *Blocklist {
	b := &Blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// Blocked reports whether host matches a pattern. A suffix pattern also
// matches the bare domain.
func (b *Blocklist) Blocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Filter drops links whose host is blocked. Unparseable URLs are dropped too.
func (b *Blocklist) Filter(links []leads.ScoredLink) []leads.ScoredLink {
	if b == nil {
		return links
	}
	out := make([]leads.ScoredLink, 0, len(links))
	for _, link := range links {
		u, err := url.Parse(link.URL)
		if err != nil || b.Blocked(u.Hostname()) {
			continue
		}
		out = append(out, link)
	}
	return out
}
