package gatherer

import (
	"net/url"
	"strings"
)

var sourceDomains = []struct {
	kind    string
	domains []string
}{
	{"video", []string{"youtube.com", "youtu.be", "vimeo.com"}},
	{"academic", []string{
		"arxiv.org", "doi.org", "openreview.net", "semanticscholar.org", "scholar.google.com",
		"ncbi.nlm.nih.gov", "acm.org", "ieee.org", "springer.com", "nature.com",
		"sciencedirect.com", "researchgate.net", "aclanthology.org", "jstor.org",
	}},
	{"reference", []string{"wikipedia.org", "britannica.com", "developer.mozilla.org", "wiktionary.org"}},
	{"news", []string{
		"reuters.com", "apnews.com", "bbc.com", "bbc.co.uk", "nytimes.com", "theguardian.com",
		"bloomberg.com", "cnn.com", "techcrunch.com", "theverge.com", "wired.com", "arstechnica.com",
		"ft.com", "wsj.com",
	}},
}

// ClassifySource tags a url as web, news, academic, pdf, video or reference
// from its host and path alone.
func ClassifySource(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "web"
	}

	if strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return "pdf"
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, group := range sourceDomains {
		for _, d := range group.domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return group.kind
			}
		}
	}

	switch {
	case strings.HasSuffix(host, ".edu") || strings.Contains(host, ".ac."):
		return "academic"
	case strings.HasPrefix(host, "news.") || strings.Contains(u.Path, "/news/"):
		return "news"
	}
	return "web"
}
