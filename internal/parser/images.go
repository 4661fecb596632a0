package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	markdownImageRegex = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^\s)]+)`)
	rawImageRegex      = regexp.MustCompile(`(?i)https?://[^\s<>"')]+\.(?:jpe?g|png|webp)(?:\?[^\s<>"')]*)?`)
)

// ExtractImageURLs collects listing image URLs from scraped markdown and HTML.
// Markdown images come first, then raw image links, then <img> tags.
// The result is unique, keeps order of appearance and holds at most limit entries.
func ExtractImageURLs(markdown, html string, limit int) []string {
	if limit <= 0 {
		return []string{}
	}

	urls := make([]string, 0, limit)
	seen := make(map[string]bool)
	add := func(u string) bool {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return len(urls) < limit
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return len(urls) < limit
		}
		seen[u] = true
		urls = append(urls, u)
		return len(urls) < limit
	}

	for _, m := range markdownImageRegex.FindAllStringSubmatch(markdown, -1) {
		if !add(m[1]) {
			return urls
		}
	}
	for _, u := range rawImageRegex.FindAllString(markdown, -1) {
		if !add(u) {
			return urls
		}
	}

	if html == "" {
		return urls
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return urls
	}
	doc.Find("img[src]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		return add(src)
	})

	return urls
}
