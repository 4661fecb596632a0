package parser

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultListingDomains portals whose links are treated as listings
var DefaultListingDomains = []string{"homegate.ch", "immoscout24.ch", "flatfox.ch"}

var anyURLRegex = regexp.MustCompile(`https?://[^\s<>"']+`)

// LinkExtractor finds listing URLs in email bodies and chat messages
type LinkExtractor struct {
	domains   []string
	textRegex *regexp.Regexp
	html      *HTMLParser
}

// NewLinkExtractor creates a link extractor for the given portal domains
func NewLinkExtractor(domains []string) *LinkExtractor {
	if len(domains) == 0 {
		domains = DefaultListingDomains
	}

	normalized := make([]string, 0, len(domains))
	quoted := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		normalized = append(normalized, d)
		quoted = append(quoted, regexp.QuoteMeta(d))
	}

	return &LinkExtractor{
		domains:   normalized,
		textRegex: regexp.MustCompile(`(?i)https?://[^\s<>"']*(?:` + strings.Join(quoted, "|") + `)[^\s<>"']*`),
		html:      NewHTMLParser(),
	}
}

// Extract returns the unique listing URLs of a message in order of appearance.
// Anchors of the HTML body come first, then URLs written out in the text.
func (e *LinkExtractor) Extract(htmlBody, textBody string) []string {
	var found []string

	if htmlBody != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody)); err == nil {
			doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
				href, _ := s.Attr("href")
				found = append(found, href)
			})
			found = append(found, e.textRegex.FindAllString(e.html.Text(doc), -1)...)
		}
	}
	found = append(found, e.textRegex.FindAllString(textBody, -1)...)

	var urls []string
	seen := make(map[string]bool)
	for _, raw := range found {
		u := cleanURL(raw)
		if u == "" || seen[u] || !e.IsListingURL(u) {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

// IsListingURL returns true if u is an http(s) URL on one of the portal domains
func (e *LinkExtractor) IsListingURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, d := range e.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// SplitURL separates the first URL from a chat message.
// Returns the message without the URL and the URL, or the message and "" if none.
func SplitURL(message string) (string, string) {
	loc := anyURLRegex.FindStringIndex(message)
	if loc == nil {
		return strings.TrimSpace(message), ""
	}
	u := cleanURL(message[loc[0]:loc[1]])
	rest := message[:loc[0]] + " " + message[loc[1]:]
	return strings.Join(strings.Fields(rest), " "), u
}

// cleanURL trims whitespace, trailing punctuation and trailing slashes
func cleanURL(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimRight(u, ".,;:!?)]")
	u = strings.TrimRight(u, "/")
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return ""
	}
	return u
}
