package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkExtractor_Extract(t *testing.T) {
	e := NewLinkExtractor(nil)

	html := `<html><body>
<a href="https://www.homegate.ch/rent/4000123/">View listing</a>
<a href="https://www.homegate.ch/rent/4000123">Same listing</a>
<a href="https://unsubscribe.example.com/x">Unsubscribe</a>
<p>Also https://flatfox.ch/en/flat/555/ in text</p>
</body></html>`
	text := "New match:\nhttps://www.immoscout24.ch/rent/9911 \nhttps://www.homegate.ch/rent/4000123/\n"

	urls := e.Extract(html, text)
	assert.Equal(t, []string{
		"https://www.homegate.ch/rent/4000123",
		"https://flatfox.ch/en/flat/555",
		"https://www.immoscout24.ch/rent/9911",
	}, urls)
}

func TestLinkExtractor_ExtractNoListings(t *testing.T) {
	e := NewLinkExtractor(nil)
	urls := e.Extract(`<a href="https://example.com">x</a>`, "nothing here https://example.org/homegate")
	assert.Empty(t, urls)
}

func TestLinkExtractor_HostMustMatch(t *testing.T) {
	e := NewLinkExtractor([]string{"homegate.ch"})
	assert.True(t, e.IsListingURL("https://homegate.ch/rent/1"))
	assert.True(t, e.IsListingURL("https://www.homegate.ch/rent/1"))
	assert.False(t, e.IsListingURL("https://nothomegate.ch/rent/1"))
	assert.False(t, e.IsListingURL("https://example.com/?next=homegate.ch"))
	assert.False(t, e.IsListingURL("ftp://homegate.ch/rent/1"))
}

func TestLinkExtractor_CustomDomains(t *testing.T) {
	e := NewLinkExtractor([]string{" Comparis.CH "})
	urls := e.Extract("", "see https://www.comparis.ch/immobilien/1, thanks")
	assert.Equal(t, []string{"https://www.comparis.ch/immobilien/1"}, urls)
}

func TestSplitURL(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantText string
		wantURL  string
	}{
		{
			name:     "url at end",
			message:  "rent 3-room Zürich max CHF 3000 https://www.homegate.ch/rent/1/",
			wantText: "rent 3-room Zürich max CHF 3000",
			wantURL:  "https://www.homegate.ch/rent/1",
		},
		{
			name:     "url in middle",
			message:  "is https://example.com/flat good for me?",
			wantText: "is good for me?",
			wantURL:  "https://example.com/flat",
		},
		{
			name:     "no url",
			message:  "  I need an apartment in Bern ",
			wantText: "I need an apartment in Bern",
			wantURL:  "",
		},
		{
			name:     "only url",
			message:  "https://flatfox.ch/en/flat/1",
			wantText: "",
			wantURL:  "https://flatfox.ch/en/flat/1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, u := SplitURL(tt.message)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantURL, u)
		})
	}
}
