package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractImageURLs(t *testing.T) {
	markdown := `# Loft
![Living room](https://media.homegate.ch/1.jpg)
![Kitchen](https://media.homegate.ch/2.webp "kitchen")
Floor plan: https://media.homegate.ch/plan.png?w=800
![Living room again](https://media.homegate.ch/1.jpg)`
	html := `<img src="https://media.homegate.ch/3.jpg"><img src="data:image/png;base64,xx"><img src="/relative.jpg">`

	urls := ExtractImageURLs(markdown, html, 10)
	assert.Equal(t, []string{
		"https://media.homegate.ch/1.jpg",
		"https://media.homegate.ch/2.webp",
		"https://media.homegate.ch/plan.png?w=800",
		"https://media.homegate.ch/3.jpg",
	}, urls)
}

func TestExtractImageURLs_Limit(t *testing.T) {
	markdown := "![a](https://x.ch/1.jpg) ![b](https://x.ch/2.jpg) ![c](https://x.ch/3.jpg) ![d](https://x.ch/4.jpg)"
	html := `<img src="https://x.ch/5.jpg">`

	urls := ExtractImageURLs(markdown, html, 3)
	assert.Equal(t, []string{"https://x.ch/1.jpg", "https://x.ch/2.jpg", "https://x.ch/3.jpg"}, urls)
}

func TestExtractImageURLs_Empty(t *testing.T) {
	urls := ExtractImageURLs("no images", "", 3)
	assert.NotNil(t, urls)
	assert.Empty(t, urls)

	assert.Empty(t, ExtractImageURLs("![a](https://x.ch/1.jpg)", "", 0))
}
