package fetch

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// ExtractImageURL picks the best image URL for an item.
// Priority: Item.Image > media:thumbnail > media:content (medium=image) >
// image/* enclosure > any enclosure > first <img> in the content.
// Only http/https URLs are accepted.
func ExtractImageURL(item *gofeed.Item) string {
	if item.Image != nil && isValidImageScheme(item.Image.URL) {
		return item.Image.URL
	}

	if mediaExt, ok := item.Extensions["media"]; ok {
		for _, thumb := range mediaExt["thumbnail"] {
			if u := thumb.Attrs["url"]; isValidImageScheme(u) {
				return u
			}
		}
		for _, content := range mediaExt["content"] {
			if content.Attrs["medium"] != "image" {
				continue
			}
			if u := content.Attrs["url"]; isValidImageScheme(u) {
				return u
			}
		}
	}

	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && isValidImageScheme(enc.URL) {
			return enc.URL
		}
	}
	for _, enc := range item.Enclosures {
		if isValidImageScheme(enc.URL) {
			return enc.URL
		}
	}

	body := item.Content
	if body == "" {
		body = item.Description
	}
	return firstImage(body)
}

func firstImage(markup string) string {
	if !strings.Contains(markup, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	var found string
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if isValidImageScheme(src) {
			found = src
			return false
		}
		return true
	})
	return found
}

func isValidImageScheme(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
