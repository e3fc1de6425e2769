package fetcher

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const excerptLen = 200

var spaces = regexp.MustCompile(`\s+`)

// stripHTML returns the visible text of an HTML fragment with whitespace collapsed.
func stripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.TrimSpace(spaces.ReplaceAllString(fragment, " "))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(spaces.ReplaceAllString(doc.Text(), " "))
}

// firstImage returns the src of the first <img> in an HTML fragment.
func firstImage(fragment string, accept func(src string) bool) string {
	if !strings.Contains(fragment, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	var found string
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if src != "" && (accept == nil || accept(src)) {
			found = src
			return false
		}
		return true
	})
	return found
}

// excerpt cuts text to excerptLen runes, appending an ellipsis when cut.
func excerpt(text string) string {
	if utf8.RuneCountInString(text) <= excerptLen {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:excerptLen])) + "..."
}

// wpPostID recovers the WordPress post id from a "?p=123" style permalink.
func wpPostID(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	p := u.Query().Get("p")
	if p == "" || strings.Trim(p, "0123456789") != "" {
		return ""
	}
	return p
}

// resolve makes href absolute against base.
func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
