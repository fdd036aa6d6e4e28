// Package markup converts the forum chatbox's lightweight markup and HTML
// into the subset Telegram renders in HTML parse mode.
package markup

import (
	"regexp"
	"strings"
)

var (
	userMentionRe = regexp.MustCompile(`\[USER=\d+\]@([^\]]+)\[/USER\]`)
	tooltipRe     = regexp.MustCompile(`\[tooltip=\d+\]([^\]]+)\[/tooltip\]`)
	urlTagRe      = regexp.MustCompile(`\[url="?([^"\]]+)"?\](.*?)\[/url\]`)
	htmlTagRe     = regexp.MustCompile(`<[^>]+>`)
	imgTagRe      = regexp.MustCompile(`\[img\](.*?)\[/img\]`)
	htmlImgRe     = regexp.MustCompile(`<img[^>]+src=['"]([^'"]+)['"]`)
	newlineRunRe  = regexp.MustCompile(`\n{3,}`)
)

var entityReplacer = strings.NewReplacer(
	"&quot;", `"`,
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&nbsp;", " ",
)

// Clean strips chatbox markup from text and returns the Telegram-renderable
// form. Total on any input: unmatched constructs pass through unchanged.
//
// [USER=<id>]@name[/USER] mentions become @name, tooltips collapse to their
// inner text, stray HTML tags are dropped, [url] tags become anchors, HTML
// entities are unescaped and runs of blank lines are squeezed.
func Clean(text string) string {
	text = userMentionRe.ReplaceAllString(text, "@$1")
	text = tooltipRe.ReplaceAllString(text, "$1")
	text = htmlTagRe.ReplaceAllString(text, "")
	text = urlTagRe.ReplaceAllString(text, `<a href="$1">$2</a>`)
	text = entityReplacer.Replace(text)
	text = newlineRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// ExtractImages pulls image URLs out of both representations of a message
// body: [img] tags from the markup body (which are also removed from the
// returned body) and <img src> tags from the HTML body. The returned list is
// order-stable and contains no duplicates regardless of overlap between the
// two bodies.
func ExtractImages(plainBody, htmlBody string) (string, []string) {
	var images []string
	seen := make(map[string]bool)

	for _, m := range imgTagRe.FindAllStringSubmatch(plainBody, -1) {
		if url := m[1]; !seen[url] {
			seen[url] = true
			images = append(images, url)
		}
	}
	plainBody = imgTagRe.ReplaceAllString(plainBody, "")

	for _, m := range htmlImgRe.FindAllStringSubmatch(htmlBody, -1) {
		if url := m[1]; !seen[url] {
			seen[url] = true
			images = append(images, url)
		}
	}

	return strings.TrimSpace(plainBody), images
}
