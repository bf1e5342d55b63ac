package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var imgSrcRegex = regexp.MustCompile(`<img[^>]*\bsrc=["']([^"']+)["'][^>]*>`)

// pageImages downloads every non-portrait image on the card page and
// returns them re-encoded as data URLs so the exported deck renders
// offline. Returns "" when the page carries nothing worth keeping.
func (e *Extractor) pageImages(ctx context.Context, doc *goquery.Document) string {
	var tags []string
	seen := make(map[string]bool)
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" || seen[src] {
			return
		}
		seen[src] = true
		if strings.HasPrefix(src, "data:") {
			return
		}
		alt := img.AttrOr("alt", "")
		title := img.AttrOr("title", "")
		class := img.AttrOr("class", "")
		if e.Keywords.IsPortrait(src, alt, title, class) {
			return
		}
		dataURL, err := e.downloadDataURL(ctx, src)
		if err != nil {
			slog.WarnContext(ctx, "failed to download card image", "src", src, "err", err)
			return
		}
		tags = append(tags, fmt.Sprintf(
			`<img src="%s" alt="%s" style="max-width: 100%%; height: auto; margin: 10px 0;">`,
			dataURL, alt,
		))
	})
	if len(tags) == 0 {
		return ""
	}
	return `<div class="extracted-images">` + strings.Join(tags, "") + `</div>`
}

// embedImages rewrites img src attributes inside already-rendered
// feedback HTML into data URLs. Sources that fail to download keep
// their original URL.
func (e *Extractor) embedImages(ctx context.Context, html string) string {
	for _, match := range imgSrcRegex.FindAllStringSubmatch(html, -1) {
		src := match[1]
		if strings.HasPrefix(src, "data:") {
			continue
		}
		dataURL, err := e.downloadDataURL(ctx, src)
		if err != nil {
			slog.WarnContext(ctx, "failed to inline feedback image", "src", src, "err", err)
			continue
		}
		html = strings.ReplaceAll(html, `src="`+src+`"`, `src="`+dataURL+`"`)
		html = strings.ReplaceAll(html, `src='`+src+`'`, `src='`+dataURL+`'`)
	}
	return html
}

func (e *Extractor) downloadDataURL(ctx context.Context, src string) (string, error) {
	if !strings.HasPrefix(src, "/") && !strings.HasPrefix(src, "http") {
		src = "/" + src
	}
	res, err := e.Client.Http.R().
		SetContext(ctx).
		Get(src)
	if err != nil {
		return "", err
	}
	if res.StatusCode() >= 400 {
		return "", fmt.Errorf("image %s returned status %d", src, res.StatusCode())
	}
	body := res.Body()
	if len(body) == 0 {
		return "", fmt.Errorf("image %s returned an empty body", src)
	}
	mime := imageMime(res.Header().Get("Content-Type"), src)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(body), nil
}

func imageMime(contentType, src string) string {
	contentType = strings.ToLower(contentType)
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	if strings.HasPrefix(contentType, "image/") {
		return contentType
	}
	switch {
	case strings.HasSuffix(src, ".jpg"), strings.HasSuffix(src, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(src, ".gif"):
		return "image/gif"
	case strings.HasSuffix(src, ".svg"):
		return "image/svg+xml"
	default:
		return "image/png"
	}
}
