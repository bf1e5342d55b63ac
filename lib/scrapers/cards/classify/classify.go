package classify

import (
	"fmt"
	"regexp"
	"strings"

	"cardsexport/lib/htmlutil"
	"cardsexport/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

// IsPortrait decides whether an image should be filtered out as a
// portrait/headshot. The checks run in strict priority order and any
// medical indicator wins outright; when nothing matches the image is
// filtered (fail closed).
func (kt *KeywordTable) IsPortrait(src, alt, title, class string) bool {
	srcLower := strings.ToLower(src)
	allText := strings.Join([]string{
		srcLower,
		strings.ToLower(alt),
		strings.ToLower(title),
		strings.ToLower(class),
	}, " ")

	if textutil.ContainsAny(allText, kt.Medical) {
		return false
	}
	if textutil.ContainsAny(allText, kt.UILogo) {
		return true
	}
	if textutil.ContainsAny(allText, kt.Portrait) {
		return true
	}

	if strings.Contains(srcLower, "jpg") || strings.Contains(srcLower, "jpeg") || strings.Contains(srcLower, "png") {
		if textutil.ContainsAny(srcLower, kt.PortraitFiles) {
			return true
		}
	}
	if textutil.ContainsAny(srcLower, kt.PortraitPaths) {
		return true
	}
	if textutil.ContainsAny(allText, kt.TitleHints) {
		return true
	}

	if textutil.ContainsAny(allText, kt.Educational) {
		return false
	}
	return true
}

// Vitals holds one monitor panel's readings. Every field is
// independently optional and defaults to "N/A".
type Vitals struct {
	HeartRate     string
	SpO2          string
	RespRate      string
	Temperature   string
	BloodPressure string
}

func vitalsField(sel *goquery.Selection, selector string) string {
	value := strings.TrimSpace(sel.Find(selector).First().Text())
	if value == "" {
		return "N/A"
	}
	return value
}

// ExtractVitals reads a vital-signs monitor panel. A missing sub-field
// never aborts extraction of the rest.
func ExtractVitals(sel *goquery.Selection) Vitals {
	return Vitals{
		HeartRate:     vitalsField(sel, ".hr span"),
		SpO2:          vitalsField(sel, ".o2 span"),
		RespRate:      vitalsField(sel, ".rr span"),
		Temperature:   vitalsField(sel, ".temp span"),
		BloodPressure: vitalsField(sel, ".bp span"),
	}
}

// Html renders the readings as a fixed-layout monitor table, styled
// inline so the output stays portable.
func (v Vitals) Html() string {
	var b strings.Builder
	b.WriteString(`<div class="vital-signs-monitor" style="border: 2px solid #333; background: #1a1a1a; color: #00ff00; padding: 15px; margin: 10px 0; border-radius: 8px; font-family: 'Courier New', monospace; clear: both; display: block;">`)
	b.WriteString(`<h3 style="color: #00ff00; text-align: center; margin: 0 0 15px 0; font-size: 16px;">VITAL SIGNS MONITOR</h3>`)
	b.WriteString(`<table style="width: 100%; border-collapse: collapse; color: #00ff00;">`)
	rows := []struct {
		label, value string
	}{
		{"Heart Rate:", v.HeartRate + " bpm"},
		{"SpO2:", v.SpO2 + "%"},
		{"Respiratory Rate:", v.RespRate + " BrPM"},
		{"Temperature:", v.Temperature + "&deg;C"},
		{"Blood Pressure:", v.BloodPressure},
	}
	for i, row := range rows {
		border := ` border-bottom: 1px solid #00ff00;`
		if i == len(rows)-1 {
			border = ""
		}
		fmt.Fprintf(
			&b,
			`<tr style="%s"><td style="padding: 8px; font-weight: bold; color: #00ff00;">%s</td><td style="padding: 8px; color: #ffff00; font-size: 18px; font-weight: bold;">%s</td></tr>`,
			strings.TrimSpace(border), row.label, row.value,
		)
	}
	b.WriteString(`</table></div>`)
	return b.String()
}

var (
	tableStyleRegex = regexp.MustCompile(`<table([^>]*)>`)
	tdStyleRegex    = regexp.MustCompile(`<td([^>]*)>`)
	thStyleRegex    = regexp.MustCompile(`<th([^>]*)>`)
)

// normalizeTable inlines borders and padding so the table survives
// outside the site's stylesheet.
func normalizeTable(tableHtml string) string {
	out := tableStyleRegex.ReplaceAllString(
		tableHtml,
		`<table$1 style="border-collapse: collapse; margin: 10px 0; border: 1px solid #ccc; width: 100%;">`,
	)
	out = tdStyleRegex.ReplaceAllString(out, `<td$1 style="border: 1px solid #ccc; padding: 8px;">`)
	out = thStyleRegex.ReplaceAllString(out, `<th$1 style="border: 1px solid #ccc; padding: 8px; background: #f5f5f5; font-weight: bold;">`)
	return out
}

func cardContainer(doc *goquery.Document) *goquery.Selection {
	container := doc.Find("body > div > div.container.card")
	if container.Length() == 0 {
		container = doc.Find("div.container.card")
	}
	return container
}

// ExtractBackground aggregates the card page's contextual content:
// vital-signs monitors, medical tables, chart placeholders and
// classified text blocks, deduplicated by normalized text.
func (kt *KeywordTable) ExtractBackground(doc *goquery.Document) string {
	var parts []string
	container := cardContainer(doc)

	container.Find("div.group.box.monitor").Each(func(_ int, monitor *goquery.Selection) {
		parts = append(parts, ExtractVitals(monitor).Html())
	})

	container.Find("table").Each(func(i int, table *goquery.Selection) {
		tableHtml := htmlutil.OuterHTML(table)
		if tableHtml == "" {
			return
		}
		parts = append(parts, fmt.Sprintf(
			"<div><h4>Medical Data Table %d:</h4>%s</div>", i+1, normalizeTable(tableHtml),
		))
	})

	// Canvas charts are not extractable, only a labeled placeholder.
	container.Find("canvas").Each(func(i int, canvas *goquery.Selection) {
		id := canvas.AttrOr("id", fmt.Sprintf("Chart_%d", i+1))
		parts = append(parts, fmt.Sprintf(
			`<div style="border: 1px solid #ccc; padding: 10px; margin: 10px 0;"><h4>Medical Chart: %s</h4><p>Interactive chart/graph content</p></div>`, id,
		))
	})

	container.Find("div.block.group").Each(func(_ int, div *goquery.Selection) {
		if div.Find("table, canvas, .monitor").Length() > 0 {
			return
		}
		text := textutil.CollapseWhitespace(div.Text())
		if len(text) <= 20 {
			return
		}

		// Option markers outrank medical keywords: a lettered list is a
		// question, not a finding.
		isOptions := false
		for _, marker := range kt.OptionMarkers {
			if strings.Contains(text, marker) {
				isOptions = true
				break
			}
		}
		switch {
		case isOptions:
			parts = append(parts, fmt.Sprintf("<div><h4>Question Options:</h4><p>%s</p></div>", text))
		case textutil.ContainsAny(text, kt.MedicalText):
			parts = append(parts, fmt.Sprintf("<div><h4>Medical Information:</h4><p>%s</p></div>", text))
		}
	})

	if len(parts) == 0 {
		seen := make(map[string]bool)
		container.Find("div").Each(func(_ int, div *goquery.Selection) {
			if div.Find("div, table, canvas, img, form").Length() > 0 {
				return
			}
			text := textutil.CollapseWhitespace(div.Text())
			if len(text) > 30 && !seen[text] {
				parts = append(parts, fmt.Sprintf("<div><p>%s</p></div>", text))
				seen[text] = true
			}
		})
		if len(parts) == 0 {
			container.Find("p").Each(func(_ int, p *goquery.Selection) {
				text := textutil.CollapseWhitespace(p.Text())
				if len(text) > 20 && !seen[text] {
					parts = append(parts, fmt.Sprintf("<p>%s</p>", text))
					seen[text] = true
				}
			})
		}
	}

	seen := make(map[string]bool)
	var unique []string
	for _, part := range parts {
		cleaned := textutil.CollapseWhitespace(part)
		if cleaned == "" || seen[cleaned] || len(cleaned) <= 20 {
			continue
		}
		seen[cleaned] = true
		unique = append(unique, strings.TrimSpace(part))
	}

	return strings.Join(unique, "<br/><br/>")
}

// FallbackText harvests plain paragraph and div text from the card
// container when the structured background pass comes up short.
func FallbackText(doc *goquery.Document) string {
	container := cardContainer(doc)

	var parts []string
	seen := make(map[string]bool)

	container.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := textutil.CollapseWhitespace(p.Text())
		if len(text) > 20 && !seen[text] {
			parts = append(parts, fmt.Sprintf("<p>%s</p>", text))
			seen[text] = true
		}
	})
	container.Find("div").Each(func(_ int, div *goquery.Selection) {
		if div.Find("p, table, img, canvas").Length() > 0 {
			return
		}
		text := textutil.CollapseWhitespace(div.Text())
		if len(text) > 30 && !seen[text] {
			parts = append(parts, fmt.Sprintf("<div>%s</div>", text))
			seen[text] = true
		}
	})

	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, "<br/>")
}

var (
	fontFamilyStyleRegex = regexp.MustCompile(`style\s*=\s*["'][^"']*font-family[^"']*["']`)
	spanRegex            = regexp.MustCompile(`(?s)<span[^>]*>(.*?)</span>`)
	emptyStyleRegex      = regexp.MustCompile(`\s+style\s*=\s*["']["']`)
	trailingSpaceRegex   = regexp.MustCompile(`\s+>`)
)

// NormalizeFeedback strips the inconsistent inline styling feedback
// blocks arrive with and promotes paragraph-sized spans to paragraphs.
func NormalizeFeedback(html string) string {
	if html == "" {
		return html
	}

	html = fontFamilyStyleRegex.ReplaceAllString(html, "")
	html = spanRegex.ReplaceAllStringFunc(html, func(span string) string {
		content := spanRegex.FindStringSubmatch(span)[1]
		if len(strings.TrimSpace(content)) > 20 {
			return "<p>" + content + "</p>"
		}
		return "<span>" + content + "</span>"
	})
	html = emptyStyleRegex.ReplaceAllString(html, "")
	html = trailingSpaceRegex.ReplaceAllString(html, ">")
	return html
}

var (
	portraitDivRegex = regexp.MustCompile(`(?s)<div[^>]*class=["'][^"']*portrait[^"']*["'][^>]*>.*?</div>`)
	svgRegex         = regexp.MustCompile(`(?s)<svg[^>]*>.*?</svg>`)
	imgRegex         = regexp.MustCompile(`<img[^>]*>`)

	imgSrcRegex   = regexp.MustCompile(`src=["']([^"']+)["']`)
	imgAltRegex   = regexp.MustCompile(`alt=["']([^"']*)["']`)
	imgTitleRegex = regexp.MustCompile(`title=["']([^"']*)["']`)
	imgClassRegex = regexp.MustCompile(`class=["']([^"']*)["']`)
)

func attrValue(re *regexp.Regexp, tag string) string {
	m := re.FindStringSubmatch(tag)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// StripPortraits removes portrait containers, portrait-looking inline
// SVGs and portrait img tags from an HTML fragment while keeping
// medical imagery.
func (kt *KeywordTable) StripPortraits(html string) string {
	if html == "" {
		return html
	}

	html = portraitDivRegex.ReplaceAllString(html, "")

	html = svgRegex.ReplaceAllStringFunc(html, func(svg string) string {
		portraitCount := textutil.CountMatches(svg, kt.SVGPortrait)
		medicalCount := textutil.CountMatches(svg, kt.SVGMedical)
		if portraitCount > 0 && medicalCount < portraitCount*2 {
			return ""
		}
		return svg
	})

	html = imgRegex.ReplaceAllStringFunc(html, func(tag string) string {
		if kt.IsPortrait(
			attrValue(imgSrcRegex, tag),
			attrValue(imgAltRegex, tag),
			attrValue(imgTitleRegex, tag),
			attrValue(imgClassRegex, tag),
		) {
			return ""
		}
		return tag
	})

	return html
}
