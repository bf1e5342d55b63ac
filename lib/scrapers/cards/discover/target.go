package discover

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"cardsexport/lib/htmlutil"
	"cardsexport/lib/scrapers/cards/core"
	"cardsexport/lib/textutil"
)

// Target is a parsed export destination: either one deck or a whole
// collection on a cards site.
type Target struct {
	BaseUrl      string
	Collection   bool
	CollectionID string
	Deck         DeckRef
}

// ParseTarget classifies a pasted URL. Deck pages look like
// /details/{id}?bag_id={bag}, collections like /collection/{id}.
func ParseTarget(raw string) (Target, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return Target{}, fmt.Errorf("url %q must be absolute, with scheme and host", raw)
	}
	base := parsed.Scheme + "://" + parsed.Host

	if _, rest, ok := strings.Cut(parsed.Path, "/collection/"); ok && rest != "" {
		return Target{
			BaseUrl:      base,
			Collection:   true,
			CollectionID: strings.SplitN(rest, "/", 2)[0],
		}, nil
	}
	if _, rest, ok := strings.Cut(parsed.Path, "/details/"); ok && rest != "" {
		deckID := strings.SplitN(rest, "/", 2)[0]
		bagID := parsed.Query().Get("bag_id")
		return Target{
			BaseUrl: base,
			Deck:    DeckRef{DeckID: deckID, BagID: bagID},
		}, nil
	}
	return Target{}, fmt.Errorf("url %q is neither a deck details page nor a collection page", raw)
}

// FetchDeckTitle reads the deck's display name off its details page.
// Falls back to a generated name rather than failing; the title only
// labels the exported hierarchy.
func FetchDeckTitle(ctx context.Context, client *core.Client, ref DeckRef) string {
	fallback := fmt.Sprintf("Deck %s", ref.DeckID)

	res, err := client.Http.R().
		SetContext(ctx).
		SetQueryParam("bag_id", ref.BagID).
		Get("/details/" + ref.DeckID)
	if err != nil || res.StatusCode() >= 400 {
		return fallback
	}
	doc, err := htmlutil.ParseDocument(res.Body())
	if err != nil {
		return fallback
	}
	for _, selector := range []string{"h3.deck-name", "h1", "h2", ".deck-title", "title"} {
		text := textutil.CollapseWhitespace(doc.Find(selector).First().Text())
		if len(text) > 3 {
			return text
		}
	}
	return fallback
}
