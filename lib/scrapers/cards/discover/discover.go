package discover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"cardsexport/lib/htmlutil"
	"cardsexport/lib/scrapers/cards/core"
	"cardsexport/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/cards/discover")

var ErrNoCards = fmt.Errorf("no cards discovered")

// DeckRef identifies one deck to enumerate.
type DeckRef struct {
	DeckID string
	BagID  string
	// Limit truncates the discovered id list when positive.
	Limit int
}

// Result is what a strategy hands onward: card ids in discovery order
// plus whatever patient names it happened to collect.
type Result struct {
	CardIDs  []string
	Patients []string
	// PatientMapped reports a strict 1:1 patient to card
	// correspondence, honored downstream instead of round-robin.
	PatientMapped bool
	// Sequential marks ids that came from the sequential walkthrough
	// and must not be grouped by patient.
	Sequential bool
}

// Strategy is one way of enumerating a deck's card ids. A strategy
// that finds nothing returns an error; the coordinator moves on.
type Strategy interface {
	Name() string
	Discover(ctx context.Context, ref DeckRef) (Result, error)
}

// DefaultStrategies returns the strategies in their fixed priority
// order: printable bulk listing, sequential walkthrough, per-patient
// traversal.
func DefaultStrategies(client *core.Client) []Strategy {
	return []Strategy{
		&PrintDeck{Client: client},
		&Sequential{Client: client},
		&PatientPages{Client: client},
	}
}

// Discover tries each strategy in order and returns the first
// non-empty result. Only when every strategy is exhausted does the
// deck fail as a whole.
func Discover(ctx context.Context, strategies []Strategy, ref DeckRef) (Result, error) {
	ctx, span := tracer.Start(ctx, "Discover")
	defer span.End()

	var errs []error
	for _, strategy := range strategies {
		result, err := strategy.Discover(ctx, ref)
		if err != nil {
			slog.WarnContext(
				ctx, "discovery strategy failed",
				"strategy", strategy.Name(),
				"deck", ref.DeckID,
				"err", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))
			continue
		}
		if len(result.CardIDs) == 0 {
			errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), ErrNoCards))
			continue
		}

		if ref.Limit > 0 && ref.Limit < len(result.CardIDs) {
			result.CardIDs = result.CardIDs[:ref.Limit]
			if result.PatientMapped && len(result.Patients) > ref.Limit {
				result.Patients = result.Patients[:ref.Limit]
			}
		}
		slog.InfoContext(
			ctx, "discovered cards",
			"strategy", strategy.Name(),
			"deck", ref.DeckID,
			"count", len(result.CardIDs),
		)
		return result, nil
	}

	span.SetStatus(codes.Error, "all discovery strategies exhausted")
	return Result{}, fmt.Errorf("all discovery strategies failed for deck %s: %w", ref.DeckID, errors.Join(errs...))
}

var patientNameSelectors = []string{
	"div.patients > div > h3",
	"div.patients h3",
	"div.patients h4",
	"div.patients .patient-name",
	".patient h3",
	".patient-title",
	"h3[class*='patient']",
	"div[class*='patient'] h3",
}

// fetchPatients collects patient names from the deck details page.
// Best effort: an empty list is fine.
func fetchPatients(ctx context.Context, client *core.Client, ref DeckRef) []string {
	res, err := client.Http.R().
		SetContext(ctx).
		SetQueryParam("bag_id", ref.BagID).
		Get("/details/" + ref.DeckID)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch deck details for patients", "deck", ref.DeckID, "err", err)
		return nil
	}
	doc, err := htmlutil.ParseDocument(res.Body())
	if err != nil {
		return nil
	}

	var patients []string
	seen := make(map[string]bool)
	appendName := func(name string) {
		name = textutil.CollapseWhitespace(name)
		key := textutil.NormalizeName(name)
		if len(name) > 2 && !seen[key] {
			patients = append(patients, name)
			seen[key] = true
		}
	}

	for _, selector := range patientNameSelectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			appendName(sel.Text())
		})
		if len(patients) > 0 {
			break
		}
	}
	if len(patients) == 0 {
		doc.Find("a[href*='/patient/']").Each(func(_ int, sel *goquery.Selection) {
			appendName(sel.Text())
		})
	}
	return patients
}

// DeckInfo describes one deck discovered on a collection listing page.
type DeckInfo struct {
	DeckID     string
	BagID      string
	Title      string
	DetailsURL string
}

// ListCollection parses a collection page into its title and deck
// entries.
func ListCollection(ctx context.Context, client *core.Client, collectionID string) (string, []DeckInfo, error) {
	ctx, span := tracer.Start(ctx, "ListCollection")
	defer span.End()

	res, err := client.Http.R().
		SetContext(ctx).
		Get("/collection/" + collectionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch collection page")
		return "", nil, err
	}
	if res.StatusCode() >= 400 {
		span.SetStatus(codes.Error, "collection page returned an error status")
		return "", nil, fmt.Errorf("collection %s returned status %d", collectionID, res.StatusCode())
	}
	doc, err := htmlutil.ParseDocument(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse collection html")
		return "", nil, err
	}

	title := fmt.Sprintf("Collection %s", collectionID)
	for _, selector := range []string{"h3.bag-name", "h1", ".collection-title", ".page-title"} {
		text := textutil.CollapseWhitespace(doc.Find(selector).First().Text())
		if len(text) > 3 {
			title = text
			break
		}
	}

	var decks []DeckInfo
	seen := make(map[string]bool)
	doc.Find("a[href*='/details/']").Each(func(_ int, sel *goquery.Selection) {
		href := sel.AttrOr("href", "")
		link, err := url.Parse(href)
		if err != nil {
			return
		}
		_, rest, ok := strings.Cut(link.Path, "/details/")
		if !ok || rest == "" {
			return
		}
		deckID := strings.SplitN(rest, "/", 2)[0]
		if seen[deckID] {
			return
		}
		seen[deckID] = true

		bagID := link.Query().Get("bag_id")
		if bagID == "" {
			bagID = collectionID
		}
		deckTitle := textutil.CollapseWhitespace(sel.Text())
		if deckTitle == "" {
			deckTitle = fmt.Sprintf("Deck %s", deckID)
		}
		decks = append(decks, DeckInfo{
			DeckID:     deckID,
			BagID:      bagID,
			Title:      deckTitle,
			DetailsURL: href,
		})
	})
	if len(decks) == 0 {
		span.SetStatus(codes.Error, "no deck links found")
		return title, nil, fmt.Errorf("no deck links found in collection %s", collectionID)
	}

	return title, decks, nil
}
