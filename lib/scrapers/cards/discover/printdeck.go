package discover

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"cardsexport/lib/htmlutil"
	"cardsexport/lib/scrapers/cards/core"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

var solutionIDRegex = regexp.MustCompile(`/solution/(\d+)/`)

// PrintDeck discovers cards from the printable bulk listing page,
// which carries one submit control per card with the card id embedded
// in its rel attribute.
type PrintDeck struct {
	Client *core.Client
}

func (s *PrintDeck) Name() string {
	return "printdeck"
}

func (s *PrintDeck) Discover(ctx context.Context, ref DeckRef) (Result, error) {
	ctx, span := tracer.Start(ctx, "printdeck:Discover")
	defer span.End()

	res, err := s.Client.Http.R().
		SetContext(ctx).
		SetQueryParam("bag_id", ref.BagID).
		Get("/printdeck/" + ref.DeckID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch printdeck page")
		return Result{}, err
	}
	if res.StatusCode() >= 400 {
		span.SetStatus(codes.Error, "printdeck page returned an error status")
		return Result{}, fmt.Errorf("printdeck page returned status %d", res.StatusCode())
	}

	doc, err := htmlutil.ParseDocument(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse printdeck html")
		return Result{}, err
	}
	title := doc.Find("title").Text()
	if strings.Contains(title, "Error 403") || strings.Contains(string(res.Body()), "Access denied") {
		span.SetStatus(codes.Error, "printdeck page not accessible")
		return Result{}, fmt.Errorf("printdeck page not accessible for deck %s", ref.DeckID)
	}

	var ids []string
	seen := make(map[string]bool)
	doc.Find("div.submit button").Each(func(_ int, button *goquery.Selection) {
		rel := button.AttrOr("rel", "")
		if !strings.Contains(rel, "/solution/") {
			return
		}
		m := solutionIDRegex.FindStringSubmatch(rel)
		if m == nil || seen[m[1]] {
			return
		}
		seen[m[1]] = true
		ids = append(ids, m[1])
	})
	if len(ids) == 0 {
		span.SetStatus(codes.Error, "no card ids on printdeck page")
		return Result{}, fmt.Errorf("no card ids found on printdeck page for deck %s", ref.DeckID)
	}

	return Result{
		CardIDs:  ids,
		Patients: fetchPatients(ctx, s.Client, ref),
	}, nil
}
