package discover

import (
	"context"
	"fmt"
	"log/slog"

	"cardsexport/lib/htmlutil"
	"cardsexport/lib/scrapers/cards/core"
	"cardsexport/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

var patientEntrySelectors = []string{
	"div.patients > div.patient[rel]",
	"div.patient[rel]",
	".patient[rel]",
	"[class*='patient'][rel]",
}

// cardLinkSelectors are tried in priority order when searching a
// patient page for its embedded card id.
var cardLinkSelectors = []string{
	"a[href*='/card/']",
	"form[action*='/card/']",
	"[data-card-id]",
	"button[onclick]",
	"a[onclick]",
}

// PatientPages enumerates the patient entries on the deck details page
// and visits each patient's own page to find its card. The resulting
// patient to card mapping is strictly 1:1.
type PatientPages struct {
	Client *core.Client
}

func (s *PatientPages) Name() string {
	return "patients"
}

func (s *PatientPages) Discover(ctx context.Context, ref DeckRef) (Result, error) {
	ctx, span := tracer.Start(ctx, "patients:Discover")
	defer span.End()

	res, err := s.Client.Http.R().
		SetContext(ctx).
		SetQueryParam("bag_id", ref.BagID).
		Get("/details/" + ref.DeckID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch deck details page")
		return Result{}, err
	}
	doc, err := htmlutil.ParseDocument(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse deck details html")
		return Result{}, err
	}

	var entries *goquery.Selection
	for _, selector := range patientEntrySelectors {
		entries = doc.Find(selector)
		if entries.Length() > 0 {
			break
		}
	}
	if entries == nil || entries.Length() == 0 {
		span.SetStatus(codes.Error, "no patient entries on details page")
		return Result{}, fmt.Errorf("no patient entries found for deck %s", ref.DeckID)
	}

	var ids []string
	var patients []string
	entries.Each(func(_ int, entry *goquery.Selection) {
		rel := entry.AttrOr("rel", "")
		if rel == "" {
			return
		}
		name := textutil.CollapseWhitespace(entry.Find("h3").First().Text())
		if name == "" {
			name = fmt.Sprintf("Patient %s", rel)
		}

		cardID, err := s.findCard(ctx, rel)
		if err != nil {
			slog.WarnContext(ctx, "no card found for patient", "patient", name, "err", err)
			return
		}
		ids = append(ids, cardID)
		patients = append(patients, name)
	})

	if len(ids) == 0 {
		span.SetStatus(codes.Error, "patient traversal found no cards")
		return Result{}, fmt.Errorf("patient traversal found no cards for deck %s", ref.DeckID)
	}

	return Result{
		CardIDs:       ids,
		Patients:      patients,
		PatientMapped: true,
	}, nil
}

// findCard visits a patient page and searches the prioritized pattern
// list for an embedded card id.
func (s *PatientPages) findCard(ctx context.Context, patientRel string) (string, error) {
	res, err := s.Client.Http.R().
		SetContext(ctx).
		Get("/patient/" + patientRel)
	if err != nil {
		return "", err
	}
	doc, err := htmlutil.ParseDocument(res.Body())
	if err != nil {
		return "", err
	}

	for _, selector := range cardLinkSelectors {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			for _, attr := range []string{"href", "action", "onclick"} {
				if m := cardURLRegex.FindStringSubmatch(sel.AttrOr(attr, "")); m != nil {
					found = m[1]
					return false
				}
			}
			if id := sel.AttrOr("data-card-id", ""); id != "" {
				found = id
				return false
			}
			return true
		})
		if found != "" {
			return found, nil
		}
	}
	return "", fmt.Errorf("no card reference on patient page %s", patientRel)
}
