package discover

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"cardsexport/lib/htmlutil"
	"cardsexport/lib/scrapers/cards/core"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

// DefaultExpectedCards is the fallback when the details page carries
// no parseable "X of Y" counter. The site-reported total is only an
// optimization; the iteration cap is the real termination guarantee.
const DefaultExpectedCards = 5

// maxSequentialCards bounds the walk when every other termination
// signal fails to fire.
const maxSequentialCards = 50

var cardURLRegex = regexp.MustCompile(`/card/(\d+)`)

var counterRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Correct:\s*(\d+)\s+of\s+(\d+)`),
	regexp.MustCompile(`(?i)Correct\s*(\d+)\s+of\s+(\d+)`),
	regexp.MustCompile(`(?i)(\d+)\s+of\s+(\d+)`),
}

// Sequential walks the deck in sequential mode, recording each card id
// from the current URL. It stops on a repeated id (cycle), on reaching
// the expected total, on a missing next control, and always at a hard
// iteration cap.
type Sequential struct {
	Client *core.Client
	// MaxCards overrides the hard iteration cap. Zero means the
	// default ceiling.
	MaxCards int
}

func (s *Sequential) Name() string {
	return "sequential"
}

// expectedTotal scrapes the deck details page for an "X of Y" counter.
// "0 of 0" matches are skipped; the last valid total wins.
func (s *Sequential) expectedTotal(ctx context.Context, ref DeckRef) int {
	res, err := s.Client.Http.R().
		SetContext(ctx).
		SetQueryParam("bag_id", ref.BagID).
		Get("/details/" + ref.DeckID)
	if err != nil {
		return DefaultExpectedCards
	}

	for _, re := range counterRegexes {
		matches := re.FindAllStringSubmatch(string(res.Body()), -1)
		total := 0
		for _, m := range matches {
			n, err := strconv.Atoi(m[2])
			if err == nil && n > 0 {
				total = n
			}
		}
		if total > 0 {
			return total
		}
	}
	return DefaultExpectedCards
}

func (s *Sequential) Discover(ctx context.Context, ref DeckRef) (Result, error) {
	ctx, span := tracer.Start(ctx, "sequential:Discover")
	defer span.End()

	expected := s.expectedTotal(ctx, ref)

	ceiling := s.MaxCards
	if ceiling == 0 {
		ceiling = maxSequentialCards
	}
	// Buffer past the reported total, but never past the ceiling.
	maxTry := expected + 3
	if maxTry > ceiling {
		maxTry = ceiling
	}

	res, err := s.Client.Http.R().
		SetContext(ctx).
		SetQueryParam("timer-enabled", "1").
		SetQueryParam("mode", "sequential").
		Get("/deck/" + ref.DeckID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enter sequential mode")
		return Result{}, err
	}

	var ids []string
	seen := make(map[string]bool)

	for i := 0; i < maxTry; i++ {
		currentURL := res.RawResponse.Request.URL.String()

		if m := cardURLRegex.FindStringSubmatch(currentURL); m != nil {
			id := m[1]
			if seen[id] {
				// Cycle: the deck wrapped back around.
				break
			}
			seen[id] = true
			ids = append(ids, id)
		}

		if len(ids) >= expected {
			break
		}

		doc, err := htmlutil.ParseDocument(res.Body())
		if err != nil {
			break
		}
		res, err = s.advance(ctx, doc, currentURL)
		if err != nil {
			// No next control: the walk is over.
			break
		}
	}

	if len(ids) == 0 {
		span.SetStatus(codes.Error, "sequential walk found no cards")
		return Result{}, fmt.Errorf("sequential walk found no cards for deck %s", ref.DeckID)
	}

	return Result{CardIDs: ids, Sequential: true}, nil
}

// advance submits an answer on the current card (selecting the first
// option if one is required) to unlock the next control, then follows
// it.
func (s *Sequential) advance(ctx context.Context, doc *goquery.Document, currentURL string) (*resty.Response, error) {
	if m := cardURLRegex.FindStringSubmatch(currentURL); m != nil {
		option := doc.Find("div.options div.option input").First()
		form := map[string]string{"timer": "1"}
		if value, ok := option.Attr("value"); ok {
			form["guess"] = value
		}
		_, err := s.Client.Http.R().
			SetContext(ctx).
			SetFormData(form).
			Post("/solution/" + m[1] + "/")
		if err != nil {
			return nil, err
		}
	}

	var next string
	for _, selector := range []string{"#next", "a.next", "a[rel='next']", ".next-card a"} {
		if href, ok := doc.Find(selector).First().Attr("href"); ok && href != "" {
			next = href
			break
		}
	}
	if next == "" {
		return nil, fmt.Errorf("no next control on %s", currentURL)
	}

	res, err := s.Client.Http.R().
		SetContext(ctx).
		Get(next)
	if err != nil {
		return nil, err
	}
	return res, nil
}
