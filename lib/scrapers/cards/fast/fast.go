package fast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cardsexport/lib/scrapers/cards/core"
	"cardsexport/lib/scrapers/cards/discover"
	"cardsexport/lib/scrapers/cards/extract"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/cards/fast")

const (
	DefaultConcurrency = 10
	DefaultSessionTTL  = 10 * time.Minute

	// authFailureThreshold is how many consecutive auth-looking
	// failures trip a forced re-login.
	authFailureThreshold = 3
	maxCardAttempts      = 3
)

// Orchestrator runs card extraction concurrently over a shared
// session, refreshing the login when it goes stale and falling back to
// a sequential pass for cards the concurrent pass could not finish.
type Orchestrator struct {
	Client      *core.Client
	Strategies  []discover.Strategy
	Concurrency int
	SessionTTL  time.Duration
	// Relogin re-establishes the session. Nil disables refresh.
	Relogin func(ctx context.Context) error

	fastExtractor *extract.Extractor
	slowExtractor *extract.Extractor

	authMu       sync.Mutex
	authFailures atomic.Int64
}

func New(client *core.Client, relogin func(ctx context.Context) error) *Orchestrator {
	fast := extract.NewExtractor(client, nil)
	fast.RequireSolution = true
	return &Orchestrator{
		Client:        client,
		Strategies:    discover.DefaultStrategies(client),
		Relogin:       relogin,
		fastExtractor: fast,
		slowExtractor: extract.NewExtractor(client, nil),
	}
}

func (o *Orchestrator) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return DefaultConcurrency
}

func (o *Orchestrator) sessionTTL() time.Duration {
	if o.SessionTTL > 0 {
		return o.SessionTTL
	}
	return DefaultSessionTTL
}

// ScrapeDeck discovers a deck's cards and extracts them all. Card
// order in the result is not guaranteed.
func (o *Orchestrator) ScrapeDeck(ctx context.Context, ref discover.DeckRef, deckTitle string) ([]extract.Card, error) {
	ctx, span := tracer.Start(ctx, "orchestrator:ScrapeDeck")
	defer span.End()
	span.SetAttributes(attribute.String("deck", ref.DeckID))

	result, err := discover.Discover(ctx, o.Strategies, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		return nil, err
	}

	cards, failed := o.extractConcurrent(ctx, result, deckTitle)
	if len(failed) > 0 {
		slog.InfoContext(ctx, "retrying failed cards sequentially",
			"deck", ref.DeckID, "failed", len(failed))
		cards = append(cards, o.extractSlow(ctx, result, failed, deckTitle)...)
	}
	if len(cards) == 0 {
		span.SetStatus(codes.Error, "no cards extracted")
		return nil, fmt.Errorf("deck %s produced no cards", ref.DeckID)
	}
	return cards, nil
}

// ScrapeCollection scrapes every deck listed on a collection page,
// carrying on past individual deck failures.
func (o *Orchestrator) ScrapeCollection(ctx context.Context, collectionID string) (string, []extract.Card, error) {
	ctx, span := tracer.Start(ctx, "orchestrator:ScrapeCollection")
	defer span.End()

	title, decks, err := discover.ListCollection(ctx, o.Client, collectionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list collection")
		return "", nil, err
	}

	var cards []extract.Card
	var lastErr error
	for _, deck := range decks {
		deckCards, err := o.ScrapeDeck(ctx, discover.DeckRef{DeckID: deck.DeckID, BagID: deck.BagID}, deck.Title)
		if err != nil {
			slog.ErrorContext(ctx, "failed to scrape deck, continuing",
				"deck", deck.DeckID, "title", deck.Title, "err", err)
			lastErr = err
			continue
		}
		cards = append(cards, deckCards...)
	}
	if len(cards) == 0 && lastErr != nil {
		span.SetStatus(codes.Error, "every deck in the collection failed")
		return "", nil, fmt.Errorf("collection %s: every deck failed: %w", collectionID, lastErr)
	}
	return title, cards, nil
}

func (o *Orchestrator) extractConcurrent(ctx context.Context, result discover.Result, deckTitle string) ([]extract.Card, []int) {
	sem := make(chan struct{}, o.concurrency())
	var wg sync.WaitGroup

	var mu sync.Mutex
	var cards []extract.Card
	var failed []int

	for i, id := range result.CardIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			card, err := o.extractWithRetry(ctx, result, i, id, deckTitle)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.WarnContext(ctx, "fast extraction failed", "card", id, "err", err)
				failed = append(failed, i)
				return
			}
			cards = append(cards, card)
		}(i, id)
	}
	wg.Wait()
	return cards, failed
}

func (o *Orchestrator) extractWithRetry(ctx context.Context, result discover.Result, i int, id, deckTitle string) (extract.Card, error) {
	var lastErr error
	for attempt := 0; attempt < maxCardAttempts; attempt++ {
		if err := o.ensureSession(ctx); err != nil {
			return extract.Card{}, err
		}
		card, err := o.fastExtractor.ExtractCard(ctx, id, extract.AssignPatient(result, i), deckTitle)
		if err == nil {
			o.authFailures.Store(0)
			finalize(&card, result)
			return card, nil
		}
		lastErr = err
		if authSuspect(err) {
			o.authFailures.Add(1)
			continue
		}
		if errors.Is(err, extract.ErrEmptyCard) {
			// Nothing on the page; the slow pass gets one more look.
			break
		}
	}
	return extract.Card{}, lastErr
}

// extractSlow is the fallback pass: sequential, with the forgiving
// extractor that keeps a card even when scoring degrades.
func (o *Orchestrator) extractSlow(ctx context.Context, result discover.Result, failed []int, deckTitle string) []extract.Card {
	var cards []extract.Card
	for _, i := range failed {
		if err := o.ensureSession(ctx); err != nil {
			slog.ErrorContext(ctx, "session refresh failed during slow pass", "err", err)
			return cards
		}
		id := result.CardIDs[i]
		card, err := o.slowExtractor.ExtractCard(ctx, id, extract.AssignPatient(result, i), deckTitle)
		if err != nil {
			slog.ErrorContext(ctx, "slow extraction failed, dropping card", "card", id, "err", err)
			continue
		}
		finalize(&card, result)
		cards = append(cards, card)
	}
	return cards
}

// ensureSession re-logs-in when the session aged past the TTL or too
// many requests in a row looked unauthenticated. Serialized so a burst
// of concurrent failures triggers one login, not ten.
func (o *Orchestrator) ensureSession(ctx context.Context) error {
	if o.Relogin == nil {
		return nil
	}
	o.authMu.Lock()
	defer o.authMu.Unlock()

	if o.Client.SessionAge() < o.sessionTTL() && o.authFailures.Load() < authFailureThreshold {
		return nil
	}
	slog.InfoContext(ctx, "refreshing session",
		"age", o.Client.SessionAge(), "auth_failures", o.authFailures.Load())
	if err := o.Relogin(ctx); err != nil {
		return fmt.Errorf("session refresh failed: %w", err)
	}
	o.authFailures.Store(0)
	return nil
}

// authSuspect reports whether a failure looks like an expired session
// rather than a broken card: a 401/403 page, or HTML where JSON was
// expected.
func authSuspect(err error) bool {
	var statusErr *extract.HttpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == 401 || statusErr.Code == 403
	}
	return errors.Is(err, extract.ErrNotJson)
}

func finalize(card *extract.Card, result discover.Result) {
	if result.Sequential {
		card.Sequential = true
		card.PatientInfo = extract.SequentialPatient
		card.Tags = append(card.Tags, "Sequential_Extraction")
	}
}
