package fast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cardsexport/lib/scrapers/cards/core"
	"cardsexport/lib/scrapers/cards/discover"

	"github.com/stretchr/testify/require"
)

type testSite struct {
	mu       sync.Mutex
	requests map[string]int
	mux      *http.ServeMux
	server   *httptest.Server
	loggedIn atomic.Bool
}

func newFastSite(t *testing.T) *testSite {
	site := &testSite{
		requests: make(map[string]int),
		mux:      http.NewServeMux(),
	}
	site.loggedIn.Store(true)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.requests[r.URL.Path]++
		site.mu.Unlock()
		site.mux.ServeHTTP(w, r)
	})
	site.server = httptest.NewServer(handler)
	t.Cleanup(site.server.Close)
	return site
}

func (s *testSite) hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

func (s *testSite) client(t *testing.T) *core.Client {
	client, err := core.NewClient(context.Background(), core.ClientOptions{BaseUrl: s.server.URL})
	require.NoError(t, err)
	return client
}

func cardHtml(id string) string {
	return fmt.Sprintf(`<html><body><div><div class="container card">
		<div class="block group">The patient presents with progressive symptoms and abnormal findings on exam.</div>
	</div></div>
	<div id="workspace"><div class="solution container"><form>
		<h3>Question for card %s</h3>
		<div class="options">
			<div class="option"><input type="radio" value="1"><label>Right answer</label></div>
			<div class="option"><input type="radio" value="2"><label>Wrong answer</label></div>
		</div>
	</form></div></div></body></html>`, id)
}

// addDeck wires a printdeck listing plus card and solution pages,
// gating everything behind the site's login flag.
func (s *testSite) addDeck(deckID string, cardIDs []string) {
	listing := `<html><body>`
	for _, id := range cardIDs {
		listing += fmt.Sprintf(`<div class="submit"><button rel="/solution/%s/">Check</button></div>`, id)
	}
	listing += `</body></html>`
	s.mux.HandleFunc("/printdeck/"+deckID, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listing)
	})
	for _, id := range cardIDs {
		id := id
		s.mux.HandleFunc("/card/"+id, func(w http.ResponseWriter, r *http.Request) {
			if !s.loggedIn.Load() {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			fmt.Fprint(w, cardHtml(id))
		})
		s.mux.HandleFunc("/solution/"+id+"/", func(w http.ResponseWriter, r *http.Request) {
			if !s.loggedIn.Load() {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"answers":  []string{"1"},
				"feedback": "Explained.",
			})
		})
	}
}

func TestScrapeDeckConcurrent(t *testing.T) {
	site := newFastSite(t)
	ids := []string{"101", "102", "103", "104", "105"}
	site.addDeck("7", ids)

	o := New(site.client(t), nil)
	cards, err := o.ScrapeDeck(context.Background(), discover.DeckRef{DeckID: "7", BagID: "9"}, "Demo Deck")
	require.NoError(t, err)
	require.Len(t, cards, len(ids))

	var got []string
	for _, card := range cards {
		got = append(got, card.ID)
		require.Equal(t, "Right answer", card.Answer)
		require.Equal(t, "Demo Deck", card.DeckTitle)
	}
	sort.Strings(got)
	require.Equal(t, ids, got)
}

func TestScrapeDeckRefreshesExpiredSession(t *testing.T) {
	site := newFastSite(t)
	site.loggedIn.Store(false)
	site.addDeck("7", []string{"201", "202", "203", "204"})

	client := site.client(t)
	client.MarkLogin()

	var relogins atomic.Int64
	o := New(client, func(ctx context.Context) error {
		relogins.Add(1)
		site.loggedIn.Store(true)
		client.MarkLogin()
		return nil
	})
	cards, err := o.ScrapeDeck(context.Background(), discover.DeckRef{DeckID: "7", BagID: "9"}, "Demo Deck")
	require.NoError(t, err)
	require.Len(t, cards, 4)
	require.GreaterOrEqual(t, relogins.Load(), int64(1))
}

func TestScrapeDeckRefreshesStaleSession(t *testing.T) {
	site := newFastSite(t)
	site.addDeck("7", []string{"301"})

	client := site.client(t)
	client.MarkLogin()

	var relogins atomic.Int64
	o := New(client, func(ctx context.Context) error {
		relogins.Add(1)
		client.MarkLogin()
		return nil
	})
	o.SessionTTL = time.Nanosecond

	_, err := o.ScrapeDeck(context.Background(), discover.DeckRef{DeckID: "7", BagID: "9"}, "Demo Deck")
	require.NoError(t, err)
	require.GreaterOrEqual(t, relogins.Load(), int64(1))
}

func TestScrapeDeckSlowFallback(t *testing.T) {
	site := newFastSite(t)
	site.addDeck("7", []string{"401", "402"})

	// 403's solution endpoint never returns json, so the strict pass
	// gives up and the forgiving pass has to keep the card.
	site.mux.HandleFunc("/card/403", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, cardHtml("403"))
	})
	site.mux.HandleFunc("/solution/403/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>maintenance</html>")
	})
	site.mux.HandleFunc("/printdeck/8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<div class="submit"><button rel="/solution/401/">Check</button></div>
			<div class="submit"><button rel="/solution/403/">Check</button></div>
		</body></html>`)
	})

	o := New(site.client(t), nil)
	cards, err := o.ScrapeDeck(context.Background(), discover.DeckRef{DeckID: "8", BagID: "9"}, "Demo Deck")
	require.NoError(t, err)
	require.Len(t, cards, 2)

	byID := make(map[string]string)
	for _, card := range cards {
		byID[card.ID] = card.Answer
	}
	require.Equal(t, "Right answer", byID["401"])
	// Degraded scoring guesses the first listed option.
	require.Equal(t, "Right answer", byID["403"])
}

func TestScrapeCollectionContinuesPastDeckFailure(t *testing.T) {
	site := newFastSite(t)
	site.addDeck("10", []string{"501", "502"})
	site.mux.HandleFunc("/collection/77", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h3 class="bag-name">RIME 1.1.3</h3>
			<a href="/details/10?bag_id=77">Working Deck</a>
			<a href="/details/11?bag_id=77">Broken Deck</a>
		</body></html>`)
	})

	o := New(site.client(t), nil)
	title, cards, err := o.ScrapeCollection(context.Background(), "77")
	require.NoError(t, err)
	require.Equal(t, "RIME 1.1.3", title)
	require.Len(t, cards, 2)
	for _, card := range cards {
		require.Equal(t, "Working Deck", card.DeckTitle)
	}
}
