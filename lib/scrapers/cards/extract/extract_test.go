package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cardsexport/lib/scrapers/cards/core"
	"cardsexport/lib/scrapers/cards/discover"

	"github.com/stretchr/testify/require"
)

type testSite struct {
	mu       sync.Mutex
	requests map[string]int
	mux      *http.ServeMux
	server   *httptest.Server
}

func newExtractSite(t *testing.T) *testSite {
	site := &testSite{
		requests: make(map[string]int),
		mux:      http.NewServeMux(),
	}
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

func (s *testSite) extractor(t *testing.T) *Extractor {
	client, err := core.NewClient(context.Background(), core.ClientOptions{BaseUrl: s.server.URL})
	require.NoError(t, err)
	return NewExtractor(client, nil)
}

func mcqPage(id string, multi bool, options []Option, extra string) string {
	rel := ""
	if multi {
		rel = ` rel="pickmany"`
	}
	var opts strings.Builder
	for _, opt := range options {
		fmt.Fprintf(&opts,
			`<div class="option"><input type="checkbox" value="%s"><label>%s</label></div>`,
			opt.ID, opt.Text)
	}
	return fmt.Sprintf(`<html><body><div><div class="container card">
		<div class="block group">The patient presents with progressive symptoms and abnormal findings on exam.</div>
		%s
	</div></div>
	<div id="workspace"><div class="solution container"><form%s>
		<h3>Question for card %s</h3>
		<div class="options">%s</div>
	</form></div></div></body></html>`, extra, rel, id, opts.String())
}

func serveSolution(site *testSite, id string, sol map[string]any, requireGuess bool) {
	site.mux.HandleFunc("/solution/"+id+"/", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if requireGuess && len(r.PostForm["guess[]"]) == 0 {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>Submit a guess first</body></html>")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sol)
	})
}

var fourOptions = []Option{
	{ID: "11", Text: "Option A"},
	{ID: "12", Text: "Option B"},
	{ID: "13", Text: "Option C"},
	{ID: "14", Text: "Option D"},
}

func TestExtractCardMCQ(t *testing.T) {
	site := newExtractSite(t)
	site.mux.HandleFunc("/card/55", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, mcqPage("55", true, fourOptions, ""))
	})
	serveSolution(site, "55", map[string]any{
		"answers":   []string{"12", "14"},
		"feedback":  "<p>B and D are correct.</p>",
		"scoreText": "Correct: 2 of 2",
		"score":     50,
	}, false)

	card, err := site.extractor(t).ExtractCard(context.Background(), "55", "Patient One", "Demo Deck")
	require.NoError(t, err)
	require.Equal(t, "Option B ||| Option D", card.Answer)
	require.Equal(t, []string{"Option A", "Option C"}, card.IncorrectAnswers)
	require.True(t, card.Multi)
	require.False(t, card.Freetext)
	require.Equal(t, "50%", card.Percent)
	require.Equal(t, "Correct: 2 of 2", card.ScoreText)
	require.Equal(t, []string{"MCQ", "Multi-select"}, card.Tags)
	require.Equal(t, "Patient One", card.PatientInfo)
	require.Contains(t, card.Question, "Question for card 55")
	require.Contains(t, card.Question, `id="choice_55_0"`)
	require.Contains(t, card.Question, `id="choice_55_3"`)
	require.Contains(t, card.Question, `type="checkbox"`)
	require.Contains(t, card.Question, "progressive symptoms")
	require.Contains(t, card.Explanation, "B and D are correct")
}

func TestExtractCardRetriesWithGuesses(t *testing.T) {
	site := newExtractSite(t)
	site.mux.HandleFunc("/card/56", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, mcqPage("56", false, fourOptions, ""))
	})
	serveSolution(site, "56", map[string]any{
		"answers":  []string{"13"},
		"feedback": "C is correct.",
	}, true)

	card, err := site.extractor(t).ExtractCard(context.Background(), "56", "Patient One", "Demo Deck")
	require.NoError(t, err)
	require.Equal(t, "Option C", card.Answer)
	require.Equal(t, 2, site.hits("/solution/56/"))
	require.Equal(t, []string{"MCQ", "Single-select"}, card.Tags)
	require.Contains(t, card.Question, `type="radio"`)
}

func TestExtractCardDefaultsToFirstOption(t *testing.T) {
	site := newExtractSite(t)
	site.mux.HandleFunc("/card/57", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, mcqPage("57", false, fourOptions, ""))
	})
	serveSolution(site, "57", map[string]any{"answers": []string{}}, false)

	card, err := site.extractor(t).ExtractCard(context.Background(), "57", "Patient One", "Demo Deck")
	require.NoError(t, err)
	require.Equal(t, "Option A", card.Answer)
	require.Equal(t, []string{"Option B", "Option C", "Option D"}, card.IncorrectAnswers)
	require.Equal(t, "0%", card.Percent)
}

func TestExtractCardPercentFromScoreText(t *testing.T) {
	site := newExtractSite(t)
	site.mux.HandleFunc("/card/58", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, mcqPage("58", false, fourOptions, ""))
	})
	serveSolution(site, "58", map[string]any{
		"answers":   []string{"11"},
		"scoreText": "You scored 75% on this card",
	}, false)

	card, err := site.extractor(t).ExtractCard(context.Background(), "58", "Patient One", "Demo Deck")
	require.NoError(t, err)
	require.Equal(t, "75%", card.Percent)
}

func TestExtractCardFreetext(t *testing.T) {
	site := newExtractSite(t)
	site.mux.HandleFunc("/card/60", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div><div class="container card">
			<div class="block group">A 54 year old patient presents with acute chest pain and shortness of breath.</div>
		</div></div>
		<div id="workspace"><div class="solution container"><form>
			<h3>Describe your management plan</h3>
			<div class="freetext-answer"><textarea></textarea></div>
		</form></div></div></body></html>`)
	})
	serveSolution(site, "60", map[string]any{
		"feedback": "Start with an ECG and troponins.",
	}, false)

	card, err := site.extractor(t).ExtractCard(context.Background(), "60", "Patient Two", "Demo Deck")
	require.NoError(t, err)
	require.True(t, card.Freetext)
	require.Contains(t, card.Answer, "ECG and troponins")
	require.Equal(t, []string{"Freetext"}, card.Tags)
	require.Contains(t, card.Question, "Describe your management plan")
	require.Contains(t, card.Question, "freetext-answer")
}

func TestExtractCardFreetextWithoutFeedback(t *testing.T) {
	site := newExtractSite(t)
	site.mux.HandleFunc("/card/61", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div><div class="container card">
			<div class="block group">The patient reports two weeks of worsening fatigue and new bruising.</div>
		</div></div>
		<div id="workspace"><div class="solution container"><form>
			<h3>What would you ask next?</h3>
			<div class="freetext-answer"><textarea></textarea></div>
		</form></div></div></body></html>`)
	})
	site.mux.HandleFunc("/solution/61/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	})

	card, err := site.extractor(t).ExtractCard(context.Background(), "61", "Patient Two", "Demo Deck")
	require.NoError(t, err)
	require.Equal(t, "[Open-ended question - no preset answer]", card.Answer)
}

func TestExtractCardEmpty(t *testing.T) {
	site := newExtractSite(t)
	site.mux.HandleFunc("/card/62", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="nav"></div></body></html>`)
	})

	_, err := site.extractor(t).ExtractCard(context.Background(), "62", "Patient One", "Demo Deck")
	require.ErrorIs(t, err, ErrEmptyCard)
}

func TestExtractCardEmbedsImages(t *testing.T) {
	site := newExtractSite(t)
	extra := `<img src="/uploads/ecg_strip.png" alt="ECG strip">
		<img src="/uploads/portraits/dr_smith.jpg" alt="Dr. Smith" class="portrait">`
	site.mux.HandleFunc("/card/63", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, mcqPage("63", false, fourOptions, extra))
	})
	site.mux.HandleFunc("/uploads/ecg_strip.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	serveSolution(site, "63", map[string]any{"answers": []string{"11"}}, false)

	card, err := site.extractor(t).ExtractCard(context.Background(), "63", "Patient One", "Demo Deck")
	require.NoError(t, err)
	require.Contains(t, card.Background, "data:image/png;base64,")
	require.Contains(t, card.Background, "extracted-images")
	require.NotContains(t, card.Background, "dr_smith")
	require.Zero(t, site.hits("/uploads/portraits/dr_smith.jpg"))
}

func TestExtractAllSequential(t *testing.T) {
	site := newExtractSite(t)
	for _, id := range []string{"70", "71"} {
		id := id
		site.mux.HandleFunc("/card/"+id, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, mcqPage(id, false, fourOptions, ""))
		})
		serveSolution(site, id, map[string]any{"answers": []string{"12"}}, false)
	}

	cards := site.extractor(t).ExtractAll(context.Background(), discover.Result{
		CardIDs:    []string{"70", "71"},
		Sequential: true,
	}, "Demo Deck")
	require.Len(t, cards, 2)
	for _, card := range cards {
		require.True(t, card.Sequential)
		require.Equal(t, SequentialPatient, card.PatientInfo)
		require.Contains(t, card.Tags, "Sequential_Extraction")
	}
}

func TestExtractAllSkipsFailedCards(t *testing.T) {
	site := newExtractSite(t)
	site.mux.HandleFunc("/card/80", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, mcqPage("80", false, fourOptions, ""))
	})
	site.mux.HandleFunc("/card/81", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	serveSolution(site, "80", map[string]any{"answers": []string{"11"}}, false)

	cards := site.extractor(t).ExtractAll(context.Background(), discover.Result{
		CardIDs:  []string{"80", "81"},
		Patients: []string{"Patient One", "Patient Two"},
	}, "Demo Deck")
	require.Len(t, cards, 1)
	require.Equal(t, "80", cards[0].ID)
}

func TestAssignPatient(t *testing.T) {
	mapped := discover.Result{
		CardIDs:       []string{"1", "2"},
		Patients:      []string{"Alpha", "Beta"},
		PatientMapped: true,
	}
	require.Equal(t, "Alpha", AssignPatient(mapped, 0))
	require.Equal(t, "Beta", AssignPatient(mapped, 1))

	roundRobin := discover.Result{
		CardIDs:  []string{"1", "2", "3"},
		Patients: []string{"Alpha", "Beta"},
	}
	require.Equal(t, "Alpha", AssignPatient(roundRobin, 2))

	require.Equal(t, UnknownPatient, AssignPatient(discover.Result{CardIDs: []string{"1"}}, 0))
	require.Equal(t, SequentialPatient, AssignPatient(discover.Result{Sequential: true, CardIDs: []string{"1"}}, 0))
}
