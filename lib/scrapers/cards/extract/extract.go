package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"cardsexport/lib/htmlutil"
	"cardsexport/lib/scrapers/cards/classify"
	"cardsexport/lib/scrapers/cards/core"
	"cardsexport/lib/scrapers/cards/discover"
	"cardsexport/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/cards/extract")

// SequentialPatient is the sentinel grouping label for cards that came
// from the sequential walkthrough and must not be organized by patient.
const SequentialPatient = "Sequential Deck"

const UnknownPatient = "Unknown Patient"

// minBackgroundLen is the threshold under which the structured
// background pass is considered insufficient and the plain-text
// fallback runs.
const minBackgroundLen = 50

// ErrEmptyCard marks a card that produced no question and no
// background. Callers treat it as a signal to retry through a slower
// path rather than dropping the card silently.
var ErrEmptyCard = fmt.Errorf("card has no question and no background")

// ErrNotJson marks a solution endpoint that kept answering HTML even
// after a full guess was submitted, which usually means the session
// expired.
var ErrNotJson = fmt.Errorf("solution endpoint returned no usable json")

// HttpStatusError reports a card page that answered with an error
// status.
type HttpStatusError struct {
	Path string
	Code int
}

func (e *HttpStatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Path, e.Code)
}

// Card is the atomic unit of output.
type Card struct {
	ID          string
	Question    string
	Answer      string
	Explanation string
	Background  string
	PatientInfo string
	DeckTitle   string
	Multi       bool
	Freetext    bool
	Sequential  bool
	Tags        []string
	Sources     []string
	ScoreText   string
	Percent     string
	// IncorrectAnswers keeps the distractor texts for review tooling.
	IncorrectAnswers []string
}

// Option is one answer choice as it appears on the card page.
type Option struct {
	ID   string
	Text string
}

// Solution is the scoring endpoint's response.
type Solution struct {
	Answers   []string
	Feedback  string
	ScoreText string
	Score     float64
	HasScore  bool
}

type Extractor struct {
	Client   *core.Client
	Keywords *classify.KeywordTable
	// RequireSolution makes a failed scoring request fail the whole
	// card instead of degrading to a first-option guess. The fast path
	// sets it to surface expired sessions.
	RequireSolution bool
}

func NewExtractor(client *core.Client, keywords *classify.KeywordTable) *Extractor {
	if keywords == nil {
		keywords = classify.DefaultKeywords()
	}
	return &Extractor{Client: client, Keywords: keywords}
}

// ExtractCard turns one discovered id into a structured card record.
func (e *Extractor) ExtractCard(ctx context.Context, id, patientInfo, deckTitle string) (Card, error) {
	ctx, span := tracer.Start(ctx, "extractor:ExtractCard")
	defer span.End()

	res, err := e.Client.Http.R().
		SetContext(ctx).
		Get("/card/" + id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch card page")
		return Card{}, err
	}
	if res.StatusCode() >= 400 {
		span.SetStatus(codes.Error, "card page returned an error status")
		return Card{}, &HttpStatusError{Path: "/card/" + id, Code: res.StatusCode()}
	}
	doc, err := htmlutil.ParseDocument(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse card html")
		return Card{}, err
	}

	background := e.Keywords.ExtractBackground(doc)
	if len(strings.TrimSpace(background)) < minBackgroundLen {
		if fallback := classify.FallbackText(doc); fallback != "" {
			background = fallback
		}
	}
	if images := e.pageImages(ctx, doc); images != "" {
		if background != "" {
			background = images + "<br/><br/>" + background
		} else {
			background = images
		}
	}

	question := textutil.CollapseWhitespace(doc.Find("#workspace > div.solution.container > form > h3").First().Text())
	if question == "" {
		question = "[No Question]"
	}
	if question == "[No Question]" && background == "" {
		span.SetStatus(codes.Error, ErrEmptyCard.Error())
		return Card{}, ErrEmptyCard
	}

	patientInfo = refinePatient(doc, patientInfo)

	if freetext := doc.Find("div.freetext-answer").First(); freetext.Length() > 0 {
		return e.freetextCard(ctx, id, question, background, patientInfo, deckTitle, freetext)
	}
	multi := doc.Find("#workspace > div.solution.container > form").First().AttrOr("rel", "") == "pickmany"
	return e.mcqCard(ctx, doc, id, question, background, patientInfo, deckTitle, multi)
}

func (e *Extractor) freetextCard(ctx context.Context, id, question, background, patientInfo, deckTitle string, freetext *goquery.Selection) (Card, error) {
	freetextHtml := htmlutil.OuterHTML(freetext)

	answer := "[Open-ended question - no preset answer]"
	sol, err := e.FetchSolution(ctx, id, nil)
	if err != nil {
		slog.WarnContext(ctx, "solution endpoint failed for freetext card", "card", id, "err", err)
	} else if strings.TrimSpace(sol.Feedback) != "" {
		answer = classify.NormalizeFeedback(strings.TrimSpace(sol.Feedback))
	}

	return Card{
		ID:          id,
		Question:    assembleQuestion(background, question, freetextHtml),
		Answer:      answer,
		Background:  background,
		PatientInfo: patientInfo,
		DeckTitle:   deckTitle,
		Freetext:    true,
		Tags:        []string{"Freetext"},
	}, nil
}

func (e *Extractor) mcqCard(ctx context.Context, doc *goquery.Document, id, question, background, patientInfo, deckTitle string, multi bool) (Card, error) {
	var options []Option
	doc.Find("#workspace > div.solution.container > form > div.options > div.option").Each(func(_ int, div *goquery.Selection) {
		optID := div.Find("input").First().AttrOr("value", "")
		text := textutil.CollapseWhitespace(div.Find("label").First().Text())
		if text != "" {
			options = append(options, Option{ID: optID, Text: text})
		}
	})
	if len(options) == 0 {
		return Card{}, fmt.Errorf("card %s has no answer choices", id)
	}

	sol, err := e.FetchSolution(ctx, id, options)
	if err != nil {
		if e.RequireSolution {
			return Card{}, err
		}
		// Degrade: keep the card, guess the first listed option.
		slog.WarnContext(ctx, "solution endpoint failed", "card", id, "err", err)
		sol = Solution{}
	}

	correct := make([]Option, 0, len(options))
	var incorrect []string
	for _, opt := range options {
		isCorrect := false
		for _, answerID := range sol.Answers {
			if opt.ID == answerID {
				isCorrect = true
				break
			}
		}
		if isCorrect {
			correct = append(correct, opt)
		} else {
			incorrect = append(incorrect, opt.Text)
		}
	}
	if len(correct) == 0 {
		correct = options[:1]
		incorrect = nil
		for _, opt := range options[1:] {
			incorrect = append(incorrect, opt.Text)
		}
	}

	texts := make([]string, len(correct))
	for i, opt := range correct {
		texts[i] = opt.Text
	}
	answer := strings.Join(texts, " ||| ")

	feedback := classify.NormalizeFeedback(strings.TrimSpace(sol.Feedback))
	if strings.Contains(feedback, "<img") || strings.Contains(feedback, "src=") {
		feedback = e.embedImages(ctx, e.Keywords.StripPortraits(feedback))
	}

	scoreText := strings.TrimSpace(sol.ScoreText)
	percent := ""
	switch {
	case sol.HasScore && sol.Score > 0:
		percent = strconv.FormatFloat(sol.Score, 'f', -1, 64) + "%"
	case percentRegex.MatchString(scoreText):
		percent = percentRegex.FindStringSubmatch(scoreText)[1] + "%"
	case len(sol.Answers) > 0:
		percent = "100%"
	default:
		percent = "0%"
	}

	tag := "Single-select"
	if multi {
		tag = "Multi-select"
	}

	return Card{
		ID:               id,
		Question:         assembleQuestion(background, question, optionsHtml(id, options, multi)),
		Answer:           answer,
		Explanation:      feedback,
		Background:       background,
		PatientInfo:      patientInfo,
		DeckTitle:        deckTitle,
		Multi:            multi,
		Tags:             []string{"MCQ", tag},
		ScoreText:        scoreText,
		Percent:          percent,
		IncorrectAnswers: incorrect,
	}, nil
}

var percentRegex = regexp.MustCompile(`(\d+)%`)

// FetchSolution posts an empty guess to the scoring endpoint. Certain
// deployments only reveal the correct answers once a guess is
// submitted, returning HTML otherwise, so a non-JSON response triggers
// a second attempt with every option as the guess.
func (e *Extractor) FetchSolution(ctx context.Context, id string, options []Option) (Solution, error) {
	ctx, span := tracer.Start(ctx, "extractor:FetchSolution")
	defer span.End()

	res, err := e.Client.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"timer": "1"}).
		Post("/solution/" + id + "/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post empty guess")
		return Solution{}, err
	}
	if sol, err := parseSolution(res.Body()); err == nil {
		return sol, nil
	}

	form := make(map[string][]string)
	form["timer"] = []string{"2"}
	for _, opt := range options {
		form["guess[]"] = append(form["guess[]"], opt.ID)
	}
	res, err = e.Client.Http.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		Post("/solution/" + id + "/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post all-options guess")
		return Solution{}, err
	}
	sol, err := parseSolution(res.Body())
	if err != nil {
		span.SetStatus(codes.Error, ErrNotJson.Error())
		return Solution{}, fmt.Errorf("card %s: %w", id, ErrNotJson)
	}
	return sol, nil
}

func parseSolution(body []byte) (Solution, error) {
	var raw struct {
		Answers   []any  `json:"answers"`
		Feedback  string `json:"feedback"`
		ScoreText string `json:"scoreText"`
		Score     any    `json:"score"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Solution{}, err
	}

	sol := Solution{
		Feedback:  raw.Feedback,
		ScoreText: raw.ScoreText,
	}
	for _, answer := range raw.Answers {
		switch v := answer.(type) {
		case string:
			sol.Answers = append(sol.Answers, v)
		case float64:
			sol.Answers = append(sol.Answers, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	if n, ok := raw.Score.(float64); ok {
		sol.Score = n
		sol.HasScore = true
	}
	return sol, nil
}

// assembleQuestion builds the rendered front HTML. The original site
// markup is not reused; options get freshly generated input/label
// pairs so the output stays interactive on its own.
func assembleQuestion(background, question, inner string) string {
	questionDiv := fmt.Sprintf(
		`<div class="question" style="background: white; color: black; padding: 10px; margin: 10px 0; font-weight: bold;"><b>%s</b></div>`,
		question,
	)
	if background == "" {
		return questionDiv + inner
	}
	backgroundDiv := fmt.Sprintf(
		`<div class="background" style="background: white; color: black; padding: 10px; margin: 10px 0; border-radius: 5px;">%s</div>`,
		background,
	)
	return backgroundDiv + questionDiv + inner
}

func optionsHtml(cardID string, options []Option, multi bool) string {
	inputType := "radio"
	if multi {
		inputType = "checkbox"
	}
	var b strings.Builder
	b.WriteString(`<div class="options" style="background: white; color: black; padding: 10px; margin: 10px 0;">`)
	for i, opt := range options {
		fmt.Fprintf(
			&b,
			`<div class="option" style="margin: 5px 0; padding: 8px; border: 1px solid #ccc; border-radius: 4px; background: white; color: black;"><input type="%s" name="choice" id="choice_%s_%d" value="%s" style="margin-right: 8px;"><label for="choice_%s_%d" style="color: black; cursor: pointer;">%s</label></div>`,
			inputType, cardID, i, html.EscapeString(opt.Text), cardID, i, opt.Text,
		)
	}
	b.WriteString(`</div>`)
	return b.String()
}

// refinePatient upgrades the round-robin patient label with anything
// more specific the card page itself carries.
func refinePatient(doc *goquery.Document, fallback string) string {
	link := doc.Find("a[href*='/patient/']").First()
	if link.Length() > 0 {
		if text := textutil.CollapseWhitespace(link.Text()); text != "" {
			return text
		}
		if href, ok := link.Attr("href"); ok {
			if _, rel, ok := strings.Cut(href, "/patient/"); ok && rel != "" {
				return fmt.Sprintf("Patient %s", rel)
			}
		}
	}
	return fallback
}

// ExtractAll runs the extractor over a discovery result, assigning
// patient labels and carrying on past single-card failures.
func (e *Extractor) ExtractAll(ctx context.Context, result discover.Result, deckTitle string) []Card {
	ctx, span := tracer.Start(ctx, "extractor:ExtractAll")
	defer span.End()

	var cards []Card
	for i, id := range result.CardIDs {
		card, err := e.ExtractCard(ctx, id, AssignPatient(result, i), deckTitle)
		if err != nil {
			slog.ErrorContext(ctx, "failed to extract card", "card", id, "err", err)
			continue
		}
		if result.Sequential {
			card.Sequential = true
			card.PatientInfo = SequentialPatient
			card.Tags = append(card.Tags, "Sequential_Extraction")
		}
		cards = append(cards, card)
	}
	return cards
}

// AssignPatient picks the patient label for the i-th discovered card:
// the exact 1:1 mapping when the strategy produced one, round-robin as
// a last resort.
func AssignPatient(result discover.Result, i int) string {
	if result.Sequential {
		return SequentialPatient
	}
	if len(result.Patients) == 0 {
		return UnknownPatient
	}
	if result.PatientMapped && len(result.Patients) == len(result.CardIDs) {
		return result.Patients[i]
	}
	return result.Patients[i%len(result.Patients)]
}
