// Package export arranges scraped cards into a hierarchical deck tree
// and writes the .apkg package.
package export

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"cardsexport/lib/anki"
	"cardsexport/lib/scrapers/cards/extract"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/export")

// curriculumRegex matches curriculum-style collection names like
// "RIME 1.1.3" or "FOUNDATIONS 2.3.1".
var curriculumRegex = regexp.MustCompile(`^([A-Z][A-Z\s]+)\s+(\d+)\.(\d+)\.(\d+)$`)

type Curriculum struct {
	Base  string
	Block string
	Unit  string
	Week  string
}

// DetectCurriculum parses a curriculum-coded collection name. The
// match runs on the upper-cased trimmed name so "rime 1.1.3" still
// counts.
func DetectCurriculum(name string) (Curriculum, bool) {
	m := curriculumRegex.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(name)))
	if m == nil {
		return Curriculum{}, false
	}
	return Curriculum{
		Base:  strings.TrimSpace(m[1]),
		Block: m[2],
		Unit:  m[3],
		Week:  m[4],
	}, true
}

type Options struct {
	// CollectionName labels the hierarchy root. For single-deck
	// exports it is the fallback deck name.
	CollectionName string
	// SingleDeck flattens the hierarchy to Deck::Patient.
	SingleDeck bool
}

// sequentialKey groups walkthrough cards under the deck itself
// instead of a patient subdeck.
const sequentialKey = "__sequential__"

// BuildPackage groups cards by deck and patient and names the decks:
//
//	single deck:  Deck::Patient
//	curriculum:   Base::Block N::Unit M::Week K::Deck::Patient
//	collection:   Collection::Deck::Patient
//
// Sequential cards skip the patient level and get a "(Sequential)"
// suffix on the deck instead.
func BuildPackage(cards []extract.Card, opts Options) *anki.Package {
	mcq := anki.McqModel()
	text := anki.FreeTextModel()
	curriculum, isCurriculum := DetectCurriculum(opts.CollectionName)

	structure := make(map[string]map[string][]extract.Card)
	for _, card := range cards {
		deckTitle := card.DeckTitle
		if deckTitle == "" {
			deckTitle = "Unknown Deck"
		}
		patientKey := card.PatientInfo
		if card.Sequential {
			patientKey = sequentialKey
		} else if patientKey == "" {
			patientKey = extract.UnknownPatient
		}
		if structure[deckTitle] == nil {
			structure[deckTitle] = make(map[string][]extract.Card)
		}
		structure[deckTitle][patientKey] = append(structure[deckTitle][patientKey], card)
	}

	pkg := &anki.Package{}
	deckID := int64(anki.DeckIDBase)

	for _, deckTitle := range sortedKeys(structure) {
		patients := structure[deckTitle]
		for _, patientKey := range sortedKeys(patients) {
			group := patients[patientKey]
			sequential := patientKey == sequentialKey

			name := deckName(opts, curriculum, isCurriculum, deckTitle, patientKey, sequential)
			deck := &anki.Deck{ID: deckID, Name: name}
			deckID++

			for i, card := range group {
				deck.AddNote(buildNote(card, i, deckTitle, opts, curriculum, isCurriculum, mcq, text))
			}
			pkg.Decks = append(pkg.Decks, deck)
		}
	}
	return pkg
}

func deckName(opts Options, curriculum Curriculum, isCurriculum bool, deckTitle, patientKey string, sequential bool) string {
	if opts.SingleDeck {
		name := deckTitle
		if name == "Unknown Deck" && opts.CollectionName != "" {
			name = opts.CollectionName
		}
		if sequential {
			return fmt.Sprintf("%s (Sequential Deck)", name)
		}
		return fmt.Sprintf("%s::%s", name, patientKey)
	}
	if isCurriculum {
		prefix := fmt.Sprintf("%s::Block %s::Unit %s::Week %s",
			curriculum.Base, curriculum.Block, curriculum.Unit, curriculum.Week)
		if sequential {
			return fmt.Sprintf("%s::%s (Sequential)", prefix, deckTitle)
		}
		return fmt.Sprintf("%s::%s::%s", prefix, deckTitle, patientKey)
	}
	if sequential {
		return fmt.Sprintf("%s::%s (Sequential)", opts.CollectionName, deckTitle)
	}
	return fmt.Sprintf("%s::%s::%s", opts.CollectionName, deckTitle, patientKey)
}

func buildNote(card extract.Card, index int, deckTitle string, opts Options, curriculum Curriculum, isCurriculum bool, mcq, text *anki.Model) anki.Note {
	var sources strings.Builder
	for _, src := range card.Sources {
		fmt.Fprintf(&sources, "<li>%s</li>", src)
	}

	model := mcq
	var fields []string
	if card.Freetext {
		model = text
		fields = []string{card.Question, card.Answer, card.Explanation}
	} else {
		multi := ""
		if card.Multi {
			multi = "1"
		}
		fields = []string{
			card.Question,
			card.Answer,
			card.Explanation,
			card.ScoreText,
			card.Percent,
			sources.String(),
			multi,
			card.ID,
		}
	}

	tags := make([]string, 0, len(card.Tags)+6)
	tags = append(tags, card.Tags...)
	if isCurriculum {
		tags = append(tags,
			"Curriculum_"+underscore(curriculum.Base),
			"Block_"+curriculum.Block,
			"Unit_"+curriculum.Unit,
			"Week_"+curriculum.Week,
		)
	} else if !opts.SingleDeck && opts.CollectionName != "" {
		tags = append(tags, "Collection_"+underscore(opts.CollectionName))
	}
	tags = append(tags, "Deck_"+underscore(deckTitle))
	if card.Sequential {
		tags = append(tags, "Sequential_Mode", fmt.Sprintf("Question_%d", index+1))
	} else if card.PatientInfo != "" {
		tags = append(tags, "Patient_"+underscore(card.PatientInfo))
	}

	return anki.Note{Model: model, Fields: fields, Tags: tags}
}

func underscore(s string) string {
	return strings.ReplaceAll(s, " ", "_")
}

func sortedKeys[M map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// WriteApkg builds the package and writes it to path.
func WriteApkg(ctx context.Context, cards []extract.Card, opts Options, path string) (*anki.Package, error) {
	ctx, span := tracer.Start(ctx, "export:WriteApkg")
	defer span.End()

	if len(cards) == 0 {
		span.SetStatus(codes.Error, "nothing to export")
		return nil, fmt.Errorf("nothing to export: no cards were scraped")
	}
	pkg := BuildPackage(cards, opts)
	if err := pkg.WriteFile(ctx, path); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write apkg")
		return nil, err
	}
	return pkg, nil
}
