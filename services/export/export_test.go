package export

import (
	"testing"

	"cardsexport/lib/anki"
	"cardsexport/lib/scrapers/cards/extract"

	"github.com/stretchr/testify/require"
)

func TestDetectCurriculum(t *testing.T) {
	curriculum, ok := DetectCurriculum("RIME 1.1.3")
	require.True(t, ok)
	require.Equal(t, Curriculum{Base: "RIME", Block: "1", Unit: "1", Week: "3"}, curriculum)

	curriculum, ok = DetectCurriculum("  rime 2.3.1 ")
	require.True(t, ok)
	require.Equal(t, "RIME", curriculum.Base)
	require.Equal(t, "2", curriculum.Block)

	_, ok = DetectCurriculum("Random Deck Name")
	require.False(t, ok)
	_, ok = DetectCurriculum("RIME 1.1")
	require.False(t, ok)
}

func deckNames(pkg *anki.Package) []string {
	var names []string
	for _, deck := range pkg.Decks {
		names = append(names, deck.Name)
	}
	return names
}

func TestBuildPackageSingleDeck(t *testing.T) {
	cards := []extract.Card{
		{ID: "1", Question: "Q1", Answer: "A1", DeckTitle: "Demo Deck", PatientInfo: "Patient One", Tags: []string{"MCQ"}},
		{ID: "2", Question: "Q2", Answer: "A2", DeckTitle: "Demo Deck", PatientInfo: "Patient Two", Tags: []string{"MCQ"}},
		{ID: "3", Question: "Q3", Answer: "A3", DeckTitle: "Demo Deck", PatientInfo: "Patient One", Tags: []string{"MCQ"}},
	}
	pkg := BuildPackage(cards, Options{CollectionName: "Demo Deck", SingleDeck: true})

	require.Equal(t, []string{"Demo Deck::Patient One", "Demo Deck::Patient Two"}, deckNames(pkg))
	require.Len(t, pkg.Decks[0].Notes, 2)
	require.Len(t, pkg.Decks[1].Notes, 1)
	require.Equal(t, int64(anki.DeckIDBase), pkg.Decks[0].ID)
	require.Equal(t, int64(anki.DeckIDBase+1), pkg.Decks[1].ID)

	tags := pkg.Decks[0].Notes[0].Tags
	require.Contains(t, tags, "Patient_Patient_One")
	require.Contains(t, tags, "Deck_Demo_Deck")
	require.NotContains(t, tags, "Collection_Demo_Deck")
}

func TestBuildPackageCurriculum(t *testing.T) {
	cards := []extract.Card{
		{ID: "1", Question: "Q1", Answer: "A1", DeckTitle: "Neuro Deck", PatientInfo: "Patient One"},
	}
	pkg := BuildPackage(cards, Options{CollectionName: "RIME 1.1.3"})

	require.Equal(t, []string{"RIME::Block 1::Unit 1::Week 3::Neuro Deck::Patient One"}, deckNames(pkg))
	tags := pkg.Decks[0].Notes[0].Tags
	require.Contains(t, tags, "Curriculum_RIME")
	require.Contains(t, tags, "Block_1")
	require.Contains(t, tags, "Unit_1")
	require.Contains(t, tags, "Week_3")
}

func TestBuildPackageCollection(t *testing.T) {
	cards := []extract.Card{
		{ID: "1", Question: "Q1", Answer: "A1", DeckTitle: "Deck A", PatientInfo: "Patient One"},
		{ID: "2", Question: "Q2", Answer: "A2", DeckTitle: "Deck B", PatientInfo: "Patient One"},
	}
	pkg := BuildPackage(cards, Options{CollectionName: "Random Deck Name"})

	require.Equal(t, []string{
		"Random Deck Name::Deck A::Patient One",
		"Random Deck Name::Deck B::Patient One",
	}, deckNames(pkg))
	require.Contains(t, pkg.Decks[0].Notes[0].Tags, "Collection_Random_Deck_Name")
}

func TestBuildPackageSequential(t *testing.T) {
	cards := []extract.Card{
		{ID: "1", Question: "Q1", Answer: "A1", DeckTitle: "Walkthrough", PatientInfo: extract.SequentialPatient, Sequential: true},
		{ID: "2", Question: "Q2", Answer: "A2", DeckTitle: "Walkthrough", PatientInfo: extract.SequentialPatient, Sequential: true},
	}

	single := BuildPackage(cards, Options{CollectionName: "Walkthrough", SingleDeck: true})
	require.Equal(t, []string{"Walkthrough (Sequential Deck)"}, deckNames(single))
	require.Contains(t, single.Decks[0].Notes[0].Tags, "Sequential_Mode")
	require.Contains(t, single.Decks[0].Notes[0].Tags, "Question_1")
	require.Contains(t, single.Decks[0].Notes[1].Tags, "Question_2")

	collection := BuildPackage(cards, Options{CollectionName: "Random Deck Name"})
	require.Equal(t, []string{"Random Deck Name::Walkthrough (Sequential)"}, deckNames(collection))
}

func TestBuildPackageModels(t *testing.T) {
	cards := []extract.Card{
		{ID: "1", Question: "Q1", Answer: "A1", ScoreText: "Correct: 1 of 1", Percent: "100%", Multi: true, DeckTitle: "Deck A", PatientInfo: "Patient One", Sources: []string{"https://example.com"}},
		{ID: "2", Question: "Q2", Answer: "A2", Freetext: true, DeckTitle: "Deck A", PatientInfo: "Patient One"},
	}
	pkg := BuildPackage(cards, Options{CollectionName: "C"})

	require.Len(t, pkg.Decks, 1)
	notes := pkg.Decks[0].Notes
	require.Len(t, notes, 2)

	require.Equal(t, "MCQ Q&A", notes[0].Model.Name)
	require.Len(t, notes[0].Fields, 8)
	require.Equal(t, "1", notes[0].Fields[6])
	require.Equal(t, "<li>https://example.com</li>", notes[0].Fields[5])

	require.Equal(t, "FreeText Q&A", notes[1].Model.Name)
	require.Equal(t, []string{"Q2", "A2", ""}, notes[1].Fields)
}
