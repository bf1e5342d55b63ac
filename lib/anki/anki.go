// Package anki writes .apkg flashcard packages readable by the Anki
// desktop and mobile apps. A package is a zip holding a sqlite
// collection plus a media manifest, using schema version 11.
package anki

import (
	"archive/zip"
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	random "github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("anki")

const (
	// ModelID anchors the note types. Stable across exports so
	// re-imports update notes instead of duplicating them.
	ModelID = 1607392319001
	// DeckIDBase is the first generated deck id; each deck in a
	// package gets the next consecutive id.
	DeckIDBase = 1607392319000

	schemaVersion = 11
)

type Model struct {
	ID        int64
	Name      string
	Fields    []string
	CSS       string
	Templates []Template
}

type Template struct {
	Name string
	Qfmt string
	Afmt string
}

type Note struct {
	Model  *Model
	Fields []string
	Tags   []string
}

type Deck struct {
	ID    int64
	Name  string
	Notes []Note
}

func (d *Deck) AddNote(note Note) {
	d.Notes = append(d.Notes, note)
}

// Package is a set of decks destined for one .apkg file.
type Package struct {
	Decks []*Deck
}

const collectionSchema = `
CREATE TABLE col (
	id integer primary key,
	crt integer not null,
	mod integer not null,
	scm integer not null,
	ver integer not null,
	dty integer not null,
	usn integer not null,
	ls integer not null,
	conf text not null,
	models text not null,
	decks text not null,
	dconf text not null,
	tags text not null
);
CREATE TABLE notes (
	id integer primary key,
	guid text not null,
	mid integer not null,
	mod integer not null,
	usn integer not null,
	tags text not null,
	flds text not null,
	sfld integer not null,
	csum integer not null,
	flags integer not null,
	data text not null
);
CREATE TABLE cards (
	id integer primary key,
	nid integer not null,
	did integer not null,
	ord integer not null,
	mod integer not null,
	usn integer not null,
	type integer not null,
	queue integer not null,
	due integer not null,
	ivl integer not null,
	factor integer not null,
	reps integer not null,
	lapses integer not null,
	left integer not null,
	odue integer not null,
	odid integer not null,
	flags integer not null,
	data text not null
);
CREATE TABLE revlog (
	id integer primary key,
	cid integer not null,
	usn integer not null,
	ease integer not null,
	ivl integer not null,
	lastIvl integer not null,
	factor integer not null,
	time integer not null,
	type integer not null
);
CREATE TABLE graves (
	usn integer not null,
	oid integer not null,
	type integer not null
);
CREATE INDEX ix_notes_usn on notes (usn);
CREATE INDEX ix_cards_usn on cards (usn);
CREATE INDEX ix_revlog_usn on revlog (usn);
CREATE INDEX ix_cards_nid on cards (nid);
CREATE INDEX ix_cards_sched on cards (did, queue, due);
CREATE INDEX ix_revlog_cid on revlog (cid);
CREATE INDEX ix_notes_csum on notes (csum);
`

// WriteFile builds the collection database in a scratch directory and
// zips it to path.
func (p *Package) WriteFile(ctx context.Context, path string) error {
	ctx, span := tracer.Start(ctx, "package:WriteFile")
	defer span.End()

	suffix, err := random.String(10)
	if err != nil {
		return err
	}
	scratch, err := os.MkdirTemp("", "apkg-"+suffix)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create scratch dir")
		return err
	}
	defer os.RemoveAll(scratch)

	dbPath := filepath.Join(scratch, "collection.anki2")
	if err := p.writeCollection(ctx, dbPath); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build collection database")
		return err
	}
	if err := writeZip(path, dbPath); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write apkg zip")
		return err
	}
	return nil
}

func (p *Package) writeCollection(ctx context.Context, dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, collectionSchema); err != nil {
		return fmt.Errorf("failed to create collection schema: %w", err)
	}

	now := time.Now()
	models := p.models()
	if err := p.insertCol(ctx, db, now, models); err != nil {
		return err
	}

	noteID := now.UnixMilli()
	cardID := noteID + 1_000_000
	for _, deck := range p.Decks {
		for _, note := range deck.Notes {
			if len(note.Fields) != len(note.Model.Fields) {
				return fmt.Errorf("note for model %q has %d fields, want %d",
					note.Model.Name, len(note.Fields), len(note.Model.Fields))
			}
			sortField := stripHtml(note.Fields[0])
			_, err := db.ExecContext(ctx,
				`INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
				 VALUES (?, ?, ?, ?, -1, ?, ?, ?, ?, 0, '')`,
				noteID, noteGuid(note.Fields), note.Model.ID, now.Unix(),
				tagString(note.Tags), strings.Join(note.Fields, "\x1f"),
				sortField, fieldChecksum(sortField))
			if err != nil {
				return fmt.Errorf("failed to insert note: %w", err)
			}
			for ord := range note.Model.Templates {
				_, err := db.ExecContext(ctx,
					`INSERT INTO cards (id, nid, did, ord, mod, usn, type, queue, due,
					                    ivl, factor, reps, lapses, left, odue, odid, flags, data)
					 VALUES (?, ?, ?, ?, ?, -1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, '')`,
					cardID, noteID, deck.ID, ord, now.Unix())
				if err != nil {
					return fmt.Errorf("failed to insert card: %w", err)
				}
				cardID++
			}
			noteID++
		}
	}
	return nil
}

func (p *Package) models() map[*Model]bool {
	models := make(map[*Model]bool)
	for _, deck := range p.Decks {
		for _, note := range deck.Notes {
			models[note.Model] = true
		}
	}
	return models
}

func (p *Package) insertCol(ctx context.Context, db *sql.DB, now time.Time, models map[*Model]bool) error {
	modelsJson := make(map[string]any)
	var curModel int64
	for model := range models {
		modelsJson[strconv.FormatInt(model.ID, 10)] = model.colJson()
		curModel = model.ID
	}

	decksJson := map[string]any{
		"1": deckColJson(1, "Default", now),
	}
	for _, deck := range p.Decks {
		decksJson[strconv.FormatInt(deck.ID, 10)] = deckColJson(deck.ID, deck.Name, now)
	}

	conf := map[string]any{
		"activeDecks":   []int64{1},
		"addToCur":      true,
		"collapseTime":  1200,
		"curDeck":       1,
		"curModel":      strconv.FormatInt(curModel, 10),
		"dueCounts":     true,
		"estTimes":      true,
		"newBury":       true,
		"newSpread":     0,
		"nextPos":       1,
		"sortBackwards": false,
		"sortType":      "noteFld",
		"timeLim":       0,
	}
	dconf := map[string]any{
		"1": map[string]any{
			"id":       1,
			"name":     "Default",
			"autoplay": true,
			"maxTaken": 60,
			"replayq":  true,
			"timer":    0,
			"usn":      0,
			"mod":      0,
			"lapse": map[string]any{
				"delays":      []int{10},
				"leechAction": 0,
				"leechFails":  8,
				"minInt":      1,
				"mult":        0,
			},
			"new": map[string]any{
				"bury":          true,
				"delays":        []int{1, 10},
				"initialFactor": 2500,
				"ints":          []int{1, 4, 7},
				"order":         1,
				"perDay":        20,
				"separate":      true,
			},
			"rev": map[string]any{
				"bury":     true,
				"ease4":    1.3,
				"fuzz":     0.05,
				"ivlFct":   1,
				"maxIvl":   36500,
				"minSpace": 1,
				"perDay":   100,
			},
		},
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO col (id, crt, mod, scm, ver, dty, usn, ls, conf, models, decks, dconf, tags)
		 VALUES (1, ?, ?, ?, ?, 0, 0, 0, ?, ?, ?, ?, '{}')`,
		dayStart(now).Unix(), now.UnixMilli(), now.UnixMilli(), schemaVersion,
		mustJson(conf), mustJson(modelsJson), mustJson(decksJson), mustJson(dconf))
	if err != nil {
		return fmt.Errorf("failed to insert col row: %w", err)
	}
	return nil
}

func (m *Model) colJson() map[string]any {
	flds := make([]map[string]any, len(m.Fields))
	for i, name := range m.Fields {
		flds[i] = map[string]any{
			"name":   name,
			"ord":    i,
			"sticky": false,
			"rtl":    false,
			"font":   "Liberation Sans",
			"size":   20,
			"media":  []string{},
		}
	}
	tmpls := make([]map[string]any, len(m.Templates))
	for i, tmpl := range m.Templates {
		tmpls[i] = map[string]any{
			"name":  tmpl.Name,
			"ord":   i,
			"qfmt":  tmpl.Qfmt,
			"afmt":  tmpl.Afmt,
			"bqfmt": "",
			"bafmt": "",
			"did":   nil,
		}
	}
	return map[string]any{
		"id":        m.ID,
		"name":      m.Name,
		"type":      0,
		"did":       1,
		"mod":       0,
		"usn":       0,
		"sortf":     0,
		"css":       m.CSS,
		"flds":      flds,
		"tmpls":     tmpls,
		"tags":      []string{},
		"vers":      []string{},
		"req":       []any{[]any{0, "all", []int{0}}},
		"latexPre":  "\\documentclass[12pt]{article}\n\\special{papersize=3in,5in}\n\\usepackage[utf8]{inputenc}\n\\usepackage{amssymb,amsmath}\n\\pagestyle{empty}\n\\setlength{\\parindent}{0in}\n\\begin{document}\n",
		"latexPost": "\\end{document}",
	}
}

func deckColJson(id int64, name string, now time.Time) map[string]any {
	return map[string]any{
		"id":        id,
		"name":      name,
		"desc":      "",
		"collapsed": false,
		"conf":      1,
		"dyn":       0,
		"extendNew": 0,
		"extendRev": 50,
		"mod":       now.Unix(),
		"usn":       -1,
		"lrnToday":  []int{0, 0},
		"newToday":  []int{0, 0},
		"revToday":  []int{0, 0},
		"timeToday": []int{0, 0},
	}
}

func writeZip(path, dbPath string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	archive := zip.NewWriter(out)
	collection, err := archive.Create("collection.anki2")
	if err != nil {
		return err
	}
	db, err := os.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := io.Copy(collection, db); err != nil {
		return err
	}

	// No bundled media files; images travel inline as data URLs.
	media, err := archive.Create("media")
	if err != nil {
		return err
	}
	if _, err := media.Write([]byte("{}")); err != nil {
		return err
	}
	return archive.Close()
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

var htmlTagRegex = regexp.MustCompile(`<[^>]+>`)

func stripHtml(s string) string {
	return strings.TrimSpace(htmlTagRegex.ReplaceAllString(s, ""))
}

// noteGuid derives a stable id from the note's content so re-exports
// update existing notes.
func noteGuid(fields []string) string {
	sum := sha1.Sum([]byte(strings.Join(fields, "__")))
	return hex.EncodeToString(sum[:])[:10]
}

// fieldChecksum is the integer form of the first 8 hex digits of the
// sort field's sha1, matching what Anki computes on import.
func fieldChecksum(sortField string) int64 {
	sum := sha1.Sum([]byte(sortField))
	n, err := strconv.ParseInt(hex.EncodeToString(sum[:])[:8], 16, 64)
	if err != nil {
		return 0
	}
	return n
}

func tagString(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	sanitized := make([]string, len(tags))
	for i, tag := range tags {
		sanitized[i] = strings.ReplaceAll(tag, " ", "_")
	}
	return " " + strings.Join(sanitized, " ") + " "
}

func mustJson(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
