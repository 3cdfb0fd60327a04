// Package deck loads Anki .apkg packages into memory: it unpacks the zip
// archive, reads the SQLite collection inside, renders every card through the
// note model's templates and rewrites media references to served URLs.
package deck

import (
	"archive/zip"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // registers the sqlite driver

	"ankiview/internal/cardtype"
	"ankiview/internal/domain"
	"ankiview/internal/media"
	"ankiview/internal/render"
)

// Anki joins note field values with the ASCII unit separator.
const fieldSeparator = "\x1f"

// Collection database filenames, newest format first.
var collectionFilenames = []string{"collection.anki21", "collection.anki2"}

// Options configure where extracted media lands and how it is addressed.
type Options struct {
	MediaDir     string
	MediaURLPath string
}

// Load reads the package at packagePath and returns its decks. Media blobs
// referenced by the package manifest are copied into opts.MediaDir under safe
// names. Loading is all-or-nothing: on error no partial collection is
// returned, and all extraction artifacts are removed either way.
func Load(packagePath string, opts Options) (*domain.DeckCollection, error) {
	if _, err := os.Stat(packagePath); err != nil {
		return nil, loadErr(PackageNotFound, packagePath, err)
	}

	tmpDir, err := os.MkdirTemp("", "ankiview_")
	if err != nil {
		return nil, loadErr(UnpackFailed, "create extraction workspace", err)
	}
	defer func() {
		// Cleanup is best effort; a leftover temp dir must not fail the load.
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			slog.Warn("could not remove extraction workspace", "dir", tmpDir, "error", rmErr)
		}
	}()

	if err := extractPackage(packagePath, tmpDir); err != nil {
		return nil, loadErr(UnpackFailed, packagePath, err)
	}

	collectionPath, err := findCollectionFile(tmpDir)
	if err != nil {
		return nil, err
	}

	store, err := media.NewStore(opts.MediaDir)
	if err != nil {
		return nil, loadErr(UnpackFailed, "prepare media directory", err)
	}
	if err := storeManifestMedia(tmpDir, store); err != nil {
		return nil, err
	}

	// Copy the database out of the extraction dir so the workspace can be
	// deleted while the copy is open, then remove the copy as well.
	dbCopy, err := copyToTemp(collectionPath)
	if err != nil {
		return nil, loadErr(DatabaseUnreadable, "copy collection database", err)
	}
	defer func() {
		if rmErr := os.Remove(dbCopy); rmErr != nil {
			slog.Warn("could not remove database copy", "path", dbCopy, "error", rmErr)
		}
	}()

	return loadFromSQLite(dbCopy, store, opts.MediaURLPath)
}

func extractPackage(packagePath, destDir string) error {
	archive, err := zip.OpenReader(packagePath)
	if err != nil {
		return err
	}
	defer archive.Close()

	for _, entry := range archive.File {
		if err := extractEntry(entry, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(entry *zip.File, destDir string) error {
	dest := filepath.Join(destDir, filepath.FromSlash(entry.Name))
	// Refuse entries that would escape the workspace.
	if rel, err := filepath.Rel(destDir, dest); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("archive entry escapes workspace: %s", entry.Name)
	}
	if entry.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	in, err := entry.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func findCollectionFile(extractedDir string) (string, error) {
	for _, name := range collectionFilenames {
		candidate := filepath.Join(extractedDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", loadErr(CollectionFileMissing, "no collection database in package", nil)
}

// storeManifestMedia reads the package's media manifest (a JSON object
// mapping archive keys to original filenames) and copies every blob that
// actually exists into the store. Missing blobs and failed copies are skipped.
func storeManifestMedia(extractedDir string, store *media.Store) error {
	raw, err := os.ReadFile(filepath.Join(extractedDir, "media"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return loadErr(MetadataUnreadable, "read media manifest", err)
	}

	manifest := make(map[string]string)
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return loadErr(MetadataUnreadable, "parse media manifest", err)
	}

	for key, filename := range manifest {
		if filename == "" {
			continue
		}
		blobPath := filepath.Join(extractedDir, key)
		if _, err := os.Stat(blobPath); err != nil {
			continue
		}
		if _, err := store.Add(filename, blobPath); err != nil {
			slog.Warn("skipping media file", "filename", filename, "error", err)
		}
	}
	return nil
}

func copyToTemp(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp("", "ankiview_collection_")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

func loadFromSQLite(dbPath string, store *media.Store, mediaURLPath string) (*domain.DeckCollection, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, loadErr(DatabaseUnreadable, "open collection database", err)
	}
	defer db.Close()

	deckNames, models, err := readMetadata(db)
	if err != nil {
		return nil, err
	}

	cards, err := readCards(db, deckNames, models, store.Aliases(), mediaURLPath)
	if err != nil {
		return nil, err
	}

	decks := make(map[int64]*domain.Deck)
	for _, card := range cards {
		deck, ok := decks[card.DeckID]
		if !ok {
			deck = &domain.Deck{DeckID: card.DeckID, Name: card.DeckName}
			decks[card.DeckID] = deck
		}
		deck.Cards = append(deck.Cards, card)
	}
	for _, deck := range decks {
		sort.Slice(deck.Cards, func(i, j int) bool {
			a, b := deck.Cards[i], deck.Cards[j]
			if a.TemplateOrdinal != b.TemplateOrdinal {
				return a.TemplateOrdinal < b.TemplateOrdinal
			}
			return a.CardID < b.CardID
		})
	}

	return &domain.DeckCollection{
		Decks:          decks,
		MediaDirectory: store.Dir(),
		MediaFilenames: store.Aliases(),
		MediaURLPath:   mediaURLPath,
	}, nil
}

func readMetadata(db *sql.DB) (map[int64]string, map[int64]*noteModel, error) {
	var decksJSON, modelsJSON string
	err := db.QueryRow("SELECT decks, models FROM col LIMIT 1").Scan(&decksJSON, &modelsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, loadErr(MetadataUnreadable, "collection database has no col row", err)
	}
	if err != nil {
		return nil, nil, loadErr(DatabaseUnreadable, "read col row", err)
	}

	deckNames, err := parseDeckNames(decksJSON)
	if err != nil {
		return nil, nil, loadErr(MetadataUnreadable, "parse deck metadata", err)
	}
	models, err := parseModels(modelsJSON)
	if err != nil {
		return nil, nil, loadErr(MetadataUnreadable, "parse model metadata", err)
	}
	return deckNames, models, nil
}

// readCards joins cards onto notes in a deterministic order and builds one
// rendered Card per row while the connection is open.
func readCards(
	db *sql.DB,
	deckNames map[int64]string,
	models map[int64]*noteModel,
	aliases map[string]string,
	mediaURLPath string,
) ([]*domain.Card, error) {
	rows, err := db.Query(`
		SELECT cards.id, cards.nid, cards.did, cards.ord, notes.mid, notes.flds
		FROM cards
		JOIN notes ON notes.id = cards.nid
		ORDER BY cards.did, cards.due, cards.id
	`)
	if err != nil {
		return nil, loadErr(DatabaseUnreadable, "query cards", err)
	}
	defer rows.Close()

	var cards []*domain.Card
	for rows.Next() {
		var (
			cardID, noteID, deckID, modelID int64
			ordinal                         int
			fieldBlob                       string
		)
		if err := rows.Scan(&cardID, &noteID, &deckID, &ordinal, &modelID, &fieldBlob); err != nil {
			return nil, loadErr(DatabaseUnreadable, "scan card row", err)
		}

		deckName, ok := deckNames[deckID]
		if !ok {
			deckName = fmt.Sprintf("%d", deckID)
		}

		card := buildCard(cardRow{
			cardID:   cardID,
			noteID:   noteID,
			deckID:   deckID,
			deckName: deckName,
			ordinal:  ordinal,
			fields:   strings.Split(fieldBlob, fieldSeparator),
			model:    models[modelID],
		}, aliases, mediaURLPath)
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, loadErr(DatabaseUnreadable, "iterate card rows", err)
	}
	return cards, nil
}

type cardRow struct {
	cardID   int64
	noteID   int64
	deckID   int64
	deckName string
	ordinal  int
	fields   []string
	model    *noteModel
}

// buildCard renders one cards+notes row into a finished Card: template pass,
// cloze pass, classification, then media rewriting.
func buildCard(row cardRow, aliases map[string]string, mediaURLPath string) *domain.Card {
	questionField := fieldAt(row.fields, 0)
	answerField := fieldAt(row.fields, 1)

	var question, answer string
	ordinal := row.ordinal
	if row.model != nil && len(row.model.Templates) > 0 {
		var tmpl noteTemplate
		tmpl, ordinal = row.model.template(row.ordinal)
		fieldMap := buildFieldMap(row.fields, row.model.fieldNames())
		question = render.RenderTemplate(tmpl.QuestionFormat, fieldMap)
		fieldMap["FrontSide"] = question
		answer = render.RenderTemplate(tmpl.AnswerFormat, fieldMap)
	} else {
		question = questionField
		answer = answerField
	}

	var extras []string
	if len(row.fields) > 2 {
		extras = append(extras, row.fields[2:]...)
	}

	var (
		rawQuestion      string
		questionRevealed string
		deletions        []domain.ClozeDeletion
	)
	// Classify before cloze substitution removes the markers.
	cardType := cardtype.Detect(cardtype.View{
		Question:    question,
		Answer:      answer,
		ExtraFields: extras,
	})

	if render.HasClozeMarker(question) {
		rawQuestion = question
		deletions = cardtype.ParseClozeDeletions(question)
		// Cloze note types have a single template, and the stored ordinal
		// encodes which deletion the card tests (ord 0 tests c1). Use the raw
		// ordinal here; the wrapped one only selects the template.
		activeIndex := row.ordinal + 1
		revealed := render.RenderCloze(question, true, activeIndex)
		question = render.RenderCloze(question, false, activeIndex)
		questionRevealed = revealed
		// Carry any answer-field content that is not just the question
		// repeated, so cloze notes with a separate answer keep it.
		if strings.TrimSpace(answerField) != "" && answerField != questionField {
			revealed += `<div class="cloze-extra-answer">` + answerField + `</div>`
		}
		answer = revealed
	}

	question = media.Rewrite(question, aliases, mediaURLPath)
	answer = media.Rewrite(answer, aliases, mediaURLPath)
	if questionRevealed != "" {
		questionRevealed = media.Rewrite(questionRevealed, aliases, mediaURLPath)
	}
	for i, extra := range extras {
		extras[i] = media.Rewrite(extra, aliases, mediaURLPath)
	}

	return &domain.Card{
		CardID:           row.cardID,
		NoteID:           row.noteID,
		DeckID:           row.deckID,
		DeckName:         row.deckName,
		TemplateOrdinal:  ordinal,
		Question:         question,
		Answer:           answer,
		CardType:         cardType,
		QuestionRevealed: questionRevealed,
		ExtraFields:      extras,
		RawQuestion:      rawQuestion,
		ClozeDeletions:   deletions,
	}
}

func fieldAt(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}
