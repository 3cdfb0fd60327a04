package domain

// Card type labels as exposed through the JSON API.
const (
	CardTypeBasic = "basic"
	CardTypeCloze = "cloze"
	CardTypeImage = "image"
)

// ClozeDeletion is a single {{cN::...}} marker extracted from a note field.
type ClozeDeletion struct {
	Num     int    `json:"num"`
	Content string `json:"content"`
}

// Card is a single rendered flashcard. It is built once during ingestion and
// never mutated afterwards.
type Card struct {
	CardID           int64
	NoteID           int64
	DeckID           int64
	DeckName         string
	TemplateOrdinal  int
	Question         string
	Answer           string
	CardType         string
	QuestionRevealed string
	ExtraFields      []string
	RawQuestion      string
	ClozeDeletions   []ClozeDeletion
}

// Deck groups the cards that belong to the same Anki deck. Cards are appended
// during ingestion and sorted by (TemplateOrdinal, CardID) before the deck is
// handed to callers.
type Deck struct {
	DeckID int64
	Name   string
	Cards  []*Card
}

// RootName returns the top-level segment of an Anki "Parent::Child" deck name.
func (d *Deck) RootName() string {
	for i := 0; i+1 < len(d.Name); i++ {
		if d.Name[i] == ':' && d.Name[i+1] == ':' {
			return d.Name[:i]
		}
	}
	return d.Name
}

// DeckCollection holds every deck parsed from one Anki package together with
// the media alias map produced while extracting it. A collection is replaced
// wholesale when another package is loaded; it is never patched in place.
type DeckCollection struct {
	Decks          map[int64]*Deck
	MediaDirectory string
	// MediaFilenames maps every known alias of a media file (original name,
	// lowercased name, stem, lowercased stem) to its stored on-disk name.
	MediaFilenames map[string]string
	MediaURLPath   string
}

// TotalCards reports the number of cards across all decks.
func (c *DeckCollection) TotalCards() int {
	total := 0
	for _, deck := range c.Decks {
		total += len(deck.Cards)
	}
	return total
}

// Card returns the card with the given ID inside the given deck, or nil.
func (c *DeckCollection) Card(deckID, cardID int64) *Card {
	deck, ok := c.Decks[deckID]
	if !ok {
		return nil
	}
	for _, card := range deck.Cards {
		if card.CardID == cardID {
			return card
		}
	}
	return nil
}

// MediaURLFor resolves a media alias to its public URL, or "" when unknown.
func (c *DeckCollection) MediaURLFor(filename string) string {
	stored, ok := c.MediaFilenames[filename]
	if !ok {
		return ""
	}
	return c.MediaURLPath + "/" + stored
}
