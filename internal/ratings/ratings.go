// Package ratings persists per-card rating labels in one JSON file per deck.
package ratings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Labels a card may carry.
var validLabels = map[string]bool{
	"favorite":  true,
	"bad":       true,
	"memorized": true,
}

// IsValidLabel reports whether label is one of the accepted rating labels.
func IsValidLabel(label string) bool { return validLabels[label] }

// Store reads and writes deck rating files under <dataDir>/.ratings/.
// A store built without a data directory is a no-op.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dataDir, creating the ratings directory.
// An empty dataDir yields a disabled store.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		return &Store{}, nil
	}
	dir := filepath.Join(dataDir, ".ratings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ratings directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Enabled reports whether the store has a backing directory.
func (s *Store) Enabled() bool { return s.dir != "" }

func (s *Store) file(deckID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("deck_%d.json", deckID))
}

// Load returns the ratings for a deck as card_id → sorted label list.
// Missing or unreadable files load as empty.
func (s *Store) Load(deckID int64) map[string][]string {
	if !s.Enabled() {
		return map[string][]string{}
	}
	raw, err := os.ReadFile(s.file(deckID))
	if err != nil {
		return map[string][]string{}
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string][]string{}
	}
	return normalizeMap(data)
}

// Save writes the ratings for a deck, normalizing entries first.
func (s *Store) Save(deckID int64, ratings map[string][]string) error {
	if !s.Enabled() {
		return nil
	}
	normalized := make(map[string][]string, len(ratings))
	for cardID, labels := range ratings {
		if cleaned := normalizeLabels(labels); len(cleaned) > 0 {
			normalized[cardID] = cleaned
		}
	}
	encoded, err := json.MarshalIndent(normalized, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ratings: %w", err)
	}
	if err := os.WriteFile(s.file(deckID), encoded, 0o644); err != nil {
		return fmt.Errorf("write ratings file: %w", err)
	}
	return nil
}

// AllFavorites scans every deck file and returns deckID → set of card IDs
// carrying the favorite label. Unreadable files are skipped.
func (s *Store) AllFavorites() map[int64]map[string]bool {
	favorites := make(map[int64]map[string]bool)
	if !s.Enabled() {
		return favorites
	}
	files, err := filepath.Glob(filepath.Join(s.dir, "deck_*.json"))
	if err != nil {
		return favorites
	}
	for _, path := range files {
		base := strings.TrimSuffix(filepath.Base(path), ".json")
		deckID, err := strconv.ParseInt(strings.TrimPrefix(base, "deck_"), 10, 64)
		if err != nil {
			continue
		}
		deckFavorites := make(map[string]bool)
		for cardID, labels := range s.Load(deckID) {
			for _, label := range labels {
				if label == "favorite" {
					deckFavorites[cardID] = true
				}
			}
		}
		if len(deckFavorites) > 0 {
			favorites[deckID] = deckFavorites
		}
	}
	return favorites
}

// normalizeMap accepts the historical file shapes: a plain label string, a
// list of labels, or a label→bool map per card.
func normalizeMap(data map[string]json.RawMessage) map[string][]string {
	normalized := make(map[string][]string, len(data))
	for cardID, raw := range data {
		labels := normalizeEntry(raw)
		if len(labels) > 0 {
			normalized[cardID] = labels
		}
	}
	return normalized
}

func normalizeEntry(raw json.RawMessage) []string {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return normalizeLabels([]string{single})
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return normalizeLabels(list)
	}
	var flags map[string]bool
	if err := json.Unmarshal(raw, &flags); err == nil {
		var labels []string
		for label, active := range flags {
			if active {
				labels = append(labels, label)
			}
		}
		return normalizeLabels(labels)
	}
	return nil
}

func normalizeLabels(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	var cleaned []string
	for _, label := range labels {
		if validLabels[label] && !seen[label] {
			seen[label] = true
			cleaned = append(cleaned, label)
		}
	}
	sort.Strings(cleaned)
	return cleaned
}
