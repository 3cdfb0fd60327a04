package web

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"ankiview/internal/domain"
	"ankiview/internal/media"
	"ankiview/internal/ratings"
)

// deckFilter describes one top-level deck name filter shown on the index.
type deckFilter struct {
	Label    string
	Value    string
	Shortcut string
}

// favoritesDeckID marks the virtual deck aggregating favorited cards.
const favoritesDeckID = 999999

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	collection := s.state.Collection()
	if collection == nil {
		s.renderPage(w, http.StatusOK, "missing_package", map[string]any{
			"PackagePath": s.state.PackagePath(),
		})
		return
	}
	s.renderPage(w, http.StatusOK, "index", map[string]any{
		"Collection":        collection,
		"Decks":             sortedDecks(collection),
		"DeckFilters":       buildDeckFilters(collection),
		"AvailablePackages": s.packageNames(),
		"CurrentPackage":    filepath.Base(s.state.PackagePath()),
	})
}

func (s *Server) handleDeck(w http.ResponseWriter, r *http.Request) {
	collection := s.state.Collection()
	if collection == nil {
		s.renderPage(w, http.StatusNotFound, "missing_package", map[string]any{
			"PackagePath": s.state.PackagePath(),
		})
		return
	}
	deckID, err := strconv.ParseInt(r.PathValue("deckID"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	deck, ok := collection.Decks[deckID]
	if !ok {
		s.renderPage(w, http.StatusNotFound, "deck_not_found", map[string]any{"DeckID": deckID})
		return
	}
	s.renderPage(w, http.StatusOK, "deck", map[string]any{
		"Deck":         deck,
		"Collection":   collection,
		"IsFavorites":  false,
		"MediaURLPath": s.cfg.MediaURLPath,
	})
}

// handleSwitch hot-swaps the served collection to another package in the
// data directory.
func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DataDir == "" {
		http.NotFound(w, r)
		return
	}
	filename := r.PathValue("filename")
	if strings.ContainsAny(filename, `/\`) || filepath.Ext(filename) != ".apkg" {
		http.NotFound(w, r)
		return
	}
	target := filepath.Join(s.cfg.DataDir, filename)
	if _, err := os.Stat(target); err != nil {
		http.NotFound(w, r)
		return
	}
	if _, fromCache, err := s.state.Load(target, true); err != nil {
		s.logger.Warn("unable to load deck", "package", filename, "error", err)
	} else if fromCache {
		s.logger.Info("loaded deck from cache", "package", filename)
	} else {
		s.logger.Info("loaded deck from file", "package", filename)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleFavorites renders a virtual deck of favorited cards from every known
// package.
func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	if !s.ratings.Enabled() {
		http.Error(w, "favorites require a data directory", http.StatusNotImplemented)
		return
	}
	favorites := s.ratings.AllFavorites()
	if len(favorites) == 0 {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	var cards []*domain.Card
	for _, pkg := range s.packages {
		collection, _, err := s.state.Load(pkg, false)
		if err != nil {
			s.logger.Warn("skipping package while collecting favorites", "package", pkg, "error", err)
			continue
		}
		for deckID, deck := range collection.Decks {
			wanted := favorites[deckID]
			if len(wanted) == 0 {
				continue
			}
			for _, card := range deck.Cards {
				if wanted[strconv.FormatInt(card.CardID, 10)] {
					cards = append(cards, card)
				}
			}
		}
	}
	if len(cards) == 0 {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	s.renderPage(w, http.StatusOK, "deck", map[string]any{
		"Deck":         &domain.Deck{DeckID: favoritesDeckID, Name: "Favorites", Cards: cards},
		"Collection":   s.state.Collection(),
		"IsFavorites":  true,
		"MediaURLPath": s.cfg.MediaURLPath,
	})
}

func (s *Server) handleCardJSON(w http.ResponseWriter, r *http.Request) {
	collection := s.state.Collection()
	if collection == nil {
		http.NotFound(w, r)
		return
	}
	deckID, err := strconv.ParseInt(r.PathValue("deckID"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	cardFile := r.PathValue("cardFile")
	if !strings.HasSuffix(cardFile, ".json") {
		http.NotFound(w, r)
		return
	}
	cardID, err := strconv.ParseInt(strings.TrimSuffix(cardFile, ".json"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	card := collection.Card(deckID, cardID)
	if card == nil {
		http.NotFound(w, r)
		return
	}

	imageSources := gatherImageSources(card, s.cfg.MediaURLPath)
	payload := map[string]any{
		"id":                card.CardID,
		"type":              card.CardType,
		"question":          card.Question,
		"answer":            card.Answer,
		"question_revealed": card.QuestionRevealed,
		"extra_fields":      card.ExtraFields,
	}
	if card.CardType == domain.CardTypeCloze {
		payload["text"] = card.RawQuestion
		payload["clozes"] = card.ClozeDeletions
	}
	if card.CardType == domain.CardTypeImage && len(imageSources) > 0 {
		payload["images"] = imageSources
	}
	payload["debug"] = s.buildCardDebug(card, imageSources, collection)

	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	collection := s.state.Collection()
	if collection == nil {
		http.Error(w, "no deck loaded", http.StatusServiceUnavailable)
		return
	}
	cards := make([]map[string]any, 0, collection.TotalCards())
	for _, deck := range sortedDecks(collection) {
		for _, card := range deck.Cards {
			cards = append(cards, map[string]any{
				"id":        card.CardID,
				"deck_id":   card.DeckID,
				"deck_name": card.DeckName,
				"type":      card.CardType,
			})
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cards": cards})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleGetRatings(w http.ResponseWriter, r *http.Request) {
	if !s.ratings.Enabled() {
		http.Error(w, "ratings storage not configured", http.StatusNotImplemented)
		return
	}
	deckID, err := strconv.ParseInt(r.PathValue("deckID"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ratings": s.ratings.Load(deckID)})
}

func (s *Server) handleSetRating(w http.ResponseWriter, r *http.Request) {
	if !s.ratings.Enabled() {
		http.Error(w, "ratings storage not configured", http.StatusNotImplemented)
		return
	}
	cardID, err := strconv.ParseInt(r.PathValue("cardID"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	var body struct {
		DeckID int64  `json:"deck_id"`
		Rating string `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.DeckID == 0 {
		http.Error(w, "deck_id is required", http.StatusBadRequest)
		return
	}
	if body.Rating != "" && !ratings.IsValidLabel(body.Rating) {
		http.Error(w, "rating must be 'favorite', 'bad', 'memorized' or empty", http.StatusBadRequest)
		return
	}

	deckRatings := s.ratings.Load(body.DeckID)
	key := strconv.FormatInt(cardID, 10)
	if body.Rating == "" {
		delete(deckRatings, key)
	} else {
		deckRatings[key] = []string{body.Rating}
	}
	if err := s.ratings.Save(body.DeckID, deckRatings); err != nil {
		s.logger.Error("saving ratings failed", "deck_id", body.DeckID, "error", err)
		http.Error(w, "could not save rating", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"card_id": cardID,
		"rating":  body.Rating,
	})
}

// handleMedia serves extracted media through the tiered filename lookup.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	var aliases map[string]string
	if collection := s.state.Collection(); collection != nil {
		aliases = collection.MediaFilenames
	}

	start := time.Now()
	stored, tier := s.lookup.Find(s.state.MediaDir(), filename, aliases)
	elapsed := time.Since(start)
	s.recordLookup(elapsed)

	if stored == "" {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(s.state.MediaDir(), stored)
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("X-Media-Lookup-Time-ms", strconv.FormatInt(elapsed.Milliseconds(), 10))
	if tier != "" && tier != media.TierExact {
		w.Header().Set("X-Media-Fallback", tier)
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleDevMediaMatches(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DevMode {
		http.NotFound(w, r)
		return
	}
	requested := r.PathValue("filename")
	matches := []string{}
	if entries, err := os.ReadDir(s.state.MediaDir()); err == nil {
		for _, entry := range entries {
			if entry.Type().IsRegular() && strings.EqualFold(entry.Name(), requested) {
				matches = append(matches, entry.Name())
			}
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"requested": requested, "matches": matches})
}

func (s *Server) handleDevMediaStats(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DevMode {
		http.NotFound(w, r)
		return
	}
	count, total := s.lookupStats()
	payload := map[string]any{
		"count":         count,
		"total_time_ms": total.Milliseconds(),
	}
	if count > 0 {
		payload["avg_lookup_time_ms"] = total.Milliseconds() / int64(count)
	} else {
		payload["avg_lookup_time_ms"] = nil
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

func (s *Server) renderPage(w http.ResponseWriter, status int, name string, data map[string]any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("rendering template failed", "template", name, "error", err)
	}
}

func (s *Server) packageNames() []string {
	names := make([]string, 0, len(s.packages))
	for _, pkg := range s.packages {
		names = append(names, filepath.Base(pkg))
	}
	return names
}

// buildDeckFilters derives the top-level deck name filters, assigning the 1-9
// keyboard shortcuts in case-insensitive name order.
func buildDeckFilters(collection *domain.DeckCollection) []deckFilter {
	rootNames := make(map[string]bool)
	for _, deck := range collection.Decks {
		rootNames[deck.RootName()] = true
	}
	names := make([]string, 0, len(rootNames))
	for name := range rootNames {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	filters := make([]deckFilter, 0, len(names))
	for i, name := range names {
		shortcut := ""
		if i < 9 {
			shortcut = strconv.Itoa(i + 1)
		}
		filters = append(filters, deckFilter{Label: name, Value: name, Shortcut: shortcut})
	}
	return filters
}

func sortedDecks(collection *domain.DeckCollection) []*domain.Deck {
	decks := make([]*domain.Deck, 0, len(collection.Decks))
	for _, deck := range collection.Decks {
		decks = append(decks, deck)
	}
	sort.Slice(decks, func(i, j int) bool {
		return strings.ToLower(decks[i].Name) < strings.ToLower(decks[j].Name)
	})
	return decks
}
