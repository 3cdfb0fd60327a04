package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ankiview/internal/config"
	"ankiview/internal/domain"
	"ankiview/internal/ratings"
)

type serverFixture struct {
	server   *Server
	state    *State
	mediaDir string
	dataDir  string
}

func newServerFixture(t *testing.T, withDataDir bool) *serverFixture {
	t.Helper()

	mediaDir := t.TempDir()
	dataDir := ""
	if withDataDir {
		dataDir = t.TempDir()
	}

	cfg := &config.Config{
		Addr:              "127.0.0.1:0",
		DataDir:           dataDir,
		MediaURLPath:      "/media",
		MediaLookupTTLSec: 5,
		LogLevel:          "info",
	}
	ratingsStore, err := ratings.NewStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}

	state := NewState(mediaDir, cfg.MediaURLPath)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server, err := NewServer(cfg, state, ratingsStore, nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	return &serverFixture{server: server, state: state, mediaDir: mediaDir, dataDir: dataDir}
}

// install makes a hand-built collection the served one, bypassing ingestion.
func (f *serverFixture) install(collection *domain.DeckCollection, packagePath string) {
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	f.state.collection = collection
	f.state.packagePath = packagePath
}

func testCollection(mediaDir string) *domain.DeckCollection {
	basic := &domain.Card{
		CardID:   100,
		NoteID:   10,
		DeckID:   1,
		DeckName: "Arithmetic",
		Question: "What is 2 + 2?",
		Answer:   "4",
		CardType: domain.CardTypeBasic,
	}
	cloze := &domain.Card{
		CardID:           101,
		NoteID:           11,
		DeckID:           1,
		DeckName:         "Arithmetic",
		Question:         `<span class="cloze" data-cloze="1">[&hellip;]</span> is prime`,
		Answer:           `<mark class="cloze" data-cloze="1">Two</mark> is prime`,
		QuestionRevealed: `<mark class="cloze" data-cloze="1">Two</mark> is prime`,
		CardType:         domain.CardTypeCloze,
		RawQuestion:      "{{c1::Two}} is prime",
		ClozeDeletions:   []domain.ClozeDeletion{{Num: 1, Content: "Two"}},
	}
	image := &domain.Card{
		CardID:   200,
		NoteID:   20,
		DeckID:   2,
		DeckName: "Biology",
		Question: `Name this: <img src="/media/diagram.png">`,
		Answer:   "the heart",
		CardType: domain.CardTypeImage,
	}
	return &domain.DeckCollection{
		Decks: map[int64]*domain.Deck{
			1: {DeckID: 1, Name: "Arithmetic", Cards: []*domain.Card{basic, cloze}},
			2: {DeckID: 2, Name: "Biology", Cards: []*domain.Card{image}},
		},
		MediaDirectory: mediaDir,
		MediaFilenames: map[string]string{"diagram.png": "diagram.png"},
		MediaURLPath:   "/media",
	}
}

func get(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t, false)
	rec := get(t, f.server, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeJSON(t, rec); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestListCards(t *testing.T) {
	f := newServerFixture(t, false)

	// No collection loaded yet.
	if rec := get(t, f.server, "/api/cards"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status without a deck = %d, want 503", rec.Code)
	}

	f.install(testCollection(f.mediaDir), "test.apkg")
	rec := get(t, f.server, "/api/cards")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	cards, ok := body["cards"].([]any)
	if !ok || len(cards) != 3 {
		t.Fatalf("cards = %v", body["cards"])
	}
	first := cards[0].(map[string]any)
	for _, key := range []string{"id", "deck_id", "deck_name", "type"} {
		if _, ok := first[key]; !ok {
			t.Errorf("card entry missing %q: %v", key, first)
		}
	}
}

func TestCardJSON(t *testing.T) {
	f := newServerFixture(t, false)
	f.install(testCollection(f.mediaDir), "test.apkg")

	t.Run("basic card", func(t *testing.T) {
		rec := get(t, f.server, "/deck/1/card/100.json")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decodeJSON(t, rec)
		if body["type"] != domain.CardTypeBasic || body["question"] != "What is 2 + 2?" {
			t.Errorf("body = %v", body)
		}
		if _, ok := body["text"]; ok {
			t.Error("basic card should not carry cloze text")
		}
		if _, ok := body["debug"]; !ok {
			t.Error("debug block missing")
		}
	})

	t.Run("cloze card carries text and deletions", func(t *testing.T) {
		rec := get(t, f.server, "/deck/1/card/101.json")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decodeJSON(t, rec)
		if body["text"] != "{{c1::Two}} is prime" {
			t.Errorf("text = %v", body["text"])
		}
		clozes, ok := body["clozes"].([]any)
		if !ok || len(clozes) != 1 {
			t.Fatalf("clozes = %v", body["clozes"])
		}
		first := clozes[0].(map[string]any)
		if first["num"] != float64(1) || first["content"] != "Two" {
			t.Errorf("cloze = %v", first)
		}
	})

	t.Run("image card lists sources", func(t *testing.T) {
		rec := get(t, f.server, "/deck/2/card/200.json")
		body := decodeJSON(t, rec)
		images, ok := body["images"].([]any)
		if !ok || len(images) != 1 || images[0] != "/media/diagram.png" {
			t.Errorf("images = %v", body["images"])
		}
	})

	t.Run("unknown card", func(t *testing.T) {
		if rec := get(t, f.server, "/deck/1/card/999.json"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("card in wrong deck", func(t *testing.T) {
		if rec := get(t, f.server, "/deck/2/card/100.json"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("missing json suffix", func(t *testing.T) {
		if rec := get(t, f.server, "/deck/1/card/100"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestIndexAndDeckPages(t *testing.T) {
	f := newServerFixture(t, false)

	// Without a collection the index explains itself instead of failing.
	rec := get(t, f.server, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No deck loaded") {
		t.Errorf("missing-package page not rendered:\n%s", rec.Body.String())
	}

	f.install(testCollection(f.mediaDir), "test.apkg")

	rec = get(t, f.server, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for _, want := range []string{"Arithmetic", "Biology"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("index missing %q", want)
		}
	}

	rec = get(t, f.server, "/deck/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("deck status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Arithmetic") {
		t.Error("deck page missing deck name")
	}

	if rec = get(t, f.server, "/deck/404"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown deck status = %d", rec.Code)
	}
}

func TestMediaServing(t *testing.T) {
	f := newServerFixture(t, false)
	f.install(testCollection(f.mediaDir), "test.apkg")
	if err := os.WriteFile(filepath.Join(f.mediaDir, "diagram.png"), []byte("png bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("exact name", func(t *testing.T) {
		rec := get(t, f.server, "/media/diagram.png")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Body.String() != "png bytes" {
			t.Errorf("body = %q", rec.Body.String())
		}
		if rec.Header().Get("X-Media-Lookup-Time-ms") == "" {
			t.Error("lookup time header missing")
		}
		if rec.Header().Get("X-Media-Fallback") == "" {
			// Resolution went through the alias map, which reports a tier.
			t.Error("fallback header missing for map resolution")
		}
	})

	t.Run("case-insensitive fallback", func(t *testing.T) {
		rec := get(t, f.server, "/media/DIAGRAM.png")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Header().Get("X-Media-Fallback") == "" {
			t.Error("fallback header missing")
		}
	})

	t.Run("not found", func(t *testing.T) {
		if rec := get(t, f.server, "/media/missing.png"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestRatingsEndpoints(t *testing.T) {
	f := newServerFixture(t, true)
	f.install(testCollection(f.mediaDir), "test.apkg")

	rec := get(t, f.server, "/api/deck/1/ratings")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if m, ok := body["ratings"].(map[string]any); !ok || len(m) != 0 {
		t.Errorf("initial ratings = %v", body["ratings"])
	}

	post := func(cardID, payload string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/card/"+cardID+"/rating", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		return rec
	}

	if rec := post("100", `{"deck_id": 1, "rating": "favorite"}`); rec.Code != http.StatusOK {
		t.Fatalf("set rating status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = get(t, f.server, "/api/deck/1/ratings")
	body = decodeJSON(t, rec)
	m := body["ratings"].(map[string]any)
	labels, ok := m["100"].([]any)
	if !ok || len(labels) != 1 || labels[0] != "favorite" {
		t.Errorf("ratings after set = %v", m)
	}

	// Clearing with an empty rating removes the entry.
	if rec := post("100", `{"deck_id": 1, "rating": ""}`); rec.Code != http.StatusOK {
		t.Fatalf("clear rating status = %d", rec.Code)
	}
	rec = get(t, f.server, "/api/deck/1/ratings")
	body = decodeJSON(t, rec)
	if m := body["ratings"].(map[string]any); len(m) != 0 {
		t.Errorf("ratings after clear = %v", m)
	}

	if rec := post("100", `{"deck_id": 1, "rating": "amazing"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid label status = %d", rec.Code)
	}
	if rec := post("100", `{"rating": "favorite"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing deck_id status = %d", rec.Code)
	}
	if rec := post("100", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("broken body status = %d", rec.Code)
	}
}

func TestRatingsRequireDataDir(t *testing.T) {
	f := newServerFixture(t, false)
	f.install(testCollection(f.mediaDir), "test.apkg")

	if rec := get(t, f.server, "/api/deck/1/ratings"); rec.Code != http.StatusNotImplemented {
		t.Errorf("get ratings status = %d, want 501", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/card/100/rating", strings.NewReader(`{"deck_id":1,"rating":"favorite"}`))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("set rating status = %d, want 501", rec.Code)
	}
	if rec := get(t, f.server, "/favorites"); rec.Code != http.StatusNotImplemented {
		t.Errorf("favorites status = %d, want 501", rec.Code)
	}
}

func TestSwitchRequiresDataDir(t *testing.T) {
	f := newServerFixture(t, false)
	if rec := get(t, f.server, "/switch/other.apkg"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSwitchRejectsBadNames(t *testing.T) {
	f := newServerFixture(t, true)
	if rec := get(t, f.server, "/switch/notes.txt"); rec.Code != http.StatusNotFound {
		t.Errorf("non-apkg status = %d", rec.Code)
	}
	if rec := get(t, f.server, "/switch/missing.apkg"); rec.Code != http.StatusNotFound {
		t.Errorf("missing package status = %d", rec.Code)
	}
}

func TestDevEndpointsGated(t *testing.T) {
	f := newServerFixture(t, false)
	if rec := get(t, f.server, "/dev/media-stats"); rec.Code != http.StatusNotFound {
		t.Errorf("dev stats without dev mode = %d", rec.Code)
	}
	if rec := get(t, f.server, "/dev/media-matches/pic.png"); rec.Code != http.StatusNotFound {
		t.Errorf("dev matches without dev mode = %d", rec.Code)
	}
}

func TestDevMediaStats(t *testing.T) {
	f := newServerFixture(t, false)
	f.server.cfg.DevMode = true
	f.install(testCollection(f.mediaDir), "test.apkg")

	rec := get(t, f.server, "/dev/media-stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["count"] != float64(0) || body["avg_lookup_time_ms"] != nil {
		t.Errorf("initial stats = %v", body)
	}

	get(t, f.server, "/media/missing.png")
	rec = get(t, f.server, "/dev/media-stats")
	body = decodeJSON(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("stats after lookup = %v", body)
	}
}

func TestDevMediaMatches(t *testing.T) {
	f := newServerFixture(t, false)
	f.server.cfg.DevMode = true
	if err := os.WriteFile(filepath.Join(f.mediaDir, "Pic.PNG"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := get(t, f.server, "/dev/media-matches/pic.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	matches, ok := body["matches"].([]any)
	if !ok || len(matches) != 1 || matches[0] != "Pic.PNG" {
		t.Errorf("matches = %v", body["matches"])
	}
}
