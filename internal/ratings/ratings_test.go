package ratings

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestSaveAndLoad(t *testing.T) {
	store := newTestStore(t)

	in := map[string][]string{
		"100": {"favorite"},
		"101": {"bad", "memorized"},
	}
	if err := store.Save(1, in); err != nil {
		t.Fatal(err)
	}

	out := store.Load(1)
	if !reflect.DeepEqual(out, in) {
		t.Errorf("Load = %v, want %v", out, in)
	}
}

func TestLoadMissingDeckIsEmpty(t *testing.T) {
	store := newTestStore(t)
	if got := store.Load(99); len(got) != 0 {
		t.Errorf("Load of unknown deck = %v", got)
	}
}

func TestLoadUnreadableFileIsEmpty(t *testing.T) {
	store := newTestStore(t)
	if err := os.WriteFile(filepath.Join(store.dir, "deck_5.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := store.Load(5); len(got) != 0 {
		t.Errorf("Load of broken file = %v", got)
	}
}

func TestSaveNormalizes(t *testing.T) {
	store := newTestStore(t)

	err := store.Save(2, map[string][]string{
		"1": {"favorite", "favorite", "nonsense"},
		"2": {"memorized", "bad"},
		"3": {"not-a-label"},
		"4": nil,
	})
	if err != nil {
		t.Fatal(err)
	}

	out := store.Load(2)
	expected := map[string][]string{
		"1": {"favorite"},
		"2": {"bad", "memorized"},
	}
	if !reflect.DeepEqual(out, expected) {
		t.Errorf("Load after Save = %v, want %v", out, expected)
	}
}

func TestLoadLegacyShapes(t *testing.T) {
	store := newTestStore(t)
	legacy := `{
		"1": "favorite",
		"2": ["bad", "favorite"],
		"3": {"memorized": true, "bad": false},
		"4": "unknown-label"
	}`
	if err := os.WriteFile(filepath.Join(store.dir, "deck_3.json"), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	out := store.Load(3)
	expected := map[string][]string{
		"1": {"favorite"},
		"2": {"bad", "favorite"},
		"3": {"memorized"},
	}
	if !reflect.DeepEqual(out, expected) {
		t.Errorf("legacy load = %v, want %v", out, expected)
	}
}

func TestAllFavorites(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(1, map[string][]string{
		"10": {"favorite"},
		"11": {"bad"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(2, map[string][]string{
		"20": {"favorite", "memorized"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(3, map[string][]string{
		"30": {"memorized"},
	}); err != nil {
		t.Fatal(err)
	}

	favorites := store.AllFavorites()
	expected := map[int64]map[string]bool{
		1: {"10": true},
		2: {"20": true},
	}
	if !reflect.DeepEqual(favorites, expected) {
		t.Errorf("AllFavorites = %v, want %v", favorites, expected)
	}
}

func TestDisabledStore(t *testing.T) {
	store, err := NewStore("")
	if err != nil {
		t.Fatal(err)
	}
	if store.Enabled() {
		t.Error("store without a data dir should be disabled")
	}
	if err := store.Save(1, map[string][]string{"1": {"favorite"}}); err != nil {
		t.Errorf("disabled Save should be a no-op, got %v", err)
	}
	if got := store.Load(1); len(got) != 0 {
		t.Errorf("disabled Load = %v", got)
	}
	if got := store.AllFavorites(); len(got) != 0 {
		t.Errorf("disabled AllFavorites = %v", got)
	}
}

func TestIsValidLabel(t *testing.T) {
	for _, label := range []string{"favorite", "bad", "memorized"} {
		if !IsValidLabel(label) {
			t.Errorf("%q should be valid", label)
		}
	}
	for _, label := range []string{"", "Favorite", "liked"} {
		if IsValidLabel(label) {
			t.Errorf("%q should be invalid", label)
		}
	}
}
