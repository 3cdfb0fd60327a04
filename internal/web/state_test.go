package web

import (
	"path/filepath"
	"testing"
)

func TestStateLoadFailureClearsCollection(t *testing.T) {
	state := NewState(t.TempDir(), "/media")
	state.collection = testCollection(state.MediaDir())

	missing := filepath.Join(t.TempDir(), "absent.apkg")
	if _, _, err := state.Load(missing, false); err == nil {
		t.Fatal("expected an error for a missing package")
	}
	if state.Collection() != nil {
		t.Error("failed load should leave no collection being served")
	}
	if state.PackagePath() != missing {
		t.Errorf("package path = %q, want %q", state.PackagePath(), missing)
	}
}

func TestStateLoadCacheHit(t *testing.T) {
	state := NewState(t.TempDir(), "/media")
	cached := testCollection(state.MediaDir())

	pkg := filepath.Join(t.TempDir(), "deck.apkg")
	key, err := filepath.Abs(pkg)
	if err != nil {
		t.Fatal(err)
	}
	state.cache[key] = cached

	// The package file does not exist, so only the cache can answer.
	collection, fromCache, err := state.Load(pkg, true)
	if err != nil {
		t.Fatal(err)
	}
	if !fromCache {
		t.Error("expected a cache hit")
	}
	if collection != cached {
		t.Error("cache returned a different collection")
	}
	if state.Collection() != cached {
		t.Error("cache hit did not swap the served collection")
	}
}

func TestStateAccessorsEmpty(t *testing.T) {
	state := NewState("/tmp/media", "/media")
	if state.Collection() != nil {
		t.Error("fresh state should serve no collection")
	}
	if state.PackagePath() != "" {
		t.Error("fresh state should have no package path")
	}
	if state.MediaDir() != "/tmp/media" {
		t.Errorf("media dir = %q", state.MediaDir())
	}
}
