package web

import (
	"path/filepath"
	"sync"

	"ankiview/internal/deck"
	"ankiview/internal/domain"
	"ankiview/internal/media"
)

// State holds the collection currently being served. Loading a package swaps
// the collection pointer under the lock, so readers holding the previous
// collection are unaffected; collections themselves are immutable.
type State struct {
	mediaDir     string
	mediaURLPath string

	mu          sync.RWMutex
	collection  *domain.DeckCollection
	packagePath string
	cache       map[string]*domain.DeckCollection
}

// NewState returns a State serving media from mediaDir under mediaURLPath.
func NewState(mediaDir, mediaURLPath string) *State {
	return &State{
		mediaDir:     mediaDir,
		mediaURLPath: mediaURLPath,
		cache:        make(map[string]*domain.DeckCollection),
	}
}

// Collection returns the currently served collection, or nil when the last
// load failed.
func (s *State) Collection() *domain.DeckCollection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection
}

// PackagePath returns the path of the package last asked for.
func (s *State) PackagePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.packagePath
}

// MediaDir returns the managed media directory.
func (s *State) MediaDir() string { return s.mediaDir }

// Load ingests pkgPath and makes it the served collection. Previously loaded
// packages are answered from an in-memory cache. When cleanMedia is set the
// media directory is emptied before ingestion so stale files from another
// deck are not served. The second result reports a cache hit.
func (s *State) Load(pkgPath string, cleanMedia bool) (*domain.DeckCollection, bool, error) {
	key, err := filepath.Abs(pkgPath)
	if err != nil {
		key = pkgPath
	}

	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		s.collection = cached
		s.packagePath = pkgPath
		s.mu.Unlock()
		return cached, true, nil
	}
	s.mu.Unlock()

	if cleanMedia {
		// Best effort: a stale file is preferable to a failed load.
		_ = media.Clean(s.mediaDir)
	}

	collection, err := deck.Load(pkgPath, deck.Options{
		MediaDir:     s.mediaDir,
		MediaURLPath: s.mediaURLPath,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.packagePath = pkgPath
	if err != nil {
		s.collection = nil
		return nil, false, err
	}
	s.cache[key] = collection
	s.collection = collection
	return collection, false, nil
}
