package media

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Lookup tiers reported for diagnostics.
const (
	TierExact    = "exact"
	TierMapExact = "map-exact"
	TierMapCI    = "map-ci"
	TierFsCI     = "fs-ci"
)

// Lookup resolves requested media filenames to stored files at serving time.
// Directory listings and per-filename results are cached with a TTL and
// invalidated when the directory mtime changes; the caches are advisory, the
// alias map stays the source of truth. Safe for concurrent use.
type Lookup struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	names   map[string]namesEntry
	results map[resultKey]resultEntry
}

type namesEntry struct {
	at    time.Time
	mtime time.Time
	names map[string]struct{}
}

type resultKey struct {
	dir      string
	filename string
}

type resultEntry struct {
	at     time.Time
	mtime  time.Time
	stored string
	tier   string
}

// NewLookup returns a lookup whose cache entries expire after ttl.
func NewLookup(ttl time.Duration) *Lookup {
	return &Lookup{
		ttl:     ttl,
		now:     time.Now,
		names:   make(map[string]namesEntry),
		results: make(map[resultKey]resultEntry),
	}
}

// Find returns the stored filename to serve for the requested one, plus the
// tier that matched. Resolution order: cached result, alias map exact, alias
// map case-insensitive (unique matches only), then a case-insensitive scan of
// the directory (unique matches only). More than one case-insensitive match
// is ambiguous and reported as not found rather than guessed at. Filenames
// containing path separators are never fuzzily matched.
func (l *Lookup) Find(dir, filename string, aliases map[string]string) (string, string) {
	if strings.ContainsAny(filename, `/\`) {
		return "", ""
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", ""
	}

	if stored, tier, ok := l.cachedResult(dir, filename); ok {
		return stored, tier
	}

	stored, tier, cacheable := l.resolve(dir, filename, aliases)
	if cacheable {
		l.storeResult(dir, filename, stored, tier)
	}
	return stored, tier
}

// resolve reports whether the outcome may be cached: hits and deliberate
// ambiguity refusals are, a plain not-found is not, so a file that shows up
// later is picked up on the next request.
func (l *Lookup) resolve(dir, filename string, aliases map[string]string) (string, string, bool) {
	if len(aliases) > 0 {
		if stored, ok := aliases[filename]; ok {
			return stored, TierMapExact, true
		}
		lower := strings.ToLower(filename)
		var ciMatches []string
		for alias, stored := range aliases {
			if strings.ToLower(alias) == lower {
				ciMatches = append(ciMatches, stored)
			}
		}
		if len(ciMatches) == 1 {
			return ciMatches[0], TierMapCI, true
		}
		if len(ciMatches) > 1 {
			return "", "", true
		}
	}

	names := l.dirNames(dir)
	lower := strings.ToLower(filename)
	var ciMatches []string
	for name := range names {
		if strings.ToLower(name) == lower {
			ciMatches = append(ciMatches, name)
		}
	}
	if len(ciMatches) > 1 {
		return "", "", true
	}
	if len(ciMatches) == 0 {
		return "", "", false
	}
	if ciMatches[0] == filename {
		return filename, TierExact, true
	}
	return ciMatches[0], TierFsCI, true
}

// dirNames returns the cached set of regular-file names in dir, refreshing it
// when the cache entry is stale or the directory mtime moved.
func (l *Lookup) dirNames(dir string) map[string]struct{} {
	now := l.now()
	mtime := dirModTime(dir)

	l.mu.Lock()
	entry, ok := l.names[dir]
	l.mu.Unlock()
	if ok && now.Sub(entry.at) < l.ttl && entry.mtime.Equal(mtime) {
		return entry.names
	}

	names := make(map[string]struct{})
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if e.Type().IsRegular() {
				names[e.Name()] = struct{}{}
			}
		}
	}

	l.mu.Lock()
	l.names[dir] = namesEntry{at: now, mtime: mtime, names: names}
	l.mu.Unlock()
	return names
}

func (l *Lookup) cachedResult(dir, filename string) (string, string, bool) {
	l.mu.Lock()
	entry, ok := l.results[resultKey{dir, filename}]
	l.mu.Unlock()
	if !ok {
		return "", "", false
	}
	if l.now().Sub(entry.at) >= l.ttl {
		return "", "", false
	}
	if !entry.mtime.Equal(dirModTime(dir)) {
		return "", "", false
	}
	return entry.stored, entry.tier, true
}

func (l *Lookup) storeResult(dir, filename, stored, tier string) {
	entry := resultEntry{at: l.now(), mtime: dirModTime(dir), stored: stored, tier: tier}
	l.mu.Lock()
	l.results[resultKey{dir, filename}] = entry
	l.mu.Unlock()
}

func dirModTime(dir string) time.Time {
	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
