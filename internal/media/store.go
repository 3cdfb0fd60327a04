// Package media manages the files extracted from an Anki package: copying
// them into the served media directory under safe names, rewriting <img>
// references in rendered card HTML, and resolving requested filenames back to
// stored files at serving time.
package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// PlaceholderName is stored for media whose name sanitizes to nothing.
const PlaceholderName = "media"

// Store copies media blobs into a directory and records every alias under
// which a stored file can be referenced from card HTML.
type Store struct {
	dir     string
	aliases map[string]string
}

// NewStore returns a store writing into dir, creating it when needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media directory %s: %w", dir, err)
	}
	return &Store{dir: dir, aliases: make(map[string]string)}, nil
}

// Dir returns the directory files are stored in.
func (s *Store) Dir() string { return s.dir }

// Aliases returns the alias map built so far. The map is the live one; it is
// handed to the DeckCollection once ingestion finishes and not mutated after.
func (s *Store) Aliases() map[string]string { return s.aliases }

// Add copies the blob at srcPath into the store under a sanitized,
// collision-free name derived from originalName and registers the aliases
// (original, lowercase, stem, lowercase stem) pointing at the stored name.
func (s *Store) Add(originalName, srcPath string) (string, error) {
	stored := DedupeFilename(s.dir, SanitizeFilename(originalName))
	if err := copyFile(srcPath, filepath.Join(s.dir, stored)); err != nil {
		return "", err
	}
	s.registerAliases(originalName, stored)
	return stored, nil
}

func (s *Store) registerAliases(originalName, stored string) {
	for _, alias := range aliasesFor(originalName) {
		// First registration wins on alias collisions.
		if _, exists := s.aliases[alias]; !exists {
			s.aliases[alias] = stored
		}
	}
}

func aliasesFor(name string) []string {
	lower := strings.ToLower(name)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	out := []string{name, lower}
	if stem != name {
		out = append(out, stem, strings.ToLower(stem))
	}
	return out
}

// Clean removes every entry from the media directory. Used before loading a
// different package so stale files from the previous deck are not served.
func Clean(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// SanitizeFilename reduces name to its base component and replaces every
// character outside [A-Za-z0-9._-] with an underscore. An empty result
// becomes PlaceholderName.
func SanitizeFilename(name string) string {
	name = baseName(name)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return PlaceholderName
	}
	return b.String()
}

// DedupeFilename returns name, or name with a "_<n>" counter inserted before
// the extension, whichever does not yet exist in dir.
func DedupeFilename(dir, name string) string {
	if !fileExists(filepath.Join(dir, name)) {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if !fileExists(filepath.Join(dir, candidate)) {
			return candidate
		}
	}
}

// baseName strips any directory component, accepting both separators since
// package manifests may carry Windows-authored paths.
func baseName(name string) string {
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
