package web

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"ankiview/internal/domain"
)

var imgSrcRe = regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["']`)

// gatherImageSources collects the image URLs a card references under the
// media prefix, deduplicated and in first-seen order.
func gatherImageSources(card *domain.Card, mediaURLPath string) []string {
	prefix := strings.TrimRight(mediaURLPath, "/") + "/"
	seen := make(map[string]bool)
	var sources []string
	for _, html := range []string{card.Question, card.Answer, card.QuestionRevealed} {
		for _, match := range imgSrcRe.FindAllStringSubmatch(html, -1) {
			src := match[1]
			if !strings.HasPrefix(src, prefix) || seen[src] {
				continue
			}
			seen[src] = true
			sources = append(sources, src)
		}
	}
	return sources
}

// buildCardDebug assembles the diagnostic block attached to card payloads. It
// reports how the card was assembled and whether its images resolve on disk,
// which is the first thing to check when a card renders with broken media.
func (s *Server) buildCardDebug(card *domain.Card, imageSources []string, collection *domain.DeckCollection) map[string]any {
	return map[string]any{
		"note_id":                      card.NoteID,
		"deck_id":                      card.DeckID,
		"deck_name":                    card.DeckName,
		"template_ordinal":             card.TemplateOrdinal,
		"raw_question":                 card.RawQuestion,
		"cloze_deletions":              card.ClozeDeletions,
		"question_length":              len(card.Question),
		"answer_length":                len(card.Answer),
		"has_question_revealed":        card.QuestionRevealed != "",
		"extra_fields_count":           len(card.ExtraFields),
		"image_sources_found":          imageSources,
		"media_url_path":               s.cfg.MediaURLPath,
		"media_directory":              s.state.MediaDir(),
		"total_media_files":            len(collection.MediaFilenames),
		"image_file_status":            s.imageFileStatus(imageSources, collection),
		"similar_media_files":          similarMediaFiles(imageSources, collection, s.cfg.MediaURLPath),
		"available_media_files_sample": aliasSample(collection.MediaFilenames, 10),
	}
}

// imageFileStatus resolves each referenced image URL back to the media
// directory and reports whether the file is actually there.
func (s *Server) imageFileStatus(sources []string, collection *domain.DeckCollection) map[string]map[string]any {
	prefix := strings.TrimRight(s.cfg.MediaURLPath, "/") + "/"
	status := make(map[string]map[string]any, len(sources))
	for _, src := range sources {
		filename := strings.TrimPrefix(src, prefix)
		stored, ok := collection.MediaFilenames[filename]
		if !ok {
			stored = filename
		}
		fullPath := filepath.Join(s.state.MediaDir(), stored)
		_, err := os.Stat(fullPath)
		status[src] = map[string]any{
			"filename":       filename,
			"exists_on_disk": err == nil,
			"full_path":      fullPath,
		}
	}
	return status
}

// similarMediaFiles suggests close alias matches for each referenced image,
// comparing lowercased stems by substring in either direction.
func similarMediaFiles(sources []string, collection *domain.DeckCollection, mediaURLPath string) map[string][]string {
	prefix := strings.TrimRight(mediaURLPath, "/") + "/"
	similar := make(map[string][]string)
	for _, src := range sources {
		filename := strings.TrimPrefix(src, prefix)
		wanted := lowerStem(filename)
		var matches []string
		for alias := range collection.MediaFilenames {
			candidate := lowerStem(alias)
			if candidate == "" || wanted == "" {
				continue
			}
			if strings.Contains(candidate, wanted) || strings.Contains(wanted, candidate) {
				matches = append(matches, alias)
			}
		}
		sort.Strings(matches)
		if len(matches) > 5 {
			matches = matches[:5]
		}
		similar[filename] = matches
	}
	return similar
}

func lowerStem(name string) string {
	base := strings.ToLower(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// aliasSample returns up to n alias keys in sorted order.
func aliasSample(aliases map[string]string, n int) []string {
	keys := make([]string, 0, len(aliases))
	for key := range aliases {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
