// Package cardtype inspects card text to decide how a card should be
// presented. The functions are pure: they only look at the text fields of the
// view they are handed, so they work both on finished cards and on the
// partial previews built mid-ingestion.
package cardtype

import (
	"regexp"
	"strconv"

	"ankiview/internal/domain"
)

var (
	clozeRe = regexp.MustCompile(`(?is)\{\{c(\d+)::(.*?)(?:::(.*?))?\}\}`)
	imageRe = regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["']`)
)

// View is the minimal read-only slice of a card that detection needs.
type View struct {
	Question         string
	Answer           string
	QuestionRevealed string
	ExtraFields      []string
}

// ViewOf adapts a finished card to a View.
func ViewOf(card *domain.Card) View {
	return View{
		Question:         card.Question,
		Answer:           card.Answer,
		QuestionRevealed: card.QuestionRevealed,
		ExtraFields:      card.ExtraFields,
	}
}

// Detect returns "cloze", "image" or "basic" for the given card view.
// Cloze markers take precedence over embedded images.
func Detect(view View) string {
	if IsCloze(view) {
		return domain.CardTypeCloze
	}
	if IsImage(view) {
		return domain.CardTypeImage
	}
	return domain.CardTypeBasic
}

// IsCloze reports whether any field of the view contains a cloze marker.
func IsCloze(view View) bool {
	for _, text := range view.texts() {
		if len(ParseClozeDeletions(text)) > 0 {
			return true
		}
	}
	return false
}

// IsImage reports whether any field of the view embeds an <img> tag.
func IsImage(view View) bool {
	for _, text := range view.texts() {
		if text != "" && imageRe.MatchString(text) {
			return true
		}
	}
	return false
}

// ParseClozeDeletions extracts every cloze deletion from text in order of
// appearance. Hints are stripped from the returned content. Malformed markers
// simply do not match.
func ParseClozeDeletions(text string) []domain.ClozeDeletion {
	if text == "" {
		return nil
	}
	var deletions []domain.ClozeDeletion
	for _, match := range clozeRe.FindAllStringSubmatch(text, -1) {
		num, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		deletions = append(deletions, domain.ClozeDeletion{Num: num, Content: match[2]})
	}
	return deletions
}

// texts yields the view's fields in detection order: question, answer,
// revealed question, then extras.
func (v View) texts() []string {
	out := make([]string, 0, 3+len(v.ExtraFields))
	for _, text := range []string{v.Question, v.Answer, v.QuestionRevealed} {
		if text != "" {
			out = append(out, text)
		}
	}
	for _, text := range v.ExtraFields {
		if text != "" {
			out = append(out, text)
		}
	}
	return out
}
