package deck

import (
	"encoding/json"
	"strconv"
)

// noteModel is the slice of an Anki note type that card rendering needs,
// parsed once per ingestion from the col row's models JSON.
type noteModel struct {
	Name      string         `json:"name"`
	Fields    []noteField    `json:"flds"`
	Templates []noteTemplate `json:"tmpls"`
}

type noteField struct {
	Name string `json:"name"`
}

type noteTemplate struct {
	Name           string `json:"name"`
	QuestionFormat string `json:"qfmt"`
	AnswerFormat   string `json:"afmt"`
}

func (m *noteModel) fieldNames() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

// template resolves an ordinal to one of the model's templates, wrapping
// out-of-range ordinals instead of failing. The wrapped ordinal is returned
// so the card records which template actually rendered it.
func (m *noteModel) template(ordinal int) (noteTemplate, int) {
	if ordinal < 0 {
		ordinal = 0
	}
	ordinal %= len(m.Templates)
	return m.Templates[ordinal], ordinal
}

func parseModels(raw string) (map[int64]*noteModel, error) {
	byID := make(map[string]*noteModel)
	if err := json.Unmarshal([]byte(raw), &byID); err != nil {
		return nil, err
	}
	models := make(map[int64]*noteModel, len(byID))
	for id, model := range byID {
		parsed, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		models[parsed] = model
	}
	return models, nil
}

func parseDeckNames(raw string) (map[int64]string, error) {
	byID := make(map[string]struct {
		Name string `json:"name"`
	})
	if err := json.Unmarshal([]byte(raw), &byID); err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(byID))
	for id, deck := range byID {
		parsed, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		if deck.Name != "" {
			names[parsed] = deck.Name
		} else {
			names[parsed] = id
		}
	}
	return names, nil
}

// buildFieldMap maps a note's positional field values to the model's declared
// field names. Positional Field<N> keys are always registered as aliases so
// templates keep working when a model declares fewer names than the note has
// values.
func buildFieldMap(values, names []string) map[string]string {
	fields := make(map[string]string, 2*len(values))
	for i, value := range values {
		if i < len(names) && names[i] != "" {
			fields[names[i]] = value
		}
		fields["Field"+strconv.Itoa(i+1)] = value
	}
	return fields
}
