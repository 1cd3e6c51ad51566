package vocab

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	appLog "crewcal/internal/log"
	"crewcal/internal/model"
)

// nameOrObject decodes one vocabulary entry stored either as a bare string
// (older clients) or as an object with a name and optional colour.
type nameOrObject struct {
	Name  string
	Color string
	// pos is the entry's position in the stored array, blanks included.
	pos int
}

func (n *nameOrObject) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &n.Name)
	}
	var obj struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	n.Name, n.Color = obj.Name, obj.Color
	return nil
}

// Migrate decodes the sentinel payload and normalizes every historical shape
// into the current one:
//
//   - roles as bare strings get palette colours by stored position, blank
//     entries still taking a slot; objects missing a colour are filled the
//     same way; an absent roles field means defaults
//   - personnel may be stored under the legacy "people" key
//   - personnel and projects given as {name} objects are reduced to names
//
// A field that cannot be decoded falls back to its default with a warning;
// only a payload that is not a JSON object is an error.
func Migrate(raw []byte) (model.Vocabulary, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Default(), fmt.Errorf("vocab: decode sentinel payload: %w", err)
	}
	if fields == nil {
		return Default(), errors.New("vocab: sentinel payload is null")
	}

	def := Default()
	out := model.Vocabulary{Personnel: []string{}, Projects: []string{}}

	roles, ok := decodeEntries(fields, "roles")
	if ok {
		out.Roles = make([]model.Role, 0, len(roles))
		for _, r := range roles {
			color := r.Color
			if color == "" {
				color = PaletteColor(r.pos)
			}
			out.Roles = append(out.Roles, model.Role{Name: r.Name, Color: color})
		}
	} else {
		out.Roles = def.Roles
	}

	people, ok := decodeEntries(fields, "personnel")
	if !ok {
		people, _ = decodeEntries(fields, "people")
	}
	out.Personnel = names(people)

	projects, _ := decodeEntries(fields, "projects")
	out.Projects = names(projects)

	return out, nil
}

// decodeEntries reports ok=false when the key is absent, null or not an
// array of entries.
func decodeEntries(fields map[string]json.RawMessage, key string) ([]nameOrObject, bool) {
	raw, present := fields[key]
	if !present || string(bytes.TrimSpace(raw)) == "null" {
		return nil, false
	}
	var entries []nameOrObject
	if err := json.Unmarshal(raw, &entries); err != nil {
		appLog.Warn("vocab: ignoring malformed field", "field", key, "err", err.Error())
		return nil, false
	}
	kept := entries[:0]
	for i, e := range entries {
		e.pos = i
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			continue
		}
		kept = append(kept, e)
	}
	return kept, true
}

func names(entries []nameOrObject) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

// Marshal renders the canonical payload stored in the sentinel event.
func Marshal(v model.Vocabulary) (string, error) {
	if v.Personnel == nil {
		v.Personnel = []string{}
	}
	if v.Projects == nil {
		v.Projects = []string{}
	}
	if v.Roles == nil {
		v.Roles = []model.Role{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
