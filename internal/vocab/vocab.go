// Package vocab owns the shared personnel/project/role vocabulary: its
// defaults, edits, legacy-format migration, persistence in the sentinel
// calendar event, and the validity/colour lookups built on it.
package vocab

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"crewcal/internal/model"
)

// NeutralColor is used for invalid assignments and unknown roles.
const NeutralColor = "#9aa0a6"

// DefaultRoleColor is the colour offered for a new role.
const DefaultRoleColor = "#4285f4"

var (
	ErrEmptyName     = errors.New("vocab: name is empty")
	ErrDuplicate     = errors.New("vocab: name already exists")
	ErrUnknown       = errors.New("vocab: name not found")
	ErrBadColor      = errors.New("vocab: colour must be #rrggbb")
	ErrAmbiguousName = errors.New("vocab: name must not contain '-'")
	// ErrUnavailable wraps a store failure while reading the sentinel. Load
	// still returns the defaults alongside it.
	ErrUnavailable = errors.New("vocab: sentinel unavailable")
)

// palette assigns colours to migrated roles by index.
var palette = []string{
	"#4285f4", "#ea4335", "#fbbc04", "#34a853", "#9c27b0",
	"#ff9800", "#00bcd4", "#795548", "#607d8b", "#e91e63",
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Default returns the vocabulary used on first run and whenever the stored
// one cannot be read.
func Default() model.Vocabulary {
	return model.Vocabulary{
		Personnel: []string{},
		Projects:  []string{},
		Roles: []model.Role{
			{Name: "Project-Manager", Color: "#4285f4"},
			{Name: "Foreman", Color: "#ea4335"},
			{Name: "Shaper", Color: "#fbbc04"},
			{Name: "Operator-Shaper", Color: "#34a853"},
		},
	}
}

// PaletteColor returns the migration colour for position i.
func PaletteColor(i int) string {
	return palette[i%len(palette)]
}

// cleanName trims a name and rejects ones that would not survive a title
// round-trip as a person or project segment.
func cleanName(name string, leading bool) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if leading && strings.Contains(name, "-") {
		return "", fmt.Errorf("%w: %q", ErrAmbiguousName, name)
	}
	return name, nil
}

func AddPerson(v *model.Vocabulary, name string) error {
	name, err := cleanName(name, true)
	if err != nil {
		return err
	}
	if slices.Contains(v.Personnel, name) {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	v.Personnel = append(v.Personnel, name)
	return nil
}

func RemovePerson(v *model.Vocabulary, name string) error {
	i := slices.Index(v.Personnel, strings.TrimSpace(name))
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	v.Personnel = slices.Delete(v.Personnel, i, i+1)
	return nil
}

func AddProject(v *model.Vocabulary, name string) error {
	name, err := cleanName(name, true)
	if err != nil {
		return err
	}
	if slices.Contains(v.Projects, name) {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	v.Projects = append(v.Projects, name)
	return nil
}

func RemoveProject(v *model.Vocabulary, name string) error {
	i := slices.Index(v.Projects, strings.TrimSpace(name))
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	v.Projects = slices.Delete(v.Projects, i, i+1)
	return nil
}

// AddRole appends a role. Roles are the last title segment, so hyphens are
// allowed (e.g. "Operator-Shaper").
func AddRole(v *model.Vocabulary, name, color string) error {
	name, err := cleanName(name, false)
	if err != nil {
		return err
	}
	color, err = cleanColor(color)
	if err != nil {
		return err
	}
	if roleIndex(*v, name) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	v.Roles = append(v.Roles, model.Role{Name: name, Color: color})
	return nil
}

func RemoveRole(v *model.Vocabulary, name string) error {
	i := roleIndex(*v, strings.TrimSpace(name))
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	v.Roles = slices.Delete(v.Roles, i, i+1)
	return nil
}

func SetRoleColor(v *model.Vocabulary, name, color string) error {
	i := roleIndex(*v, strings.TrimSpace(name))
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	color, err := cleanColor(color)
	if err != nil {
		return err
	}
	v.Roles[i].Color = color
	return nil
}

func cleanColor(c string) (string, error) {
	c = strings.TrimSpace(c)
	if c == "" {
		return DefaultRoleColor, nil
	}
	if !hexColor.MatchString(c) {
		return "", fmt.Errorf("%w: %q", ErrBadColor, c)
	}
	return strings.ToLower(c), nil
}

func roleIndex(v model.Vocabulary, name string) int {
	return slices.IndexFunc(v.Roles, func(r model.Role) bool { return r.Name == name })
}
