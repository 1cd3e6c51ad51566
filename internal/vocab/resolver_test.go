package vocab

import (
	"testing"

	"crewcal/internal/codec"
	"crewcal/internal/model"
)

func TestResolver(t *testing.T) {
	r := NewResolver(model.Vocabulary{
		Personnel: []string{"Alice"},
		Projects:  []string{"ProjX"},
		Roles:     []model.Role{{Name: "Foreman", Color: "#ea4335"}},
	})

	cases := []struct {
		person, project, role string
		want                  bool
	}{
		{"", "ProjX", "", true},
		{"Alice", "ProjX", "Foreman", true},
		{"Alice", "ProjX", "", true},
		{"  ", "", " ", true},
		{"Bob", "ProjX", "Foreman", false},
		{"Alice", "Gone", "Foreman", false},
		{"Alice", "ProjX", "Shaper", false},
	}
	for _, c := range cases {
		if got := r.IsValid(c.person, c.project, c.role); got != c.want {
			t.Errorf("IsValid(%q,%q,%q) = %v, want %v", c.person, c.project, c.role, got, c.want)
		}
	}

	if got := r.ColorOf("Foreman"); got != "#ea4335" {
		t.Errorf("ColorOf(Foreman) = %s", got)
	}
	if got := r.ColorOf("Shaper"); got != NeutralColor {
		t.Errorf("ColorOf(unknown) = %s", got)
	}
	if got := r.ColorOf(""); got != NeutralColor {
		t.Errorf("ColorOf(blank) = %s", got)
	}

	if ok, color := r.Resolve(codec.Triple{Person: "Bob", Project: "ProjX", Role: "Foreman"}); ok || color != NeutralColor {
		t.Errorf("invalid triple resolved to %v %s", ok, color)
	}
	if ok, color := r.Resolve(codec.Triple{Person: "Alice", Project: "ProjX", Role: "Foreman"}); !ok || color != "#ea4335" {
		t.Errorf("valid triple resolved to %v %s", ok, color)
	}
}

func TestEmptyFieldsPassRegardlessOfVocabulary(t *testing.T) {
	r := NewResolver(model.Vocabulary{Projects: []string{"ProjX"}})
	if !r.IsValid("", "ProjX", "") {
		t.Errorf("empty person/role must pass when the project exists")
	}
}
