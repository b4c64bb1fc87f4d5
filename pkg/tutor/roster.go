package tutor

import (
	"sort"

	"github.com/pario-ai/tutorgate/pkg/config"
	"github.com/pario-ai/tutorgate/pkg/models"
)

// essentials is the roster used when the configuration lists no personas.
var essentials = []struct {
	grades  []int
	subject string
	name    string
}{
	{[]int{0, 1, 2}, "Comunicare_in_Limba_Romana", "Prof_Ion_Creanga"},
	{[]int{0, 1, 2}, "Matematica_si_Explorarea_mediului", "Prof_Pitagora"},
	{[]int{3, 4}, "Limba_si_Literatura_Romana", "Prof_Mihai_Eminescu"},
	{[]int{3, 4}, "Matematica", "Prof_Euclid"},
}

// Roster holds the configured personas grouped by grade.
type Roster struct {
	byGrade map[int][]models.PersonaSpec
	byKey   map[personaKey]models.PersonaSpec
}

// NewRoster builds the roster from configuration. Personas without a school
// or config inherit cfg.School and cfg.DefaultPersona.
func NewRoster(cfg config.TutorConfig) *Roster {
	specs := cfg.Personas
	if len(specs) == 0 {
		specs = EssentialPersonas(cfg.DefaultPersona)
	}

	r := &Roster{
		byGrade: make(map[int][]models.PersonaSpec),
		byKey:   make(map[personaKey]models.PersonaSpec),
	}
	for _, s := range specs {
		if s.School == "" {
			s.School = cfg.School
		}
		if s.Config == nil {
			c := cfg.DefaultPersona
			s.Config = &c
		}
		r.byGrade[s.Grade] = append(r.byGrade[s.Grade], s)
		// Duplicate names within a grade resolve to the first entry.
		if _, ok := r.byKey[key(s.Name, s.Grade)]; !ok {
			r.byKey[key(s.Name, s.Grade)] = s
		}
	}
	return r
}

// EssentialPersonas returns the two core teachers of every primary grade,
// with the subject adjustments applied to base.
func EssentialPersonas(base models.PersonaConfig) []models.PersonaSpec {
	var out []models.PersonaSpec
	for _, e := range essentials {
		for _, g := range e.grades {
			c := SubjectConfig(base, e.subject)
			out = append(out, models.PersonaSpec{
				Name:    e.name,
				Subject: e.subject,
				Grade:   g,
				Config:  &c,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Grade < out[j].Grade })
	return out
}

// SubjectConfig tunes base for a subject: mathematics gets a lower
// temperature and shorter answers, Romanian a slightly more creative voice.
func SubjectConfig(base models.PersonaConfig, subject string) models.PersonaConfig {
	switch subject {
	case "Matematica", "Matematica_si_Explorarea_mediului":
		base.Temperature = 0.5
		base.MaxTokens = 350
	case "Comunicare_in_Limba_Romana", "Limba_si_Literatura_Romana":
		base.Temperature = 0.8
		base.MaxTokens = 450
	}
	return base
}

// ForGrade returns the personas teaching a grade in configuration order.
func (r *Roster) ForGrade(grade int) []models.PersonaSpec {
	list := r.byGrade[grade]
	out := make([]models.PersonaSpec, len(list))
	copy(out, list)
	return out
}

// Lookup finds a persona by name and grade.
func (r *Roster) Lookup(name string, grade int) (models.PersonaSpec, bool) {
	s, ok := r.byKey[key(name, grade)]
	return s, ok
}

// Grades lists the grades with at least one persona, ascending.
func (r *Roster) Grades() []int {
	out := make([]int, 0, len(r.byGrade))
	for g := range r.byGrade {
		out = append(out, g)
	}
	sort.Ints(out)
	return out
}

type personaKey struct {
	name  string
	grade int
}

func key(name string, grade int) personaKey { return personaKey{name, grade} }
