package director

import (
	"strings"
	"unicode"

	"github.com/pario-ai/tutorgate/pkg/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallback score weights.
const (
	scoreSubject   = 8
	scoreSemantic  = 5 // cap
	scoreGrade     = 3
	scoreMaterials = 2
	scoreHistory   = 1

	recentWindow = 5
)

// domain maps a subject fragment to the question keywords that suggest it.
type domain struct {
	name     string
	keywords []string
}

// Domains are tried in order; only the first one with a keyword hit counts.
var domains = []domain{
	{"matematica", []string{"matemat", "numar", "problem", "calcul", "arie", "fract", "geometr", "algebr"}},
	{"romana", []string{"litera", "povest", "cuvant", "comunicare", "citit", "scris", "gramatic", "text", "compunere"}},
	{"limba", []string{"litera", "povest", "cuvant", "comunicare", "citit", "scris", "gramatic", "text", "limba"}},
	{"muzica", []string{"muzic", "sunet", "instrument", "cant", "ritm", "melodie"}},
	{"stiinta", []string{"stiint", "experiment", "natura", "fizic", "chimic", "biolog"}},
	{"arte", []string{"desen", "pictur", "culor", "creativ", "artistic"}},
	{"sport", []string{"sport", "miscar", "exercit", "fizic", "joac"}},
	{"educatie", []string{"civica", "moral", "comportament", "valori"}},
}

// Score is the fallback evaluation of one persona.
type Score struct {
	Persona   models.PersonaSpec
	Total     int
	Breakdown map[string]int
}

// ConfidenceLabel discretizes a fallback score.
func ConfidenceLabel(total int) string {
	switch {
	case total >= 8:
		return "high"
	case total >= 4:
		return "medium"
	default:
		return "low"
	}
}

// fold lowercases s and strips diacritics so "împărțire" matches "impartire".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// scoreCandidates rates every persona for the question. recent holds the
// names chosen in the last few decisions.
func scoreCandidates(question string, grade int, candidates []models.PersonaSpec, recent map[string]bool) []Score {
	q := fold(question)
	scores := make([]Score, 0, len(candidates))
	for _, p := range candidates {
		s := Score{Persona: p, Breakdown: make(map[string]int)}
		subject := fold(p.Subject)

		if subject != "" {
			if subjectMatch(q, subject) {
				s.Total += scoreSubject
				s.Breakdown["subject"] = scoreSubject
			}
			for _, d := range domains {
				if !strings.Contains(subject, d.name) {
					continue
				}
				matches := 0
				for _, kw := range d.keywords {
					if strings.Contains(q, kw) {
						matches++
					}
				}
				if matches > 0 {
					pts := min(scoreSemantic, 2*matches)
					s.Total += pts
					s.Breakdown["semantic"] = pts
					break
				}
			}
		}
		if p.Grade == grade {
			s.Total += scoreGrade
			s.Breakdown["grade"] = scoreGrade
		}
		if p.Materials != "" {
			s.Total += scoreMaterials
			s.Breakdown["materials"] = scoreMaterials
		}
		if recent[p.Name] {
			s.Total += scoreHistory
			s.Breakdown["history"] = scoreHistory
		}
		scores = append(scores, s)
	}
	return scores
}

// subjectMatch reports whether the subject name, with underscores read as
// spaces or not, appears in the question or the question in it.
func subjectMatch(q, subject string) bool {
	if q == "" {
		return false
	}
	for _, v := range []string{subject, strings.ReplaceAll(subject, "_", " ")} {
		if strings.Contains(q, v) || strings.Contains(v, q) {
			return true
		}
	}
	return false
}

// best returns the highest score, keeping the earliest on ties.
func best(scores []Score) Score {
	top := scores[0]
	for _, s := range scores[1:] {
		if s.Total > top.Total {
			top = s
		}
	}
	return top
}
