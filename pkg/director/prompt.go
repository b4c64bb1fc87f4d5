package director

import (
	"strings"
	"text/template"

	"github.com/pario-ai/tutorgate/pkg/models"
)

const historyContext = 3

var selectionTemplate = template.Must(template.New("selection").Funcs(template.FuncMap{
	"excerpt": excerpt,
}).Parse(`Esti {{.Name}}, directorul scolii, cu expertiza profunda in pedagogie si psihologia copilului.
Foloseste ghidul tau profesional pentru a alege profesorul cel mai potrivit.
{{if .Profile}}
{{range .Profile}}{{.}}
{{end}}{{end}}{{if .History}}
Experienta recenta a directorului:
{{range .History}}- {{.Teacher}} pentru clasa {{.Grade}} (intrebarea: {{excerpt .Question 80}}...)
{{end}}{{end}}{{if .Material}}
Materiale studiate recent:
{{.Material}}
{{end}}
Profesorii disponibili pentru clasa {{.Grade}}:
{{.Candidates}}

Intrebarea elevului:
"{{.Question}}"

Returneaza DOAR un JSON valid cu structura:
{"teacher": "Nume Profesor", "justification": "Motivul alegerii in 1 propozitie", "confidence": 0.0-1.0}
`))

type promptData struct {
	Name       string
	Profile    []string
	Material   string
	History    []models.DecisionRecord
	Grade      int
	Candidates string
	Question   string
}

// buildPrompt renders the selection prompt. history is oldest first; the last
// few entries are shown newest first.
func buildPrompt(name string, profile Profile, history []models.DecisionRecord, question string, grade int, candidates []models.PersonaSpec) (string, error) {
	var recent []models.DecisionRecord
	for i := len(history) - 1; i >= 0 && len(recent) < historyContext; i-- {
		recent = append(recent, history[i])
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name + " (" + c.Subject + ")"
	}

	var sb strings.Builder
	err := selectionTemplate.Execute(&sb, promptData{
		Name:       name,
		Profile:    profile.promptLines(),
		Material:   profile.Material,
		History:    recent,
		Grade:      grade,
		Candidates: strings.Join(names, ", "),
		Question:   question,
	})
	return sb.String(), err
}
