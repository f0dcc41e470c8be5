package loop

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
	"time"

	"github.com/iambrandonn/loopkeeper/internal/phase"
	"github.com/iambrandonn/loopkeeper/internal/state"
)

//go:embed prompts/*.tpl.md
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tpl.md"))

// promptData feeds every phase template.
type promptData struct {
	Iteration     int
	MaxIterations int
	Remaining     int
	Prompt        string
	Elapsed       string
	Learnings     []string
	Issues        []string
}

func newPromptData(inst *state.Instance, now time.Time) promptData {
	end := now
	if inst.CompletedAt != nil {
		end = *inst.CompletedAt
	}
	return promptData{
		Iteration:     inst.Iteration,
		MaxIterations: inst.MaxIterations,
		Remaining:     inst.MaxIterations - inst.Iteration,
		Prompt:        inst.Prompt,
		Elapsed:       end.Sub(inst.StartedAt).Round(time.Second).String(),
		Learnings:     inst.Learnings,
		Issues:        inst.Issues,
	}
}

// renderPhase renders the template named after p: a continuation prompt for
// non-terminal phases, a summary for terminal ones.
func renderPhase(p phase.Phase, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, string(p)+".tpl.md", data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", p, err)
	}
	return buf.String(), nil
}
