// Package render expands response templates and owns chat keyboard state.
package render

import (
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/m3rciful/questbot/quest"
)

// Renderer expands response text and keyboard templates. Funcs is the
// extension point for quest-defined template helpers supplied by the caller.
type Renderer struct {
	funcs template.FuncMap
}

// New creates a renderer with the given template function library.
func New(funcs template.FuncMap) *Renderer {
	return &Renderer{funcs: funcs}
}

// Rendered is the outcome of expanding one response: final text plus the
// literal button rows the keyboard template produced.
type Rendered struct {
	Text string
	Rows [][]string
}

// Render expands the text and keyboard templates independently against the
// same context snapshot. A failure in either template fails this response
// only; the caller keeps processing the rest of the batch.
func (r *Renderer) Render(resp quest.Response, data map[string]any) (Rendered, error) {
	text, err := r.expand("text", resp.Text, data)
	if err != nil {
		return Rendered{}, fmt.Errorf("render response %d text: %w", resp.ID, err)
	}

	layout, err := r.expand("keyboard", resp.Keyboard, data)
	if err != nil {
		return Rendered{}, fmt.Errorf("render response %d keyboard: %w", resp.ID, err)
	}

	rows, err := parseRows(layout)
	if err != nil {
		return Rendered{}, fmt.Errorf("render response %d keyboard: %w", resp.ID, err)
	}

	return Rendered{Text: text, Rows: rows}, nil
}

func (r *Renderer) expand(name, tmpl string, data map[string]any) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return "", nil
	}
	t, err := template.New(name).Funcs(r.funcs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// parseRows decodes the rendered keyboard layout, a YAML list of button
// rows, into literal rows of button labels.
func parseRows(layout string) ([][]string, error) {
	if strings.TrimSpace(layout) == "" {
		return nil, nil
	}
	var rows [][]string
	if err := yaml.Unmarshal([]byte(layout), &rows); err != nil {
		return nil, fmt.Errorf("keyboard layout: %w", err)
	}
	return rows, nil
}

// Context builds the template context snapshot for one dispatch: sender and
// chat identity plus any quest-defined variables stored on the chat. Both
// templates of a response see the same snapshot.
func Context(sender quest.User, chat quest.Chat) map[string]any {
	data := map[string]any{
		"sender": map[string]any{
			"id":         sender.ID,
			"username":   sender.Username,
			"first_name": sender.FirstName,
			"last_name":  sender.LastName,
		},
		"chat": map[string]any{
			"id":       chat.ID,
			"username": chat.Username,
			"title":    chat.Title,
		},
	}
	for k, v := range chat.TemplateContext {
		data[k] = v
	}
	return data
}
