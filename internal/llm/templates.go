package llm

import (
	"fmt"
	"strings"
	"text/template"
)

// Prompt is a rendered template ready to send to a model.
type Prompt struct {
	System string
	User   string
}

type promptTemplate struct {
	system string
	user   *template.Template
}

var templates = map[string]promptTemplate{
	TemplateClassify: {
		system: "You triage an executive's inbox. Answer with a single label and nothing else.",
		user: mustParse(TemplateClassify, `Classify email. Return ONLY one word: [Spam, FYI, Important, Actionable].
Email: {{.subject}} - {{.body}}`),
	},
	TemplateDraft: {
		system: "You are an Executive Chief of Staff.",
		user: mustParse(TemplateDraft, `Context:
{{.context}}

Style: {{.style}}

Email: {{.body}}

Task: Draft a concise, decisive reply. Use the context. Follow the style strictly.`),
	},
	TemplateExtractTask: {
		system: "You turn requests into delegated tasks for an executive's team.",
		user: mustParse(TemplateExtractTask, `Classification: {{.category}}
Email subject: {{.subject}}
Email: {{.body}}

Context:
{{.context}}

Extract the single task this email asks for. Reply as:
Task: <one line>
Owner: <role>
Due: <date or "unspecified">`),
	},
	TemplateRefine: {
		system: "You are an Executive Chief of Staff revising a reply.",
		user: mustParse(TemplateRefine, `Current draft:
{{.draft}}

Feedback: {{.feedback}}

Rewrite the draft applying the feedback. Return only the new draft.`),
	},
}

func mustParse(name, text string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=error").Parse(text))
}

// Render binds variables into the named template. Unknown ids and missing
// bindings are errors.
func Render(templateID string, bindings map[string]string) (Prompt, error) {
	t, ok := templates[templateID]
	if !ok {
		return Prompt{}, fmt.Errorf("unknown template %q", templateID)
	}
	var sb strings.Builder
	if err := t.user.Execute(&sb, bindings); err != nil {
		return Prompt{}, fmt.Errorf("render %s: %w", templateID, err)
	}
	return Prompt{System: t.system, User: sb.String()}, nil
}
