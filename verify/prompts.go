package verify

import (
	"bytes"
	"embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/teranos/pact/errors"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").
	Funcs(template.FuncMap{"json": toJSON}).
	ParseFS(promptFS, "prompts/*.tmpl"))

// Prompt names. Each has a ".system" and a ".user" template.
const (
	promptPrecondition              = "precondition"
	promptPathcondition             = "pathcondition"
	promptPostconditionOutput       = "postcondition_output"
	promptPostconditionConversation = "postcondition_conversation"
	promptInit                      = "nl_init"
	promptStep                      = "nl_step"
	promptVerify                    = "nl_verify"
)

func render(name string, data any) (system, user string, err error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name+".system", data); err != nil {
		return "", "", errors.Wrapf(err, "render %s system prompt", name)
	}
	system = buf.String()
	buf.Reset()
	if err := prompts.ExecuteTemplate(&buf, name+".user", data); err != nil {
		return "", "", errors.Wrapf(err, "render %s user prompt", name)
	}
	return system, strings.TrimSpace(buf.String()), nil
}

func toJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "<unserializable>"
	}
	return string(data)
}
