package prompt

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"dialogd/pkg/models"
)

// Defaults follow the saiga-style chat format the generation backend was
// trained on.
const (
	DefaultMessageFormat    = "<s>{role}\n{text}</s>\n"
	DefaultGenerationSuffix = "<s>bot\n"
)

// Template controls how a message window is serialized into backend text.
// MessageFormat interpolates {role} and {text}; RoleMapping optionally
// renames roles on the way out; GenerationSuffix is appended by
// RenderForGeneration so the backend continues from the assistant's turn.
type Template struct {
	MessageFormat    string            `yaml:"message_format" json:"message_format"`
	GenerationSuffix string            `yaml:"generation_suffix" json:"generation_suffix"`
	RoleMapping      map[string]string `yaml:"role_mapping" json:"role_mapping,omitempty"`
}

// Default returns the built-in template.
func Default() Template {
	return Template{
		MessageFormat:    DefaultMessageFormat,
		GenerationSuffix: DefaultGenerationSuffix,
	}
}

// LoadTemplate reads a template from a YAML file; empty fields fall back
// to the defaults.
func LoadTemplate(path string) (Template, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read template %s: %w", path, err)
	}
	t := Default()
	if err := yaml.Unmarshal(b, &t); err != nil {
		return Template{}, fmt.Errorf("parse template %s: %w", path, err)
	}
	return t.normalized(), nil
}

func (t Template) normalized() Template {
	if t.MessageFormat == "" {
		t.MessageFormat = DefaultMessageFormat
	}
	if t.GenerationSuffix == "" {
		t.GenerationSuffix = DefaultGenerationSuffix
	}
	return t
}

// formatMessage renders one message through the per-role format.
func (t Template) formatMessage(m models.Message) string {
	role := string(m.Role)
	if mapped, ok := t.RoleMapping[role]; ok {
		role = mapped
	}
	r := strings.NewReplacer("{role}", role, "{text}", m.Text)
	return r.Replace(t.MessageFormat)
}
