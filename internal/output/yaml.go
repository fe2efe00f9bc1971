package output

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/daniel-caso-github/users-insights/internal/core"
)

// YAMLFormatter renders results as YAML.
type YAMLFormatter struct {
	Options
}

// FormatReport renders a run report as YAML.
func (f *YAMLFormatter) FormatReport(report *core.RunReport) (string, error) {
	if report == nil {
		return "", nil
	}
	return marshalYAML(documentFor(report, f.Options))
}

// marshalYAML goes through JSON first so metric values keep their json tag
// names.
func marshalYAML(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	return string(out), nil
}
