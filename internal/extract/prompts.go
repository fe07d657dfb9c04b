package extract

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Prompts are the instructions sent alongside each document.
type Prompts struct {
	Health      string `yaml:"health"`
	Ingredients string `yaml:"ingredients"`
}

// DefaultPrompts returns the built-in extraction prompts.
func DefaultPrompts() Prompts {
	return Prompts{
		Health: "Extract healthcare data from this medical report as a single JSON object. " +
			"Use these keys: blood_pressure (e.g. \"140/90\"), blood_sugar (number), " +
			"cholesterol (an object with total, ldl and hdl numbers), " +
			"conditions (array of strings), allergies (array of strings) and medications (array of strings). " +
			"Include only fields actually present in the document and omit the rest. " +
			"Ensure the output is the JSON object and nothing else.",
		Ingredients: "Extract the ingredients from this food label in the order they appear. " +
			"Ensure the output is a JSON array of strings and nothing else.",
	}
}

// LoadPrompts reads prompt overrides from a YAML file. Keys that are absent
// or empty keep their defaults.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "extract: read prompts file %s", path)
	}
	var override Prompts
	if err := yaml.Unmarshal(data, &override); err != nil {
		return p, eris.Wrapf(err, "extract: parse prompts file %s", path)
	}

	if override.Health != "" {
		p.Health = override.Health
	}
	if override.Ingredients != "" {
		p.Ingredients = override.Ingredients
	}
	return p, nil
}
