package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseDefinition decodes a workflow definition from YAML or JSON bytes.
// JSON documents are detected by their leading brace so that error messages
// come from the matching decoder.
func ParseDefinition(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition

	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, NewError(ErrCodeValidation, "parse workflow definition").WithCause(err)
		}
		return &def, nil
	}

	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, NewError(ErrCodeValidation, "parse workflow definition").WithCause(err)
	}
	return &def, nil
}

// LoadDefinition reads and decodes a workflow definition file.
func LoadDefinition(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewErrorf(ErrCodeNotFound, "read workflow file %s", path).WithCause(err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}
