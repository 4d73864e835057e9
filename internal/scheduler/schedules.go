package scheduler

import (
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/batonflow/baton/pkg/schema"
)

// Schedule is one entry of a schedules file: a cron expression firing a
// workflow file with a fixed input.
//
//	schedules:
//	  - name: nightly-report
//	    cron: "0 2 * * *"
//	    workflow: workflows/report.yaml
//	    input:
//	      period: daily
type Schedule struct {
	Name     string         `yaml:"name" json:"name"`
	Cron     string         `yaml:"cron" json:"cron"`
	Workflow string         `yaml:"workflow" json:"workflow"`
	Input    map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
}

// scheduleFile is the on-disk shape: a "schedules:" list.
type scheduleFile struct {
	Schedules []Schedule `yaml:"schedules"`
}

// Validate checks the fields that do not need a cron parser.
func (s *Schedule) Validate() error {
	if s.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule name is required")
	}
	if s.Cron == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "schedule %q has no cron expression", s.Name)
	}
	if s.Workflow == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "schedule %q names no workflow file", s.Name)
	}
	return nil
}

// LoadSchedules reads a schedules YAML file. Workflow paths are resolved
// relative to the file's directory, names must be unique, and every cron
// expression must parse under the standard five-field grammar.
func LoadSchedules(path string) ([]Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "read schedules file %s", path).WithCause(err)
	}
	return parseSchedules(data, filepath.Dir(path))
}

func parseSchedules(data []byte, baseDir string) ([]Schedule, error) {
	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "parse schedules file").WithCause(err)
	}
	if len(file.Schedules) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "schedules file declares no schedules")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	seen := make(map[string]struct{}, len(file.Schedules))

	for i := range file.Schedules {
		s := &file.Schedules[i]
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[s.Name]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
				"duplicate schedule name %q", s.Name)
		}
		seen[s.Name] = struct{}{}

		if _, err := parser.Parse(s.Cron); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
				"schedule %q: invalid cron expression %q", s.Name, s.Cron).WithCause(err)
		}
		if baseDir != "" && !filepath.IsAbs(s.Workflow) {
			s.Workflow = filepath.Join(baseDir, s.Workflow)
		}
	}
	return file.Schedules, nil
}
