package agents

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/batonflow/baton/internal/expressions"
	"github.com/batonflow/baton/pkg/schema"
)

// definitionFile is the on-disk shape of an agents/*.yaml document: either a
// single definition or an "agents:" list.
type definitionFile struct {
	Agents []Definition `yaml:"agents"`

	// Single-definition form.
	Definition `yaml:",inline"`
}

// Loader reads agent definition files and registers the enabled ones as
// command agents. Definitions with a `when` rule are filtered against host
// facts before registration.
type Loader struct {
	engine *expressions.ExprEngine
	logger *slog.Logger
}

// NewLoader creates a Loader. logger may be nil.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		engine: expressions.NewExprEngine(),
		logger: logger,
	}
}

// LoadDir parses every *.yaml/*.yml file under dir and registers the enabled
// definitions into reg. A missing directory is not an error: hosts without
// local agents simply resolve everything from other sources.
func (l *Loader) LoadDir(ctx context.Context, dir string, reg *Registry) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, schema.NewErrorf(schema.ErrCodeConfiguration,
			"read agents directory %s", dir).WithCause(err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		n, err := l.LoadFile(ctx, filepath.Join(dir, name), reg)
		if err != nil {
			return loaded, err
		}
		loaded += n
	}
	return loaded, nil
}

// LoadFile parses one definition file and registers its enabled definitions.
func (l *Loader) LoadFile(ctx context.Context, path string, reg *Registry) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeNotFound, "read agent file %s", path).WithCause(err)
	}

	defs, err := ParseDefinitions(data)
	if err != nil {
		return 0, schema.AsBatonError(err, schema.ErrCodeValidation).
			WithDetails(map[string]any{"file": path})
	}

	loaded := 0
	for i := range defs {
		def := defs[i]
		if err := def.Validate(); err != nil {
			return loaded, schema.AsBatonError(err, schema.ErrCodeValidation).
				WithDetails(map[string]any{"file": path})
		}

		enabled, err := l.enabled(ctx, &def)
		if err != nil {
			return loaded, err
		}
		if !enabled {
			l.logger.Debug("agent disabled by when rule",
				"agent", def.Name, "rule", def.When, "file", path)
			continue
		}

		if err := reg.Register(NewCommandAgent(def)); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// ParseDefinitions decodes one or more agent definitions from YAML bytes.
// Both a bare definition document and an "agents:" list are accepted.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "parse agent definitions").WithCause(err)
	}
	if len(file.Agents) > 0 {
		return file.Agents, nil
	}
	if file.Definition.Name != "" {
		return []Definition{file.Definition}, nil
	}
	return nil, schema.NewError(schema.ErrCodeValidation,
		"agent file declares neither an agent nor an agents list")
}

// enabled evaluates the definition's `when` rule against host facts. An
// absent rule enables the definition unconditionally.
func (l *Loader) enabled(ctx context.Context, def *Definition) (bool, error) {
	if def.When == "" {
		return true, nil
	}

	out, err := l.engine.Evaluate(ctx, def.When, HostFacts())
	if err != nil {
		return false, schema.AsBatonError(err, schema.ErrCodeExpression).
			WithDetails(map[string]any{"agent": def.Name, "rule": def.When})
	}
	enabled, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExpression,
			"when rule for agent %q returned %T, want bool", def.Name, out)
	}
	return enabled, nil
}

// HostFacts is the environment `when` rules evaluate against: the OS and
// architecture, plus env(NAME) and hasCommand(NAME) helpers.
//
//	when: os == "linux" && hasCommand("docker")
//	when: env("CI") != ""
func HostFacts() map[string]any {
	return map[string]any{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
		"env": func(name string) string {
			return os.Getenv(name)
		},
		"hasCommand": func(name string) bool {
			_, err := execLookPath(name)
			return err == nil
		},
	}
}
