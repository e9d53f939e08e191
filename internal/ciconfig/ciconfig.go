// Package ciconfig guesses the test, lint and build commands of a change from
// the languages it touches.
package ciconfig

import (
	"strings"

	"github.com/efebarandurmaz/whetstone/internal/diff"
	"github.com/efebarandurmaz/whetstone/internal/lang"
)

// CIConfig lists the detected languages and the commands to run. An empty
// command means no rule applied.
type CIConfig struct {
	Languages    []string `json:"languages" yaml:"languages"`
	TestCommand  string   `json:"test_command,omitempty" yaml:"test_command,omitempty"`
	LintCommand  string   `json:"lint_command,omitempty" yaml:"lint_command,omitempty"`
	BuildCommand string   `json:"build_command,omitempty" yaml:"build_command,omitempty"`
}

type rule struct {
	test, lint, build string
}

var rules = map[lang.Language]rule{
	lang.Python:     {test: "pytest", lint: "ruff check ."},
	lang.JavaScript: {test: "npm test", lint: "npm run lint", build: "tsc --noEmit"},
	lang.TypeScript: {test: "npm test", lint: "npm run lint", build: "tsc --noEmit"},
	lang.TSX:        {test: "npm test", lint: "npm run lint", build: "tsc --noEmit"},
	lang.Java:       {test: "mvn test", lint: "mvn checkstyle:check"},
	lang.Go:         {test: "go test ./...", lint: "golangci-lint run"},
	lang.Rust:       {test: "cargo test", lint: "cargo clippy"},
}

// DetectLanguages returns the sorted, de-duplicated languages of the changed
// paths. A nil classifier uses extension defaults.
func DetectLanguages(c *lang.Classifier, changes []diff.FileChange) []string {
	paths := make([]string, len(changes))
	for i, fc := range changes {
		paths[i] = fc.Path
	}
	set := c.Set(paths)
	out := make([]string, len(set))
	for i, l := range set {
		out[i] = string(l)
	}
	return out
}

// Infer applies the per-language rules in the given order. Commands of
// several languages are joined with " && "; a command shared by two
// languages appears once.
func Infer(languages []string) CIConfig {
	var test, lint, build []string
	for _, name := range languages {
		r, ok := rules[lang.Normalize(name)]
		if !ok {
			continue
		}
		test = appendUnique(test, r.test)
		lint = appendUnique(lint, r.lint)
		build = appendUnique(build, r.build)
	}
	return CIConfig{
		Languages:    append([]string{}, languages...),
		TestCommand:  strings.Join(test, " && "),
		LintCommand:  strings.Join(lint, " && "),
		BuildCommand: strings.Join(build, " && "),
	}
}

// Detect is DetectLanguages followed by Infer.
func Detect(c *lang.Classifier, changes []diff.FileChange) CIConfig {
	return Infer(DetectLanguages(c, changes))
}

func appendUnique(list []string, cmd string) []string {
	if cmd == "" {
		return list
	}
	for _, existing := range list {
		if existing == cmd {
			return list
		}
	}
	return append(list, cmd)
}
