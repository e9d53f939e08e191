// Package lang maps file paths to normalised language identifiers using the
// linguist-derived tables in enry.
package lang

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/src-d/enry/v2"
)

// Language is a lowercase language identifier such as "python" or "cpp".
type Language string

// Languages with dedicated extraction support.
const (
	Unknown    Language = ""
	Go         Language = "go"
	Python     Language = "python"
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
	TSX        Language = "tsx"
	Java       Language = "java"
	Cpp        Language = "cpp"
	C          Language = "c"
	Rust       Language = "rust"
)

func (l Language) String() string { return string(l) }

// aliases folds enry display names whose lowercase form is not a usable
// identifier.
var aliases = map[string]Language{
	"c++":           Cpp,
	"c#":            "csharp",
	"f#":            "fsharp",
	"objective-c++": "objective-cpp",
}

// preferred resolves extensions that linguist lists under several languages.
var preferred = map[string]string{
	".ts":  "TypeScript",
	".mts": "TypeScript",
	".cts": "TypeScript",
	".tsx": "TSX",
	".h":   "C",
	".hpp": "C++",
	".cc":  "C++",
	".m":   "Objective-C",
	".pl":  "Perl",
	".rs":  "Rust",
}

// Classifier detects languages. The zero value is ready to use.
type Classifier struct {
	// Overrides maps a lowercase extension (".tpl") to an enry language name
	// and takes precedence over the built-in tables.
	Overrides map[string]string
}

// NewClassifier returns a Classifier with the given extension overrides.
func NewClassifier(overrides map[string]string) *Classifier {
	norm := make(map[string]string, len(overrides))
	for ext, name := range overrides {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if ext[0] != '.' {
			ext = "." + ext
		}
		norm[ext] = name
	}
	return &Classifier{Overrides: norm}
}

// Classify returns the language of path. Content is optional and only used to
// break ties between candidate languages. The boolean is false when the
// language is not recognised.
func (c *Classifier) Classify(path string, content []byte) (Language, bool) {
	name := c.detect(path, content)
	if name == "" {
		return Unknown, false
	}
	return Normalize(name), true
}

func (c *Classifier) detect(path string, content []byte) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	ext := filepath.Ext(lower)

	if c != nil && c.Overrides != nil {
		if name, ok := c.Overrides[ext]; ok {
			return name
		}
	}
	if name, ok := preferred[ext]; ok {
		return name
	}
	if name, safe := enry.GetLanguageByExtension(lower); safe && name != "" {
		return name
	}
	return enry.GetLanguage(base, content)
}

// Normalize turns an enry display name ("Python", "C++") into a Language.
func Normalize(name string) Language {
	lower := strings.ToLower(strings.TrimSpace(name))
	if l, ok := aliases[lower]; ok {
		return l
	}
	return Language(strings.ReplaceAll(lower, " ", "-"))
}

// Classify uses a zero-value Classifier.
func Classify(path string) (Language, bool) {
	var c Classifier
	return c.Classify(path, nil)
}

// Set returns the sorted, de-duplicated languages of the given paths.
// Unrecognised paths are skipped.
func (c *Classifier) Set(paths []string) []Language {
	seen := make(map[Language]bool)
	for _, p := range paths {
		if l, ok := c.Classify(p, nil); ok {
			seen[l] = true
		}
	}
	out := make([]Language, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsVendored reports whether path looks like vendored or generated content.
func IsVendored(path string) bool {
	return enry.IsVendor(path)
}
