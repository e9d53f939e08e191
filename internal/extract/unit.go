// Package extract splits source files into code units (functions, classes,
// interfaces, types) for indexing. Go sources are walked with go/ast; a fixed
// set of other languages is handled with tree-sitter grammar queries; anything
// else, and anything structural extraction cannot handle, becomes a single
// whole-file unit.
package extract

// UnitType classifies a CodeUnit.
type UnitType string

const (
	Function  UnitType = "function"
	Class     UnitType = "class"
	Interface UnitType = "interface"
	Type      UnitType = "type"
	File      UnitType = "file"
)

// CodeUnit is a named, delimited fragment of a source file. LineStart and
// LineEnd are 1-based and inclusive; both are zero for whole-file units.
type CodeUnit struct {
	Code      string   `json:"code" yaml:"code"`
	Type      UnitType `json:"unit_type" yaml:"unit_type"`
	Name      string   `json:"name" yaml:"name"`
	LineStart int      `json:"line_start,omitempty" yaml:"line_start,omitempty"`
	LineEnd   int      `json:"line_end,omitempty" yaml:"line_end,omitempty"`
}

// HasRange reports whether the unit carries a line range.
func (u CodeUnit) HasRange() bool {
	return u.LineStart > 0
}
