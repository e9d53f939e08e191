// Package diff parses unified diffs (as produced by git and code hosts) into
// per-file change records with their hunks.
package diff

import "strings"

// DiffHunk is a single contiguous block of changes in a file.
type DiffHunk struct {
	OldStart int `json:"old_start" yaml:"old_start"`
	OldLines int `json:"old_lines" yaml:"old_lines"`
	NewStart int `json:"new_start" yaml:"new_start"`
	NewLines int `json:"new_lines" yaml:"new_lines"`

	// Content is the verbatim hunk text, header line included.
	Content string `json:"content" yaml:"content"`
}

// FileChange summarises the changes to a single file.
type FileChange struct {
	Path      string     `json:"path" yaml:"path"`
	Additions int        `json:"additions" yaml:"additions"`
	Deletions int        `json:"deletions" yaml:"deletions"`
	Hunks     []DiffHunk `json:"hunks" yaml:"hunks"`
}

// AddedLines returns the lines the hunk adds, without their leading '+'.
// The "+++" file marker is never treated as an added line.
func (h DiffHunk) AddedLines() []string {
	var out []string
	for _, line := range strings.Split(h.Content, "\n") {
		if isAddition(line) {
			out = append(out, line[1:])
		}
	}
	return out
}

// AddedCode joins AddedLines with newlines.
func (h DiffHunk) AddedCode() string {
	return strings.Join(h.AddedLines(), "\n")
}

func isAddition(line string) bool {
	return strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++")
}

func isDeletion(line string) bool {
	return strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---")
}
