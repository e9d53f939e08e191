package diff

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	fileDelimiter = "diff --git"
	devNull       = "/dev/null"
)

var (
	hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
	// destTokenRe matches a whitespace-delimited b/<path> token.
	destTokenRe = regexp.MustCompile(`(?:^|\s)b/(\S+)`)
)

// Parse splits a unified diff into per-file changes, in the order the files
// appear. Empty input yields an empty slice. Sections without a resolvable
// destination path are dropped and malformed hunk headers are skipped; Parse
// never fails.
func Parse(text string) []FileChange {
	changes := []FileChange{}
	if strings.TrimSpace(text) == "" {
		return changes
	}

	sections := strings.Split(text, fileDelimiter)
	// Anything before the first delimiter is preamble.
	for _, section := range sections[1:] {
		if strings.TrimSpace(section) == "" {
			continue
		}
		if fc, ok := parseSection(section); ok {
			changes = append(changes, fc)
		}
	}
	return changes
}

func parseSection(section string) (FileChange, bool) {
	lines := strings.Split(section, "\n")

	path := resolvePath(lines)
	if path == "" || path == devNull {
		return FileChange{}, false
	}

	fc := FileChange{Path: path, Hunks: []DiffHunk{}}
	for i := 0; i < len(lines); {
		if !strings.HasPrefix(lines[i], "@@") {
			i++
			continue
		}
		hunk, ok := parseHunkHeader(lines[i])
		if !ok {
			i++
			continue
		}
		end := hunkEnd(lines, i+1)
		hunk.Content = strings.Join(lines[i:end], "\n")
		fc.Hunks = append(fc.Hunks, hunk)
		i = end
	}

	for _, h := range fc.Hunks {
		for _, line := range strings.Split(h.Content, "\n") {
			switch {
			case isAddition(line):
				fc.Additions++
			case isDeletion(line):
				fc.Deletions++
			}
		}
	}
	return fc, true
}

// resolvePath prefers the "+++" marker and falls back to the first b/<path>
// token in the section. The fallback is best-effort and may pick the wrong
// side of a rename whose paths both carry b/ tokens.
func resolvePath(lines []string) string {
	var path string
	for _, line := range lines {
		if !strings.HasPrefix(line, "+++") {
			continue
		}
		p := markerPath(line[3:])
		switch {
		case strings.HasPrefix(p, "b/"):
			path = p[2:]
		case p != devNull:
			path = p
		}
		break
	}
	if path != "" {
		return path
	}

	for _, line := range lines {
		if m := destTokenRe.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

// markerPath extracts the path from the remainder of a ---/+++ line, dropping
// the optional tab-separated timestamp and git's C-style quoting.
func markerPath(rest string) string {
	p := strings.TrimSpace(rest)
	if i := strings.IndexByte(p, '\t'); i >= 0 {
		p = p[:i]
	}
	if strings.HasPrefix(p, `"`) {
		if unq, err := strconv.Unquote(p); err == nil {
			p = unq
		}
	}
	return p
}

func parseHunkHeader(line string) (DiffHunk, bool) {
	m := hunkHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return DiffHunk{}, false
	}
	return DiffHunk{
		OldStart: atoiDefault(m[1], 0),
		OldLines: atoiDefault(m[2], 1),
		NewStart: atoiDefault(m[3], 0),
		NewLines: atoiDefault(m[4], 1),
	}, true
}

func hunkEnd(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "@@") {
			return i
		}
	}
	return len(lines)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
