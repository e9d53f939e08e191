// Package redact masks credentials and personal data in source snippets
// before they are embedded or stored.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/efebarandurmaz/whetstone/internal/config"
)

// Type categorises a detected value.
type Type string

const (
	AWSAccessKey  Type = "aws_access_key"
	GitHubToken   Type = "github_token"
	SlackToken    Type = "slack_token"
	PrivateKey    Type = "private_key"
	JWT           Type = "jwt"
	GenericSecret Type = "generic_secret"
	Email         Type = "email"
	SSN           Type = "ssn"
	CreditCard    Type = "credit_card"
)

// Style determines how a match is replaced.
type Style string

const (
	// StyleRedact replaces the value with [REDACTED:<type>].
	StyleRedact Style = "redact"
	// StylePartial keeps the first four characters.
	StylePartial Style = "partial"
	// StyleHash replaces the value with a short SHA-256 prefix, so equal
	// values stay equal after masking.
	StyleHash Style = "hash"
)

type rule struct {
	typ Type
	re  *regexp.Regexp
	// group selects the submatch to mask; 0 masks the whole match.
	group int
}

// Rules are evaluated in order; on overlap the earlier start wins, then the
// longer match.
var builtin = []rule{
	{typ: PrivateKey, re: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----(?s:.*?)-----END [A-Z ]*PRIVATE KEY-----`)},
	{typ: AWSAccessKey, re: regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{typ: GitHubToken, re: regexp.MustCompile(`\b(?:gh[pousr]_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{22,})\b`)},
	{typ: SlackToken, re: regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9-]{10,}\b`)},
	{typ: JWT, re: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`)},
	{
		typ:   GenericSecret,
		re:    regexp.MustCompile(`(?i)(?:api[_-]?key|secret|token|passw(?:or)?d|access[_-]?key)\w*["']?\s*(?::=|=>|[:=])\s*["']([^"'\s]{8,})["']`),
		group: 1,
	},
	{typ: Email, re: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{typ: SSN, re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{typ: CreditCard, re: regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`)},
}

// Types lists the built-in types.
func Types() []Type {
	out := make([]Type, len(builtin))
	for i, r := range builtin {
		out[i] = r.typ
	}
	return out
}

// Match is one masked span of the input. The original value is not kept.
type Match struct {
	Type  Type `json:"type"`
	Start int  `json:"start"`
	End   int  `json:"end"`
}

// Config selects the types to detect and the masking style.
type Config struct {
	// Types enables a subset of the built-in types; empty enables all.
	Types []Type
	Style Style
	// Custom adds named patterns masked as a whole.
	Custom map[string]string
}

// Redactor detects and masks sensitive values. It is safe for concurrent
// use.
type Redactor struct {
	rules []rule
	style Style
}

// New compiles a Redactor. A nil config enables every built-in type with
// StyleRedact.
func New(cfg *Config) (*Redactor, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	r := &Redactor{style: cfg.Style}
	switch r.style {
	case "":
		r.style = StyleRedact
	case StyleRedact, StylePartial, StyleHash:
	default:
		return nil, fmt.Errorf("unknown masking style %q", cfg.Style)
	}

	enabled := make(map[Type]bool, len(cfg.Types))
	for _, t := range cfg.Types {
		enabled[t] = true
	}
	known := make(map[Type]bool)
	for _, ru := range builtin {
		known[ru.typ] = true
		if len(enabled) == 0 || enabled[ru.typ] {
			r.rules = append(r.rules, ru)
		}
	}
	for t := range enabled {
		if !known[t] {
			return nil, fmt.Errorf("unknown redaction type %q", t)
		}
	}

	names := make([]string, 0, len(cfg.Custom))
	for name := range cfg.Custom {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		re, err := regexp.Compile(cfg.Custom[name])
		if err != nil {
			return nil, fmt.Errorf("custom pattern %s: %w", name, err)
		}
		r.rules = append(r.rules, rule{typ: Type(name), re: re})
	}
	return r, nil
}

// Detect returns the non-overlapping spans to mask, ordered by position.
func (r *Redactor) Detect(text string) []Match {
	var all []Match
	for _, ru := range r.rules {
		for _, loc := range ru.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*ru.group], loc[2*ru.group+1]
			if start < 0 {
				continue
			}
			all = append(all, Match{Type: ru.typ, Start: start, End: end})
		}
	}
	if len(all) == 0 {
		return nil
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].End > all[j].End
	})

	out := all[:0]
	end := -1
	for _, m := range all {
		if m.Start < end {
			continue
		}
		out = append(out, m)
		end = m.End
	}
	return out
}

// Mask returns text with every detected span replaced.
func (r *Redactor) Mask(text string) (string, []Match) {
	matches := r.Detect(text)
	if len(matches) == 0 {
		return text, nil
	}
	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, m := range matches {
		b.WriteString(text[prev:m.Start])
		b.WriteString(r.mask(text[m.Start:m.End], m.Type))
		prev = m.End
	}
	b.WriteString(text[prev:])
	return b.String(), matches
}

func (r *Redactor) mask(value string, t Type) string {
	switch r.style {
	case StylePartial:
		if len(value) <= 8 {
			return strings.Repeat("*", len(value))
		}
		return value[:4] + strings.Repeat("*", len(value)-4)
	case StyleHash:
		sum := sha256.Sum256([]byte(value))
		return "HASH:" + hex.EncodeToString(sum[:8])
	default:
		return "[REDACTED:" + string(t) + "]"
	}
}

// FromConfig builds the redactor described by the index section, or nil
// when redaction is disabled.
func FromConfig(ic config.IndexConfig) (*Redactor, error) {
	if !ic.Redact {
		return nil, nil
	}
	types := make([]Type, len(ic.RedactTypes))
	for i, t := range ic.RedactTypes {
		types[i] = Type(t)
	}
	return New(&Config{Types: types, Style: Style(ic.RedactStyle)})
}
