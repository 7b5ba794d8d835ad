// Package sanitize decides whether user-supplied text is a prompt-injection
// attempt and produces safe substrings for embedding in prompts.
//
// All patterns are precompiled at startup into a PatternSet; patterns are
// never interpolated from user input.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// FilteredToken replaces every matched injection pattern and delimiter
// escape in sanitized output.
const FilteredToken = "[FILTERED]"

// DefaultMaxLen caps sanitized output length in runes.
const DefaultMaxLen = 4000

const (
	maxCharRun  = 20 // identical consecutive chars before the run is hostile
	maxTokenRun = 10 // identical consecutive whitespace-split tokens
)

// injectionPattern pairs a compiled regex with the rejection reason it maps to.
type injectionPattern struct {
	re     *regexp.Regexp
	reason string
}

// defaultPatterns covers the known injection families. Matching is
// case-insensitive throughout.
var defaultPatterns = []struct{ expr, reason string }{
	{`(?i)\b(ignore|disregard|forget)\b[^.\n]{0,80}?\b(previous|prior|above|earlier)\b[^.\n]{0,80}?\b(instructions?|rules?|prompts?)\b`, "instruction override"},
	{`(?i)\b(new instructions|actual task|real objective)\b`, "instruction override"},
	{`(?i)\b(reveal|show|display|tell)\b[^.\n]{0,60}?\b(system prompt|instructions|rules|prompt)\b`, "system prompt probe"},
	{`(?i)\b(pretend|act|roleplay|imagine)\b[^.\n]{0,40}?\bas\b`, "roleplay jailbreak"},
	{`(?i)\b(dan|do anything now|jailbreak)\b`, "jailbreak"},
}

// delimiterEscapes are sequences that could break out of the prompt's
// literal delimiters.
var delimiterEscapes = []struct{ expr, reason string }{
	{"`{3,}", "delimiter escape"},
	{`-{3,}`, "delimiter escape"},
	{`(?i)\[\[\s*system\s*\]\]`, "delimiter escape"},
	{`(?i)end of input`, "delimiter escape"},
	{`(?i)begin system`, "delimiter escape"},
}

var controlChars = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]")

var (
	spaceRuns   = regexp.MustCompile(` {4,}`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// ValidationResult is the outcome of an injection check.
type ValidationResult struct {
	OK     bool
	Reason string
}

// PatternSet holds the compiled injection and delimiter patterns.
type PatternSet struct {
	injection  []injectionPattern
	delimiters []injectionPattern
}

// NewPatternSet compiles the default patterns plus any extra expressions from
// configuration. An invalid extra expression fails construction outright —
// a silently dropped pattern is a hole in the filter.
func NewPatternSet(extra []string) (*PatternSet, error) {
	ps := &PatternSet{}
	for _, p := range defaultPatterns {
		ps.injection = append(ps.injection, injectionPattern{regexp.MustCompile(p.expr), p.reason})
	}
	for _, p := range delimiterEscapes {
		ps.delimiters = append(ps.delimiters, injectionPattern{regexp.MustCompile(p.expr), p.reason})
	}
	for _, expr := range extra {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile extra injection pattern %q: %w", expr, err)
		}
		ps.injection = append(ps.injection, injectionPattern{re, "configured pattern"})
	}
	return ps, nil
}

// MustDefault returns a PatternSet with only the built-in patterns.
func MustDefault() *PatternSet {
	ps, err := NewPatternSet(nil)
	if err != nil {
		panic(err)
	}
	return ps
}

// ValidateForInjection checks s against every known injection family.
// It never returns an error; hostile input yields a rejection result.
func (ps *PatternSet) ValidateForInjection(s string) ValidationResult {
	if s == "" {
		return ValidationResult{OK: true}
	}
	for _, p := range ps.injection {
		if p.re.MatchString(s) {
			return ValidationResult{Reason: p.reason}
		}
	}
	for _, p := range ps.delimiters {
		if p.re.MatchString(s) {
			return ValidationResult{Reason: p.reason}
		}
	}
	if hasCharRun(s, maxCharRun) {
		return ValidationResult{Reason: "excessive character repetition"}
	}
	if hasTokenRun(s, maxTokenRun) {
		return ValidationResult{Reason: "excessive token repetition"}
	}
	return ValidationResult{OK: true}
}

// SanitizeForPrompt returns a safe substring of s for prompt embedding:
// control characters stripped, injection patterns and delimiter escapes
// replaced with [FILTERED], whitespace runs collapsed, length capped.
// Idempotent: sanitizing sanitized output is a no-op.
func (ps *PatternSet) SanitizeForPrompt(s string, maxLen int) string {
	if s == "" {
		return ""
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	out := controlChars.ReplaceAllString(s, "")
	for _, p := range ps.injection {
		out = p.re.ReplaceAllString(out, FilteredToken)
	}
	for _, p := range ps.delimiters {
		out = p.re.ReplaceAllString(out, FilteredToken)
	}
	out = spaceRuns.ReplaceAllString(out, "   ")
	out = newlineRuns.ReplaceAllString(out, "\n\n\n")
	out = collapseCharRuns(out, maxCharRun)
	out = collapseTokenRuns(out, maxTokenRun)

	runes := []rune(out)
	if len(runes) > maxLen {
		out = string(runes[:maxLen])
	}
	return out
}

// hasCharRun reports a run of limit or more identical consecutive runes.
func hasCharRun(s string, limit int) bool {
	var prev rune
	count := 0
	for _, r := range s {
		if r == prev {
			count++
			if count >= limit {
				return true
			}
		} else {
			prev = r
			count = 1
		}
	}
	return false
}

// collapseCharRuns replaces any run of limit+ identical runes with the
// filtered token. The replacement itself contains no such run, which keeps
// sanitization idempotent.
func collapseCharRuns(s string, limit int) string {
	if !hasCharRun(s, limit) {
		return s
	}
	var sb strings.Builder
	var prev rune
	count := 0
	replaced := false
	for _, r := range s {
		if r == prev {
			count++
		} else {
			prev = r
			count = 1
			replaced = false
		}
		if count >= limit {
			if !replaced {
				// Drop the run accumulated so far and stamp the token.
				trimmed := strings.TrimRight(sb.String(), string(r))
				sb.Reset()
				sb.WriteString(trimmed)
				sb.WriteString(FilteredToken)
				replaced = true
			}
			continue
		}
		if !replaced {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// hasTokenRun reports limit or more identical consecutive whitespace-split
// tokens. The filtered token is exempt so sanitized output stays stable.
func hasTokenRun(s string, limit int) bool {
	prev := ""
	count := 0
	for _, tok := range strings.Fields(s) {
		if tok == FilteredToken {
			prev, count = "", 0
			continue
		}
		if tok == prev {
			count++
			if count >= limit {
				return true
			}
		} else {
			prev = tok
			count = 1
		}
	}
	return false
}

// collapseTokenRuns rewrites runs of limit+ identical tokens down to a single
// occurrence followed by the filtered token.
func collapseTokenRuns(s string, limit int) string {
	if !hasTokenRun(s, limit) {
		return s
	}
	fields := strings.Fields(s)
	var out []string
	prev := ""
	count := 0
	for _, tok := range fields {
		if tok == FilteredToken {
			out = append(out, tok)
			prev, count = "", 0
			continue
		}
		if tok == prev {
			count++
		} else {
			prev = tok
			count = 1
		}
		switch {
		case count < limit:
			out = append(out, tok)
		case count == limit:
			// Remove the run and keep one witness plus the token.
			out = out[:len(out)-(limit-1)]
			out = append(out, tok, FilteredToken)
		default:
			// Run continues past the stamp; drop silently.
		}
	}
	return strings.Join(out, " ")
}
