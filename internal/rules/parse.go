package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type rewriteRule interface {
	Rewrite(input string) (output string, changed bool)
}

// RuleParser turns one rules-file line into a rule.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (rewriteRule, error)
}

// DefaultParsers understands `from => to` literals and sed-style `s/re/repl/flags` lines.
func DefaultParsers() []RuleParser {
	return []RuleParser{sedParser{}, literalParser{}}
}

func parseRules(contents string, parsers []RuleParser) ([]rewriteRule, error) {
	var out []rewriteRule
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule, err := parseLine(line, parsers)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func parseLine(line string, parsers []RuleParser) (rewriteRule, error) {
	for _, parser := range parsers {
		if parser.CanParse(line) {
			return parser.Parse(line)
		}
	}
	return nil, errors.New("unsupported rule format")
}

type literalParser struct{}

func (literalParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (literalParser) Parse(line string) (rewriteRule, error) {
	return parseLiteral(line)
}

// literalRule matches case-insensitively on word boundaries where the source starts and
// ends with a word character, so "bp" never rewrites inside "bpm".
type literalRule struct {
	re          *regexp.Regexp
	replacement string
}

func parseLiteral(line string) (rewriteRule, error) {
	from, to, ok := strings.Cut(line, "=>")
	if !ok {
		return nil, errors.New("invalid literal rule")
	}
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}

	pattern := regexp.QuoteMeta(from)
	if isWordByte(from[0]) {
		pattern = `\b` + pattern
	}
	if isWordByte(from[len(from)-1]) {
		pattern += `\b`
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return literalRule{re: re, replacement: to}, nil
}

func (r literalRule) Rewrite(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

type sedParser struct{}

func (sedParser) CanParse(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordByte(line[1]) && line[1] != ' ' && line[1] != '\t'
}

func (sedParser) Parse(line string) (rewriteRule, error) {
	return parseSed(line)
}

type sedRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func parseSed(line string) (rewriteRule, error) {
	if len(line) < 2 {
		return nil, errors.New("invalid regex rule")
	}
	delim := line[1]
	if isWordByte(delim) || delim == ' ' || delim == '\t' {
		return nil, errors.New("regex delimiter must be non-alphanumeric")
	}

	pattern, next, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, next, err := readDelimited(line, next, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	inline, global, err := sedFlags(strings.TrimSpace(line[next:]))
	if err != nil {
		return nil, err
	}

	re, err := regexp.Compile("(?" + inline + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return sedRule{re: re, replacement: replacement, global: global}, nil
}

// sedFlags maps trailing flags to Go inline flags. Matching is always case-insensitive.
func sedFlags(flags string) (inline string, global bool, err error) {
	inline = "i"
	for _, flag := range flags {
		switch flag {
		case 'i', ' ':
		case 'g':
			global = true
		case 'm', 's':
			if !strings.ContainsRune(inline, flag) {
				inline += string(flag)
			}
		default:
			return "", false, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}
	return inline, global, nil
}

func (r sedRule) Rewrite(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	match := r.re.FindStringSubmatchIndex(input)
	if match == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, match)
	output := input[:match[0]] + string(expanded) + input[match[1]:]
	return output, output != input
}

func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var b strings.Builder
	for index := start; index < len(line); index++ {
		char := line[index]
		switch {
		case char == '\\' && index+1 < len(line):
			if line[index+1] != delim {
				b.WriteByte(char)
			}
			index++
			b.WriteByte(line[index])
		case char == delim:
			return b.String(), index + 1, nil
		default:
			b.WriteByte(char)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordByte(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '_'
}
