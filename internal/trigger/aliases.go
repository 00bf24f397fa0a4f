package trigger

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

// Aliases rewrites common mis-hearings ("let us go", "lets goal") into trigger
// vocabulary before classification. Rules run once, in file order.
//
// Two line formats are accepted:
//
//	from => to          whole-word literal, case-insensitive
//	s/pattern/repl/     regular expression, always case-insensitive
type Aliases struct {
	rules []aliasRule
}

type aliasRule struct {
	re          *regexp.Regexp
	replacement string
}

// LoadAliases reads alias rules from path on fsys. A blank path or a missing
// file yields an empty set.
func LoadAliases(fsys afero.Fs, path string) (*Aliases, error) {
	if strings.TrimSpace(path) == "" {
		return &Aliases{}, nil
	}
	contents, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Aliases{}, nil
		}
		return nil, fmt.Errorf("failed to read alias file %q: %w", path, err)
	}
	aliases, err := ParseAliases(string(contents))
	if err != nil {
		return nil, fmt.Errorf("failed to parse alias file %q: %w", path, err)
	}
	return aliases, nil
}

// ParseAliases compiles alias rules from text. Blank lines and # comments are
// skipped.
func ParseAliases(contents string) (*Aliases, error) {
	aliases := &Aliases{}
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			rule aliasRule
			err  error
		)
		switch {
		case strings.HasPrefix(line, "s/"):
			rule, err = parseRegexAlias(line)
		case strings.Contains(line, "=>"):
			rule, err = parseLiteralAlias(line)
		default:
			err = errors.New("unsupported alias format")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		aliases.rules = append(aliases.rules, rule)
	}
	return aliases, nil
}

// Len reports how many rules are loaded.
func (a *Aliases) Len() int {
	if a == nil {
		return 0
	}
	return len(a.rules)
}

// Apply rewrites text with every rule in order.
func (a *Aliases) Apply(text string) string {
	if a == nil {
		return text
	}
	for _, rule := range a.rules {
		text = rule.re.ReplaceAllString(text, rule.replacement)
	}
	return text
}

func parseLiteralAlias(line string) (aliasRule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	if from == "" {
		return aliasRule{}, errors.New("alias source cannot be empty")
	}
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(from) + `\b`)
	if err != nil {
		return aliasRule{}, fmt.Errorf("invalid alias source: %w", err)
	}
	return aliasRule{re: re, replacement: strings.TrimSpace(to)}, nil
}

func parseRegexAlias(line string) (aliasRule, error) {
	parts, err := splitUnescaped(line[2:], '/')
	if err != nil {
		return aliasRule{}, err
	}
	if len(parts) != 3 || strings.TrimSpace(parts[2]) != "" {
		return aliasRule{}, errors.New("regex alias must look like s/pattern/replacement/")
	}
	re, err := regexp.Compile("(?i)" + parts[0])
	if err != nil {
		return aliasRule{}, fmt.Errorf("invalid regex: %w", err)
	}
	return aliasRule{re: re, replacement: parts[1]}, nil
}

// splitUnescaped splits s on sep, leaving backslash-escaped separators in place.
func splitUnescaped(s string, sep byte) ([]string, error) {
	var (
		parts   []string
		current strings.Builder
		escaped bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			if c != sep {
				current.WriteByte('\\')
			}
			current.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == sep:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if escaped {
		return nil, errors.New("unterminated escape")
	}
	parts = append(parts, current.String())
	return parts, nil
}
