// Package trigger turns recognized speech into coaching commands.
package trigger

import (
	"strings"
	"unicode"

	"coachmic/internal/domain"
)

// Policy is the trigger vocabulary and its confidence gates. The split
// between short and long thresholds only applies to the platform backend and
// is tunable.
type Policy struct {
	StopWord        string   `yaml:"stop_word"`
	ShortPhrases    []string `yaml:"short_phrases"`
	Phrases         []string `yaml:"phrases"`
	ShortConfidence float64  `yaml:"short_confidence"`
	LongConfidence  float64  `yaml:"long_confidence"`
}

// DefaultPolicy returns the stock vocabulary.
func DefaultPolicy() Policy {
	return Policy{
		StopWord:        "stop",
		ShortPhrases:    []string{"go", "start"},
		Phrases:         []string{"let's go", "lets go", "analyze", "begin", "ready"},
		ShortConfidence: 0.20,
		LongConfidence:  0.45,
	}
}

// Normalize lowercases text, drops punctuation, collapses whitespace and trims.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Parser classifies normalized utterances against a Policy.
type Parser struct {
	policy  Policy
	short   map[string]struct{}
	phrases []string
	aliases *Aliases
}

// NewParser builds a parser. aliases may be nil.
func NewParser(policy Policy, aliases *Aliases) *Parser {
	defaults := DefaultPolicy()
	if strings.TrimSpace(policy.StopWord) == "" {
		policy.StopWord = defaults.StopWord
	}
	if len(policy.ShortPhrases) == 0 {
		policy.ShortPhrases = defaults.ShortPhrases
	}
	if len(policy.Phrases) == 0 {
		policy.Phrases = defaults.Phrases
	}
	if policy.ShortConfidence <= 0 {
		policy.ShortConfidence = defaults.ShortConfidence
	}
	if policy.LongConfidence <= 0 {
		policy.LongConfidence = defaults.LongConfidence
	}

	p := &Parser{policy: policy, short: make(map[string]struct{}), aliases: aliases}
	for _, word := range policy.ShortPhrases {
		if w := Normalize(word); w != "" {
			p.short[w] = struct{}{}
		}
	}
	for _, phrase := range policy.Phrases {
		p.phrases = append(p.phrases, strings.ToLower(strings.TrimSpace(phrase)))
	}
	return p
}

// Policy returns the effective policy after defaults were applied.
func (p *Parser) Policy() Policy {
	return p.policy
}

// Parse rewrites, normalizes and classifies one recognition result.
func (p *Parser) Parse(result domain.Recognition) domain.CommandEvent {
	normalized := Normalize(result.Text)
	if p.aliases != nil {
		normalized = Normalize(p.aliases.Apply(normalized))
	}
	event := p.Classify(normalized, result.Confidence, result.IsFinal, result.Backend)
	if event.Kind == domain.CommandStartAnalysis {
		event.Raw = result.Text
	}
	return event
}

// Classify maps normalized text to a command. The stop word always wins and is
// never confidence gated.
func (p *Parser) Classify(normalized string, confidence float64, isFinal bool, backend domain.Backend) domain.CommandEvent {
	if normalized == "" {
		return domain.CommandEvent{Kind: domain.CommandNone}
	}
	if strings.Contains(normalized, p.policy.StopWord) {
		return domain.CommandEvent{Kind: domain.CommandStopSession, Text: normalized}
	}

	short, matched := p.match(normalized)
	if matched && p.accept(short, confidence, isFinal, backend) {
		return domain.CommandEvent{Kind: domain.CommandStartAnalysis, Raw: normalized, Text: normalized}
	}
	return domain.CommandEvent{Kind: domain.CommandHeard, Text: normalized}
}

// match reports whether the text hits the vocabulary and whether the whole
// utterance is a single short phrase.
func (p *Parser) match(normalized string) (short bool, matched bool) {
	if _, ok := p.short[normalized]; ok {
		return true, true
	}
	for _, token := range strings.Fields(normalized) {
		if _, ok := p.short[token]; ok {
			return false, true
		}
	}
	for _, phrase := range p.phrases {
		if phrase != "" && strings.Contains(normalized, phrase) {
			return false, true
		}
	}
	return false, false
}

func (p *Parser) accept(short bool, confidence float64, isFinal bool, backend domain.Backend) bool {
	if backend != domain.BackendPlatform {
		return true
	}
	if short {
		return confidence >= p.policy.ShortConfidence
	}
	return confidence >= p.policy.LongConfidence || isFinal
}
