package recognizer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/example/kyc-verif/internal/glyph"
)

// RulesFile is looked up in the assets folder.
const RulesFile = "recognizer.yaml"

// Pattern is one accepted field shape.
type Pattern struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`

	re *regexp.Regexp
}

// Rules is the post-processing applied to every recognized field.
type Rules struct {
	Whitelist    string            `yaml:"whitelist"`
	Blacklist    string            `yaml:"blacklist"`
	Patterns     []Pattern         `yaml:"patterns"`
	NumericFixes map[string]string `yaml:"numeric_fixes"`
}

// DefaultBlacklist holds the punctuation an engine reports for specks, rules
// and card edges. None of it is printed in the fields read.
const DefaultBlacklist = ".,:;'\"`^~_|"

// DefaultRules accepts machine-readable zone lines, dates, numbers, document
// numbers and words. The whitelist already excludes DefaultBlacklist, so the
// blacklist only changes output when the whitelist toggle is off or a rules
// file widens the whitelist.
func DefaultRules() Rules {
	return Rules{
		Whitelist: glyph.Charset,
		Blacklist: DefaultBlacklist,
		Patterns: []Pattern{
			{Name: "mrz", Regex: `^[A-Z0-9<]{30,44}$`},
			{Name: "date", Regex: `^[0-9]{6}([0-9]{2})?$`},
			{Name: "number", Regex: `^[0-9]{1,12}$`},
			{Name: "document_number", Regex: `^[A-Z]{1,2}[0-9]{6,9}$`},
			{Name: "word", Regex: `^[A-Z]+(<+[A-Z]+)*<*$`},
		},
		NumericFixes: map[string]string{"O": "0", "I": "1", "S": "5", "B": "8"},
	}
}

// LoadRules reads rules from path. Sections missing from the file keep their
// defaults.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, err
	}
	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := rules.compile(); err != nil {
		return Rules{}, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// rulesFor returns the rules in assets, or the defaults when the folder has
// no rules file.
func rulesFor(assets string) (Rules, error) {
	if assets != "" {
		path := filepath.Join(assets, RulesFile)
		rules, err := LoadRules(path)
		if err == nil || !errors.Is(err, os.ErrNotExist) {
			return rules, err
		}
	}
	rules := DefaultRules()
	return rules, rules.compile()
}

func (r *Rules) compile() error {
	for i := range r.Patterns {
		re, err := regexp.Compile(r.Patterns[i].Regex)
		if err != nil {
			return fmt.Errorf("pattern %q: %w", r.Patterns[i].Name, err)
		}
		r.Patterns[i].re = re
	}
	return nil
}

// ruleSet is Rules with the configured toggles applied.
type ruleSet struct {
	Rules
	whitelist, blacklist, patterns bool
}

// apply filters text and validates it. pattern names the first matching
// pattern; valid is true when patterns are disabled or empty.
func (s ruleSet) apply(text string) (out string, valid bool, pattern string) {
	out = strings.Map(func(r rune) rune {
		if s.whitelist && s.Whitelist != "" && !strings.ContainsRune(s.Whitelist, r) {
			return -1
		}
		if s.blacklist && strings.ContainsRune(s.Blacklist, r) {
			return -1
		}
		return r
	}, text)
	if !s.patterns || len(s.Patterns) == 0 {
		return out, true, ""
	}
	if numeric(out) {
		out = s.fixDigits(out)
	}
	for _, p := range s.Patterns {
		if p.re != nil && p.re.MatchString(out) {
			return out, true, p.Name
		}
	}
	return out, false, ""
}

// numeric reports whether at least half of text is digits.
func numeric(text string) bool {
	if text == "" {
		return false
	}
	digits, total := 0, 0
	for _, r := range text {
		total++
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return 2*digits >= total
}

func (s ruleSet) fixDigits(text string) string {
	var b strings.Builder
	for _, r := range text {
		if fix, ok := s.NumericFixes[string(r)]; ok {
			b.WriteString(fix)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
