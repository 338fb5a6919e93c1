// Package deid masks identifying text in a canonical series before it
// leaves the process.
package deid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mlife-core/platform/pkg/common/models"
)

const termMask = "[REDACTED]"

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Scrubber is read-only after construction and safe for concurrent use.
type Scrubber struct {
	rules       []compiledRule
	identifiers map[string]struct{}
	salt        string
}

// Summary counts what a Scrub call changed.
type Summary struct {
	Records int            `json:"records"`
	Masked  map[string]int `json:"masked"`
	// Tokens maps pseudonyms to the identifiers they replaced. Never serialized.
	Tokens []TokenRecord `json:"-"`
}

// NewScrubber compiles the rules. Terms are literal strings known to
// identify the patient (name, case id); they are masked as whole words.
func NewScrubber(cfg RulesConfig, salt string, terms ...string) (*Scrubber, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}

	// Longest first so a full name is masked before its parts.
	sorted := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); len(t) > 1 {
			sorted = append(sorted, t)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for _, t := range sorted {
		compiled = append(compiled, compiledRule{
			rule: Rule{Name: "term", Mask: termMask, Enabled: true},
			re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`),
		})
	}

	ids := make(map[string]struct{}, len(cfg.Identifiers))
	for _, id := range cfg.Identifiers {
		ids[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	return &Scrubber{rules: compiled, identifiers: ids, salt: salt}, nil
}

// Scrub returns a masked copy of the series. Numeric values are never
// touched and the input is not modified.
func (s *Scrubber) Scrub(series models.Series) (models.Series, Summary) {
	sum := Summary{Masked: map[string]int{}}
	if s == nil {
		return series, sum
	}

	out := make(models.Series, len(series))
	seen := make(map[string]struct{})
	for i, r := range series {
		out[i] = r
		identifier := s.isIdentifier(r)
		if r.Value.IsNumber() && !identifier {
			continue
		}

		if identifier {
			token := s.Pseudonym(r.Value.String())
			out[i].Value = models.Text(token)
			if _, ok := seen[token]; !ok {
				seen[token] = struct{}{}
				sum.Tokens = append(sum.Tokens, TokenRecord{Token: token, Parameter: r.Parameter, Value: r.Value.String()})
			}
			sum.Masked["identifier"]++
			sum.Records++
			continue
		}

		text, hits := s.mask(r.Value.Text())
		if len(hits) == 0 {
			continue
		}
		out[i].Value = models.Text(text)
		for name, n := range hits {
			sum.Masked[name] += n
		}
		sum.Records++
	}
	return out, sum
}

// ScrubText masks a single string.
func (s *Scrubber) ScrubText(text string) string {
	if s == nil {
		return text
	}
	masked, _ := s.mask(text)
	return masked
}

// Pseudonym is a stable salted token for an identifier value.
func (s *Scrubber) Pseudonym(value string) string {
	hash := sha256.Sum256([]byte(s.salt + ":" + strings.TrimSpace(value)))
	return "token_" + hex.EncodeToString(hash[:8])
}

func (s *Scrubber) isIdentifier(r models.CanonicalRecord) bool {
	if r.SourceType != models.SourcePatientInfo {
		return false
	}
	_, ok := s.identifiers[strings.ToLower(strings.TrimSpace(r.Parameter))]
	return ok
}

func (s *Scrubber) mask(text string) (string, map[string]int) {
	var hits map[string]int
	for _, rule := range s.rules {
		matches := rule.re.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		if hits == nil {
			hits = make(map[string]int)
		}
		hits[rule.rule.Name] += len(matches)
		text = rule.re.ReplaceAllLiteralString(text, rule.rule.Mask)
	}
	return text, hits
}

// IdentifierTerms returns the text of identifier records, so the same
// names can be masked where they reappear in free text.
func IdentifierTerms(cfg RulesConfig, series models.Series) []string {
	ids := make(map[string]struct{}, len(cfg.Identifiers))
	for _, id := range cfg.Identifiers {
		ids[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	var terms []string
	for _, r := range series {
		if r.SourceType != models.SourcePatientInfo || r.Value.IsNumber() {
			continue
		}
		if _, ok := ids[strings.ToLower(strings.TrimSpace(r.Parameter))]; !ok {
			continue
		}
		terms = append(terms, r.Value.Text())
		// Multi-part names are also matched part by part.
		terms = append(terms, strings.Fields(r.Value.Text())...)
	}
	return terms
}
