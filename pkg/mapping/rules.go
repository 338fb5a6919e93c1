package mapping

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mlife-core/platform/pkg/common/models"
)

// Kind is the value type a field resolves to.
type Kind string

const (
	KindNumber  Kind = "number"
	KindText    Kind = "text"
	KindInteger Kind = "integer"
)

// Transform names a converter applied instead of plain strategy resolution.
type Transform string

const (
	TransformNone Transform = ""
	// TransformInfusionDose turns ml/h into µg/kg/min using concentration and body weight.
	TransformInfusionDose Transform = "infusion_dose"
	// TransformInfusionRate reports the running rate as is (IU/h for 1 IU/ml preparations).
	TransformInfusionRate Transform = "infusion_rate"
	TransformPLevel       Transform = "p_level"
	TransformVentMode     Transform = "vent_mode"
	TransformCount        Transform = "count"
)

// FlagKind selects how a derived field is computed.
type FlagKind string

const (
	// FlagCoOccurrence is 1 when every listed source has a record that day.
	FlagCoOccurrence FlagKind = "co_occurrence"
	// FlagAnyPresent is 1 when any listed field resolved to a value.
	FlagAnyPresent FlagKind = "any_present"
	// FlagAnyPositive is 1 when any listed field resolved to a number above zero.
	FlagAnyPositive FlagKind = "any_positive"
	// FlagRecordsPresent is 1 when any record of the day matches the flag pattern.
	FlagRecordsPresent FlagKind = "records_present"
	// FlagChoice takes the code of the last choice with a matching record.
	FlagChoice FlagKind = "choice"
	// FlagFieldChoice takes the code of the first choice whose field resolved.
	FlagFieldChoice FlagKind = "field_choice"
	// FlagNoneOf is 1 when no listed field resolved to a number above zero.
	FlagNoneOf FlagKind = "none_of"
	// FlagFallbackUsed is 2 when a listed field came from its fallback
	// window, 1 when they came from the first window, null without data.
	FlagFallbackUsed FlagKind = "fallback_used"
)

// readyMade marks bolus syringes that never count as running infusions.
var readyMade = regexp.MustCompile(`(?i)\(FER\)|Fertigspritze`)

// IsReadyMade reports whether a medication label names a ready-made syringe.
func IsReadyMade(parameter string) bool {
	return readyMade.MatchString(parameter)
}

// Pattern selects canonical records by source type, category and parameter.
// Source is matched as a case-insensitive substring of the record's source
// type so free device headers ("Richmond-Agitation-Sedation-Scale") can be
// addressed by a stable prefix. Empty or ".*" category means any.
type Pattern struct {
	Source    string `yaml:"source" json:"source"`
	Category  string `yaml:"category,omitempty" json:"category,omitempty"`
	Parameter string `yaml:"parameter" json:"parameter"`
	// Exclude is matched against the parameter and vetoes a match.
	Exclude          string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	ExcludeReadyMade bool   `yaml:"exclude_ready_made,omitempty" json:"exclude_ready_made,omitempty"`

	source    string
	category  *regexp.Regexp
	parameter *regexp.Regexp
	exclude   *regexp.Regexp
}

func (p *Pattern) compile() error {
	p.source = strings.ToLower(strings.TrimSpace(p.Source))
	if p.source == "" {
		return fmt.Errorf("source is required")
	}
	var err error
	if c := strings.TrimSpace(p.Category); c != "" && c != ".*" {
		if p.category, err = regexp.Compile("(?i)" + c); err != nil {
			return fmt.Errorf("category pattern: %w", err)
		}
	}
	if strings.TrimSpace(p.Parameter) == "" {
		return fmt.Errorf("parameter pattern is required")
	}
	if p.parameter, err = regexp.Compile("(?i)" + p.Parameter); err != nil {
		return fmt.Errorf("parameter pattern: %w", err)
	}
	if p.Exclude != "" {
		if p.exclude, err = regexp.Compile("(?i)" + p.Exclude); err != nil {
			return fmt.Errorf("exclude pattern: %w", err)
		}
	}
	return nil
}

// Matches reports whether r is selected by the pattern. The pattern must
// come from a Registry.
func (p *Pattern) Matches(r models.CanonicalRecord) bool {
	if !MatchesSource(r.SourceType, p.source) {
		return false
	}
	if p.category != nil && !p.category.MatchString(r.Category) {
		return false
	}
	if !p.parameter.MatchString(r.Parameter) {
		return false
	}
	if p.exclude != nil && p.exclude.MatchString(r.Parameter) {
		return false
	}
	if p.ExcludeReadyMade && IsReadyMade(r.Parameter) {
		return false
	}
	return true
}

// Select returns the records of the given day matched by the pattern, in
// series order.
func (p *Pattern) Select(day models.Day, records []models.CanonicalRecord) []models.CanonicalRecord {
	var out []models.CanonicalRecord
	for _, r := range records {
		if r.Day() == day && p.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// MatchesSource compares source types the way patterns do.
func MatchesSource(sourceType, want string) bool {
	return strings.Contains(strings.ToLower(sourceType), strings.ToLower(want))
}

// FieldRule maps one target field to the records it is resolved from.
type FieldRule struct {
	Field   string `yaml:"field" json:"field"`
	Pattern `yaml:",inline"`

	Kind      Kind            `yaml:"kind,omitempty" json:"kind,omitempty"`
	Strategy  models.Strategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Transform Transform       `yaml:"transform,omitempty" json:"transform,omitempty"`
	Min       *float64        `yaml:"min,omitempty" json:"min,omitempty"`
	Max       *float64        `yaml:"max,omitempty" json:"max,omitempty"`
	Required  bool            `yaml:"required,omitempty" json:"required,omitempty"`
	// DilutionUgPerMl is the concentration used when the label only states
	// the stock strength in mg/ml, for drugs that are diluted before use.
	DilutionUgPerMl *float64 `yaml:"dilution_ug_ml,omitempty" json:"dilution_ug_ml,omitempty"`
	// WindowHours overrides the look-back of a window instrument. The
	// fallback look-back is used when the first one holds no usable record.
	WindowHours   float64 `yaml:"window_hours,omitempty" json:"window_hours,omitempty"`
	FallbackHours float64 `yaml:"fallback_hours,omitempty" json:"fallback_hours,omitempty"`
}

func (r *FieldRule) compile() error {
	if strings.TrimSpace(r.Field) == "" {
		return fmt.Errorf("field name is required")
	}
	switch r.Kind {
	case "":
		r.Kind = KindNumber
	case KindNumber, KindText, KindInteger:
	default:
		return fmt.Errorf("field %s: unknown kind %q", r.Field, r.Kind)
	}
	if r.Strategy != "" {
		st, err := models.ParseStrategy(string(r.Strategy))
		if err != nil {
			return fmt.Errorf("field %s: %w", r.Field, err)
		}
		r.Strategy = st
	}
	switch r.Transform {
	case TransformNone, TransformInfusionDose, TransformInfusionRate, TransformPLevel, TransformVentMode, TransformCount:
	default:
		return fmt.Errorf("field %s: unknown transform %q", r.Field, r.Transform)
	}
	if r.WindowHours < 0 || r.FallbackHours < 0 {
		return fmt.Errorf("field %s: window hours must not be negative", r.Field)
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return fmt.Errorf("field %s: min %v above max %v", r.Field, *r.Min, *r.Max)
	}
	if err := r.Pattern.compile(); err != nil {
		return fmt.Errorf("field %s: %w", r.Field, err)
	}
	return nil
}

// Choice is one coded option of a choice flag. Choice flags match the
// parameter pattern, field_choice flags name a field.
type Choice struct {
	Code    int    `yaml:"code" json:"code"`
	Pattern string `yaml:"parameter,omitempty" json:"parameter,omitempty"`
	Field   string `yaml:"field,omitempty" json:"field,omitempty"`

	re *regexp.Regexp
}

// FlagRule is a derived field evaluated after all field rules of a record.
type FlagRule struct {
	Field   string   `yaml:"field" json:"field"`
	Kind    FlagKind `yaml:"kind" json:"kind"`
	Sources []string `yaml:"sources,omitempty" json:"sources,omitempty"`
	Fields  []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	// Match is used by records_present and as the record filter of choice flags.
	Match   *Pattern `yaml:"match,omitempty" json:"match,omitempty"`
	Choices []Choice `yaml:"choices,omitempty" json:"choices,omitempty"`
	// WindowHours overrides the look-back of record based flags of a
	// window instrument.
	WindowHours float64 `yaml:"window_hours,omitempty" json:"window_hours,omitempty"`
}

func (f *FlagRule) compile(fields map[string]struct{}) error {
	if strings.TrimSpace(f.Field) == "" {
		return fmt.Errorf("flag name is required")
	}
	switch f.Kind {
	case FlagCoOccurrence:
		if len(f.Sources) < 2 {
			return fmt.Errorf("flag %s: co_occurrence needs at least two sources", f.Field)
		}
	case FlagAnyPresent, FlagAnyPositive, FlagNoneOf, FlagFallbackUsed:
		if len(f.Fields) == 0 {
			return fmt.Errorf("flag %s: no fields listed", f.Field)
		}
		for _, name := range f.Fields {
			if _, ok := fields[name]; !ok {
				return fmt.Errorf("flag %s: unknown field %q", f.Field, name)
			}
		}
	case FlagRecordsPresent:
		if f.Match == nil {
			return fmt.Errorf("flag %s: records_present needs a match pattern", f.Field)
		}
	case FlagChoice:
		if f.Match == nil || len(f.Choices) == 0 {
			return fmt.Errorf("flag %s: choice needs a match pattern and choices", f.Field)
		}
		for i := range f.Choices {
			re, err := regexp.Compile("(?i)" + f.Choices[i].Pattern)
			if err != nil {
				return fmt.Errorf("flag %s: choice %d: %w", f.Field, f.Choices[i].Code, err)
			}
			f.Choices[i].re = re
		}
	case FlagFieldChoice:
		if len(f.Choices) == 0 {
			return fmt.Errorf("flag %s: field_choice needs choices", f.Field)
		}
		for _, c := range f.Choices {
			if _, ok := fields[c.Field]; !ok {
				return fmt.Errorf("flag %s: choice %d: unknown field %q", f.Field, c.Code, c.Field)
			}
		}
	default:
		return fmt.Errorf("flag %s: unknown kind %q", f.Field, f.Kind)
	}
	if f.WindowHours < 0 {
		return fmt.Errorf("flag %s: window hours must not be negative", f.Field)
	}
	if f.Match != nil {
		if err := f.Match.compile(); err != nil {
			return fmt.Errorf("flag %s: %w", f.Field, err)
		}
	}
	return nil
}

// Matches reports whether the parameter selects the choice.
func (c Choice) Matches(parameter string) bool {
	return c.re != nil && c.re.MatchString(parameter)
}

// Constant is a field with the same value on every record of an instrument.
type Constant struct {
	Field string  `yaml:"field" json:"field"`
	Value float64 `yaml:"value" json:"value"`
}
