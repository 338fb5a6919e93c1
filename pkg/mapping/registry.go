// Package mapping holds the declarative field tables that connect canonical
// records to registry instruments.
package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mlife-core/platform/pkg/common/models"
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrUnknownField      = errors.New("unknown field")
)

// Instrument is one repeating registry form, filled once per day, or with a
// Window a single form filled once per patient.
type Instrument struct {
	Name string `yaml:"name" json:"name"`
	// EventName pins the instrument to one event arm. Empty means the
	// event of the aggregation request.
	EventName       string      `yaml:"event_name,omitempty" json:"event_name,omitempty"`
	DateFields      []string    `yaml:"date_fields,omitempty" json:"date_fields,omitempty"`
	TimePointFields []string    `yaml:"time_point_fields,omitempty" json:"time_point_fields,omitempty"`
	TimeField       string      `yaml:"time_field,omitempty" json:"time_field,omitempty"`
	Device          string      `yaml:"device,omitempty" json:"device,omitempty"`
	Constants       []Constant  `yaml:"constants,omitempty" json:"constants,omitempty"`
	Fields          []FieldRule `yaml:"fields" json:"fields"`
	Flags           []FlagRule  `yaml:"flags,omitempty" json:"flags,omitempty"`
	Window          *Window     `yaml:"window,omitempty" json:"window,omitempty"`
}

// Windowed reports whether the instrument is an anchored assessment.
func (in *Instrument) Windowed() bool {
	return in.Window != nil
}

func (in *Instrument) compile() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("instrument name is required")
	}
	seen := make(map[string]struct{})
	claim := func(name string) error {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("instrument %s: duplicate field %q", in.Name, name)
		}
		seen[name] = struct{}{}
		return nil
	}
	for _, f := range in.DateFields {
		if err := claim(f); err != nil {
			return err
		}
	}
	for _, f := range in.TimePointFields {
		if err := claim(f); err != nil {
			return err
		}
	}
	if in.TimeField != "" {
		if err := claim(in.TimeField); err != nil {
			return err
		}
	}
	for _, c := range in.Constants {
		if err := claim(c.Field); err != nil {
			return err
		}
	}
	if w := in.Window; w != nil {
		if err := w.compile(); err != nil {
			return fmt.Errorf("instrument %s: %w", in.Name, err)
		}
		for _, f := range []string{w.DateField, w.TimeField} {
			if f == "" {
				continue
			}
			if err := claim(f); err != nil {
				return err
			}
		}
	}

	fields := make(map[string]struct{}, len(in.Fields))
	for i := range in.Fields {
		if err := in.Fields[i].compile(); err != nil {
			return fmt.Errorf("instrument %s: %w", in.Name, err)
		}
		if err := claim(in.Fields[i].Field); err != nil {
			return err
		}
		fields[in.Fields[i].Field] = struct{}{}
	}
	for i := range in.Flags {
		if err := in.Flags[i].compile(fields); err != nil {
			return fmt.Errorf("instrument %s: %w", in.Name, err)
		}
		if err := claim(in.Flags[i].Field); err != nil {
			return err
		}
		fields[in.Flags[i].Field] = struct{}{}
	}
	if in.Window != nil {
		for _, name := range in.Window.AssessFrom {
			if _, ok := in.Rule(name); !ok {
				return fmt.Errorf("instrument %s: window assesses unknown field %q", in.Name, name)
			}
		}
	}
	return nil
}

// Rule returns the field rule for name.
func (in *Instrument) Rule(name string) (*FieldRule, bool) {
	for i := range in.Fields {
		if in.Fields[i].Field == name {
			return &in.Fields[i], true
		}
	}
	return nil, false
}

// Matches reports whether any field rule of the instrument selects r.
func (in *Instrument) Matches(r models.CanonicalRecord) bool {
	for i := range in.Fields {
		if in.Fields[i].Matches(r) {
			return true
		}
	}
	return false
}

// Registry is the compiled, read-only set of instruments. It is safe for
// concurrent use.
type Registry struct {
	instruments []*Instrument
	byName      map[string]*Instrument
}

// NewRegistry compiles every pattern and checks field names are unique per
// instrument. The passed instruments are copied.
func NewRegistry(instruments []Instrument) (*Registry, error) {
	if len(instruments) == 0 {
		return nil, errors.New("no instruments configured")
	}
	reg := &Registry{byName: make(map[string]*Instrument, len(instruments))}
	for _, src := range instruments {
		in := cloneInstrument(src)
		if err := in.compile(); err != nil {
			return nil, err
		}
		if _, dup := reg.byName[in.Name]; dup {
			return nil, fmt.Errorf("duplicate instrument %q", in.Name)
		}
		reg.byName[in.Name] = in
		reg.instruments = append(reg.instruments, in)
	}
	return reg, nil
}

// Names lists the instruments in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.instruments))
	for i, in := range r.instruments {
		names[i] = in.Name
	}
	return names
}

// Instrument returns the named instrument. Callers must not modify it.
func (r *Registry) Instrument(name string) (*Instrument, error) {
	in, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownInstrument)
	}
	return in, nil
}

// Lookup returns the records of day that feed field of instrument.
// Overlapping rules may select the same record.
func (r *Registry) Lookup(instrument, field string, day models.Day, series models.Series) ([]models.CanonicalRecord, error) {
	in, err := r.Instrument(instrument)
	if err != nil {
		return nil, err
	}
	rule, ok := in.Rule(field)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", instrument, field, ErrUnknownField)
	}
	return rule.Select(day, series), nil
}

func cloneInstrument(src Instrument) *Instrument {
	in := src
	in.DateFields = append([]string(nil), src.DateFields...)
	in.TimePointFields = append([]string(nil), src.TimePointFields...)
	in.Constants = append([]Constant(nil), src.Constants...)
	in.Fields = append([]FieldRule(nil), src.Fields...)
	in.Flags = make([]FlagRule, len(src.Flags))
	for i, f := range src.Flags {
		f.Sources = append([]string(nil), f.Sources...)
		f.Fields = append([]string(nil), f.Fields...)
		f.Choices = append([]Choice(nil), f.Choices...)
		if f.Match != nil {
			m := *f.Match
			f.Match = &m
		}
		in.Flags[i] = f
	}
	if src.Window != nil {
		w := *src.Window
		w.AssessFrom = append([]string(nil), src.Window.AssessFrom...)
		in.Window = &w
	}
	return &in
}
