package mapping

import (
	"fmt"
	"strings"
	"time"

	"github.com/mlife-core/platform/pkg/common/models"
)

// DefaultWindowHours is the look-back of a window instrument without hours.
const DefaultWindowHours = 6

// Window turns an instrument into a single assessment taken before a device
// was started. Fields resolve from the records in [anchor-hours, anchor],
// where the anchor is the start time of the Anchor device.
type Window struct {
	// Anchor is the device source whose start time anchors the window.
	Anchor string  `yaml:"anchor" json:"anchor"`
	Hours  float64 `yaml:"hours,omitempty" json:"hours,omitempty"`
	// DateField and TimeField receive the timestamp of the latest record
	// that fed one of the AssessFrom fields.
	DateField  string   `yaml:"date_field,omitempty" json:"date_field,omitempty"`
	TimeField  string   `yaml:"time_field,omitempty" json:"time_field,omitempty"`
	AssessFrom []string `yaml:"assess_from,omitempty" json:"assess_from,omitempty"`
}

func (w *Window) compile() error {
	if strings.TrimSpace(w.Anchor) == "" {
		return fmt.Errorf("window anchor is required")
	}
	if w.Hours < 0 {
		return fmt.Errorf("window hours must not be negative, got %v", w.Hours)
	}
	if w.Hours == 0 {
		w.Hours = DefaultWindowHours
	}
	if len(w.AssessFrom) > 0 && w.DateField == "" && w.TimeField == "" {
		return fmt.Errorf("window assess_from needs a date or time field")
	}
	return nil
}

// Span returns the closed interval of a window of hours ending at anchor.
func Span(anchor time.Time, hours float64) (from, to time.Time) {
	return anchor.Add(-time.Duration(hours * float64(time.Hour))), anchor
}

// Within returns the records with from <= timestamp <= to, in series order.
func Within(from, to time.Time, records []models.CanonicalRecord) []models.CanonicalRecord {
	var out []models.CanonicalRecord
	for _, r := range records {
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			out = append(out, r)
		}
	}
	return out
}

// SelectBetween returns the records matched by the pattern with
// from <= timestamp <= to, in series order.
func (p *Pattern) SelectBetween(from, to time.Time, records []models.CanonicalRecord) []models.CanonicalRecord {
	var out []models.CanonicalRecord
	for _, r := range records {
		if r.Timestamp.Before(from) || r.Timestamp.After(to) {
			continue
		}
		if p.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// HoursFor is the look-back of a field of a window instrument.
func (w *Window) HoursFor(rule *FieldRule) float64 {
	if rule.WindowHours > 0 {
		return rule.WindowHours
	}
	return w.Hours
}

// FlagHours is the look-back of a flag of a window instrument.
func (w *Window) FlagHours(f *FlagRule) float64 {
	if f.WindowHours > 0 {
		return f.WindowHours
	}
	return w.Hours
}
