package aggregation

import (
	"errors"
	"fmt"
	"math"

	"github.com/mlife-core/platform/pkg/common/models"
	"github.com/mlife-core/platform/pkg/mapping"
)

// ValidationError names the field and day a record violates its schema on.
type ValidationError struct {
	Instrument string     `json:"instrument"`
	Day        models.Day `json:"day"`
	Field      string     `json:"field"`
	Reason     string     `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: field %s: %s", e.Instrument, e.Day, e.Field, e.Reason)
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ValidationErrors flattens a joined validation error.
func ValidationErrors(err error) []*ValidationError {
	if err == nil {
		return nil
	}
	var out []*ValidationError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, ValidationErrors(e)...)
		}
		return out
	}
	var v *ValidationError
	if errors.As(err, &v) {
		out = append(out, v)
	}
	return out
}

// Validate checks a record against its instrument. All violations are
// returned joined; any violation rejects the record.
func Validate(in *mapping.Instrument, rec *models.AggregatedRecord) error {
	var errs []error
	fail := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{
			Instrument: in.Name,
			Day:        rec.Day,
			Field:      field,
			Reason:     fmt.Sprintf(format, args...),
		})
	}

	if rec.RecordID == "" {
		fail("record_id", "is required")
	}
	if rec.Instrument != in.Name {
		fail("redcap_repeat_instrument", "is %q, want %q", rec.Instrument, in.Name)
	}
	switch {
	case in.Windowed() && rec.Repeating():
		fail("redcap_repeat_instance", "must be empty for a one-off form, got %d", rec.RepeatInstance)
	case !in.Windowed() && !rec.Repeating():
		fail("redcap_repeat_instance", "must be positive, got %d", rec.RepeatInstance)
	}
	for _, name := range in.DateFields {
		v, _ := rec.Get(name)
		if v == nil {
			fail(name, "is required")
			continue
		}
		if _, err := models.ParseDay(v.Text()); err != nil {
			fail(name, "is not a date: %q", v.Text())
		}
	}

	for i := range in.Fields {
		rule := &in.Fields[i]
		v, _ := rec.Get(rule.Field)
		if v == nil {
			if rule.Required {
				fail(rule.Field, "is required")
			}
			continue
		}
		if rule.Kind == mapping.KindText {
			continue
		}
		n, ok := v.Float()
		if !ok {
			fail(rule.Field, "expected a number, got %q", v.Text())
			continue
		}
		if rule.Kind == mapping.KindInteger && n != math.Trunc(n) {
			fail(rule.Field, "expected an integer, got %v", n)
		}
		if rule.Min != nil && n < *rule.Min {
			fail(rule.Field, "%v is below %v", n, *rule.Min)
		}
		if rule.Max != nil && n > *rule.Max {
			fail(rule.Field, "%v is above %v", n, *rule.Max)
		}
	}
	return errors.Join(errs...)
}
