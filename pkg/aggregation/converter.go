package aggregation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mlife-core/platform/pkg/common/models"
	"github.com/mlife-core/platform/pkg/mapping"
)

// ErrTextStrategy rejects median or mean for a field that resolves from text.
var ErrTextStrategy = errors.New("numeric strategy on a text field")

var (
	errNoWeight        = errors.New("patient body weight unknown")
	errNoConcentration = errors.New("concentration not found in label")
	errUnknownVentMode = errors.New("unknown ventilation mode")
	errNoPLevel        = errors.New("no P-level in flow control value")
)

// ConversionError reports a field that could not be derived and was left null.
type ConversionError struct {
	Field string
	err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Field, e.err)
}

func (e *ConversionError) Unwrap() error {
	return e.err
}

func conversionError(field string, err error) *ConversionError {
	return &ConversionError{Field: field, err: err}
}

var (
	// "5 mg / 50 ml", "0,5mg/10ml"
	mgPerVolume = regexp.MustCompile(`(?i)(\d+(?:[,.]\d+)?)\s*mg\s*/\s*(\d+(?:[,.]\d+)?)\s*ml`)
	// "5mg/ml"
	mgPerMl = regexp.MustCompile(`(?i)(\d+(?:[,.]\d+)?)\s*mg\s*/\s*ml`)
	// "500 µg / 50 ml"
	ugPerVolume = regexp.MustCompile(`(?i)(\d+(?:[,.]\d+)?)\s*(?:µg|ug|mcg)\s*/\s*(\d+(?:[,.]\d+)?)\s*ml`)

	pLevel = regexp.MustCompile(`(?i)P\s*(\d+)`)

	weightParameter = regexp.MustCompile(`(?i)^Gewicht(?:\s*/\s*kg)?$`)
)

var thousand = decimal.NewFromInt(1000)

// ConcentrationUgPerMl parses the drug concentration from a compounded label.
// A bare stock strength in mg/ml is replaced by dilution when one is given.
func ConcentrationUgPerMl(label string, dilution *float64) (decimal.Decimal, bool) {
	if m := mgPerVolume.FindStringSubmatch(label); m != nil {
		mg, ok1 := parseDecimal(m[1])
		ml, ok2 := parseDecimal(m[2])
		if ok1 && ok2 && ml.IsPositive() {
			return mg.Mul(thousand).Div(ml), true
		}
	}
	if m := ugPerVolume.FindStringSubmatch(label); m != nil {
		ug, ok1 := parseDecimal(m[1])
		ml, ok2 := parseDecimal(m[2])
		if ok1 && ok2 && ml.IsPositive() {
			return ug.Div(ml), true
		}
	}
	if m := mgPerMl.FindStringSubmatch(label); m != nil {
		if dilution != nil {
			return decimal.NewFromFloat(*dilution), true
		}
		if mg, ok := parseDecimal(m[1]); ok {
			return mg.Mul(thousand), true
		}
	}
	return decimal.Decimal{}, false
}

// InfusionDose converts a rate in ml/h at a concentration in µg/ml into
// µg/kg/min for the given body weight.
func InfusionDose(rateMlPerHour float64, concUgPerMl decimal.Decimal, weightKg float64) (float64, error) {
	if weightKg <= 0 {
		return 0, errNoWeight
	}
	dose := decimal.NewFromFloat(rateMlPerHour).
		Mul(concUgPerMl).
		Div(decimal.NewFromFloat(weightKg).Mul(decimal.NewFromInt(60)))
	f, _ := dose.Float64()
	return f, nil
}

// PLevel extracts the Impella performance level from values such as "P8".
func PLevel(v models.Value) (int, bool) {
	if n, ok := v.Float(); ok {
		return int(n), n == float64(int(n))
	}
	m := pLevel.FindStringSubmatch(v.Text())
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

// VentMode maps a ventilator mode string to its registry code. Modes that
// are ignored on purpose yield (0, false, nil).
func VentMode(raw string) (int, bool, error) {
	code, ignored, ok := mapping.VentModeCode(raw)
	switch {
	case !ok:
		return 0, false, fmt.Errorf("%w %q", errUnknownVentMode, raw)
	case ignored:
		return 0, false, nil
	}
	return code, true, nil
}

// WeightFromSeries returns the first plausible body weight recorded with the
// patient master data.
func WeightFromSeries(series models.Series) (float64, bool) {
	for _, r := range series {
		if !mapping.MatchesSource(r.SourceType, models.SourcePatientInfo) && !mapping.MatchesSource(r.SourceType, "Grösse/Gewicht") {
			continue
		}
		if !weightParameter.MatchString(strings.TrimSpace(r.Parameter)) {
			continue
		}
		if w, ok := r.Value.Float(); ok && w > 20 && w < 300 {
			return w, true
		}
	}
	return 0, false
}

// EffectiveWeight prefers the caller-supplied weight over the series.
func EffectiveWeight(pc *models.PatientContext, series models.Series) (float64, bool) {
	if w, ok := pc.Weight(); ok && w > 0 {
		return w, true
	}
	return WeightFromSeries(series)
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.Replace(strings.TrimSpace(s), ",", ".", 1))
	return d, err == nil
}
