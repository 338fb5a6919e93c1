package mapping

import (
	"fmt"

	"github.com/mlife-core/platform/pkg/common/models"
)

// Pre-implantation assessments, one record per patient anchored at the
// start of the device.
const (
	InstrumentPreImpellaHV = "preimpella_hemodynamics_ventilation_labor"
	InstrumentPreImpella   = "preimpella"
	InstrumentPreECLSHV    = "prevaecls_hemodynamics_ventilation_labor"
	InstrumentPreECLS      = "prevaecls"
)

const (
	preWindowHours     = 6
	preMedicationHours = 24
)

// preArm holds the naming of one device arm of the pre assessment.
type preArm struct {
	device   string
	event    string
	suffix   string
	fallback string
	hv, med  string
}

var (
	preImpella = preArm{
		device:   models.SourceImpella,
		event:    "impella_arm_2",
		suffix:   "_i",
		fallback: "pre_lab_results_imp",
		hv:       InstrumentPreImpellaHV,
		med:      InstrumentPreImpella,
	}
	preECLS = preArm{
		device:   models.SourceECMO,
		event:    "ecls_arm_2",
		fallback: "pre_lab_results_elso",
		hv:       InstrumentPreECLSHV,
		med:      InstrumentPreECLS,
	}
)

func (a preArm) name(base string) string {
	return "pre_" + base + a.suffix
}

func (a preArm) names(bases ...string) []string {
	out := make([]string, len(bases))
	for i, b := range bases {
		out[i] = a.name(b)
	}
	return out
}

// rename maps a pre field to the daily field it copies its rule from.
type rename struct{ pre, daily string }

var (
	preBloodGas = []rename{
		{"pco2", "pc02"}, {"p02", "p02"}, {"ph", "ph"}, {"hco3", "hco3"}, {"be", "be"},
		{"k", "k"}, {"na", "na"}, {"sa02", "sa02"}, {"gluc", "gluc"}, {"lactate", "lactate"},
		{"svo2", "sv02"},
	}
	preVentilation = []rename{
		{"fi02", "fi02"}, {"02l", "o2"}, {"vent_peep", "vent_peep"}, {"vent_pip", "vent_pip"},
		{"conv_vent_rate", "conv_vent_rate"}, {"vent_spec", "vent_spec"},
	}
	preHemodynamics = []rename{
		{"hr", "hr"}, {"sys_bp", "sys_bp"}, {"dia_bp", "dia_bp"}, {"mean_bp", "mean_bp"},
		{"cvd", "cvp"}, {"sp02", "sp02"},
	}
	prePAC = []rename{
		{"pcwp", "pcwp"}, {"sys_pap", "sys_pap"}, {"dia_pap", "dia_pap"}, {"mean_pap", "mean_pap"}, {"ci", "ci"},
	}
	preLab = []rename{
		{"wbc", "wbc"}, {"hb", "hb"}, {"hct", "hct"}, {"plt", "plt"}, {"ptt", "ptt"},
		{"quick", "quick"}, {"inr", "inr"}, {"ck", "ck"}, {"got", "got"}, {"ldh", "ldh"},
		{"crea", "crea"}, {"urea", "urea"}, {"alb", "albumin"}, {"crp", "crp"}, {"pct", "pct"},
		{"act", "act"},
	}
	preDoses = []rename{
		{"dobutamine", "dobutamine"}, {"epinephrine", "epinephrine"},
		{"norepinephrine", "norepinephrine"}, {"milrinone", "milrinone"},
		{"vasopressin", "vasopressin"},
	}
)

func preInstruments() []Instrument {
	return []Instrument{
		preHVInstrument(preImpella), preMedicationInstrument(preImpella),
		preHVInstrument(preECLS), preMedicationInstrument(preECLS),
	}
}

// copied builds the pre rules from the daily tables. The latest record at
// or before the anchor wins.
func (a preArm) copied(daily Instrument, names []rename, fallbackHours float64) []FieldRule {
	out := make([]FieldRule, 0, len(names))
	for _, n := range names {
		rule := FieldRule{Field: a.name(n.pre)}
		if src, ok := daily.Rule(n.daily); ok {
			rule = *src
			rule.Field = a.name(n.pre)
		}
		rule.Strategy = models.StrategyNearest
		rule.FallbackHours = fallbackHours
		out = append(out, rule)
	}
	return out
}

func basesOf(names []rename) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n.pre
	}
	return out
}

func preHVInstrument(a preArm) Instrument {
	lab, hemo := labInstrument(), hemodynamicsInstrument()

	var fields []FieldRule
	fields = append(fields, a.copied(lab, preBloodGas, 0)...)
	fields = append(fields, a.copied(hemo, preVentilation, 0)...)
	fields = append(fields, a.copied(hemo, preHemodynamics, 0)...)
	fields = append(fields, a.copied(hemo, prePAC, 0)...)
	fields = append(fields, a.copied(hemo, []rename{{"gcs", "gcs"}}, 0)...)
	fields = append(fields, a.copied(lab, preLab, preMedicationHours)...)

	labResults := "pre_lab_results" + a.suffix
	hemodynamics := append(basesOf(preHemodynamics), basesOf(prePAC)...)
	flags := []FlagRule{
		{Field: a.name("bga"), Kind: FlagAnyPresent, Fields: a.names(basesOf(preBloodGas)...)},
		{Field: a.name("vent"), Kind: FlagAnyPresent, Fields: a.names(basesOf(preVentilation)...)},
		{
			Field: a.name("ventilation"),
			Kind:  FlagFieldChoice,
			Choices: []Choice{
				{Code: 5, Field: a.name("conv_vent_rate")},
				{Code: 1, Field: a.name("vent_peep")},
				{Code: 6, Field: a.name("fi02")},
			},
		},
		{Field: a.name("vent_type"), Kind: FlagFieldChoice, Choices: []Choice{{Code: 1, Field: a.name("conv_vent_rate")}}},
		{Field: a.name("hemodynamics"), Kind: FlagAnyPresent, Fields: a.names(hemodynamics...)},
		{Field: a.name("pac"), Kind: FlagAnyPresent, Fields: a.names(basesOf(prePAC)...)},
		{Field: a.name("neuro"), Kind: FlagAnyPresent, Fields: []string{a.name("gcs")}},
		{Field: labResults, Kind: FlagAnyPresent, Fields: a.names(basesOf(preLab)...)},
		{Field: a.fallback, Kind: FlagFallbackUsed, Fields: a.names(basesOf(preLab)...)},
		{Field: a.name("crp_m"), Kind: FlagAnyPresent, Fields: []string{a.name("crp")}},
		{Field: a.name("pct_m"), Kind: FlagAnyPresent, Fields: []string{a.name("pct")}},
		{Field: a.name("act_m"), Kind: FlagAnyPresent, Fields: []string{a.name("act")}},
	}

	return Instrument{
		Name:      a.hv,
		EventName: a.event,
		Fields:    fields,
		Flags:     flags,
		Window: &Window{
			Anchor:     a.device,
			Hours:      preWindowHours,
			DateField:  a.name("assess_date"),
			TimeField:  a.name("assess_time"),
			AssessFrom: a.names(basesOf(preBloodGas)...),
		},
	}
}

func preMedicationInstrument(a preArm) Instrument {
	prefix := "pre_vasoactive" + a.suffix
	flags := checkboxes(prefix, vasoactiveDrugs, vasoactiveExcludes, true)
	boxes := make([]string, 0, len(flags))
	for _, f := range flags {
		boxes = append(boxes, f.Field)
	}
	flags = append(flags, FlagRule{
		Field:  fmt.Sprintf("%s___%d", prefix, len(vasoactiveDrugs)+1),
		Kind:   FlagNoneOf,
		Fields: boxes,
	})

	return Instrument{
		Name:      a.med,
		EventName: a.event,
		Fields:    a.copied(hemodynamicsInstrument(), preDoses, 0),
		Flags:     flags,
		Window:    &Window{Anchor: a.device, Hours: preMedicationHours},
	}
}
