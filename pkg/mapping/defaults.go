package mapping

import (
	"fmt"
	"sort"

	"github.com/mlife-core/platform/pkg/common/models"
)

// Instrument names shipped with DefaultRegistry.
const (
	InstrumentLab          = "labor"
	InstrumentHemodynamics = "hemodynamics_ventilation_medication"
	InstrumentPump         = "pump"
	InstrumentImpella      = "impellaassessment_and_complications"
)

// Drug name patterns shared by dose fields and presence checkboxes.
const (
	patNorepinephrine = `Norepinephrin|Noradrenalin|^Arterenol`
	patEpinephrine    = `Epinephrin|Adrenalin|^Suprarenin`
	exclNorepi        = `Norepinephrin|Noradrenalin`
	patDobutamine     = `Dobutamin`
	patMilrinone      = `Milrinon|Corotrop`
	patVasopressin    = `Vasopressin|Empressin`
)

var (
	vasoactiveDrugs = map[int]string{
		1: patDobutamine, 2: `Dopamin`, 3: `Enoximon`, 4: patEpinephrine,
		5: `Esmolol`, 6: `Levosimendan|Simdax`, 7: `Metaraminol|Aramino`,
		8: `Metoprolol|Beloc`, 9: patMilrinone, 10: `Nicardipin`,
		11: `Nitroglycerin|Nitro`, 12: `Nitroprussid`, 13: patNorepinephrine,
		14: `Phenylephrin`, 15: `Tolazolin`, 16: patVasopressin,
	}
	vasoactiveExcludes = map[int]string{4: exclNorepi, 11: `Nitroprussid`}

	antiplateletDrugs = map[int]string{
		1: `Aspirin|\bASS\b|Aspisol`, 2: `Plavix|Clopidogrel`,
		3: `Ticagrelor|Brilique`, 4: `Prasugrel|Efient`,
	}

	antibioticDrugs = map[int]string{
		1: `Cefuroxim|Zinacef|Zinnat`, 2: `Piperacillin|Tazobactam|Pip/Taz|Tazobac`,
		3: `Meropenem|Meronem`, 4: `Vancomycin|Vanco`, 5: `Vanco.*p\.o\.`,
		6: `Linezolid|Zyvoxid`, 7: `Daptomycin|Cubicin`, 8: `Penicillin`,
		9: `Flucloxacillin|Staphylex`, 10: `Rifampicin|Eremfat`,
		11: `Gentamicin|Refobacin`, 12: `Tobramycin|Gernebacin`,
		13: `Ciprofloxacin|Cipro`, 15: `Erythromycin|Erythrocin`,
		16: `Caspofungin|Cancidas`, 17: `Amphotericin B|Ampho-Moronal|Ambisome`,
		18: `Metronidazol|Clont|Arilin`, 19: `Cefazolin|Gramaxin`,
		20: `Ceftriaxon|Rocephin`,
	}
	// Oral vancomycin has its own box; the i.v. box must not fire for it.
	antibioticExcludes = map[int]string{4: `p\.o\.`}
)

// DefaultRegistry returns the compiled built-in instrument tables.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(DefaultInstruments())
	if err != nil {
		panic(fmt.Sprintf("mapping: built-in tables do not compile: %v", err))
	}
	return reg
}

// DefaultInstruments returns the built-in instrument tables uncompiled, for
// callers that extend them before building a Registry.
func DefaultInstruments() []Instrument {
	return append(
		[]Instrument{labInstrument(), hemodynamicsInstrument(), pumpInstrument(), impellaInstrument()},
		preInstruments()...,
	)
}

func labInstrument() Instrument {
	bga := "Blutgase arteriell"
	return Instrument{
		Name:            InstrumentLab,
		DateFields:      []string{"assess_date_labor", "date_assess_labor"},
		TimePointFields: []string{"assess_time_point_labor"},
		TimeField:       "time_assess_labor",
		Constants: []Constant{
			{Field: "art_site", Value: 7},
			{Field: "na_post_2", Value: 1},
		},
		Fields: []FieldRule{
			lab("pc02", bga, `^PCO2`),
			lab("p02", bga, `^PO2`),
			ranged(lab("ph", bga, `^PH$|^PH `), 6.5, 8.0),
			lab("hco3", bga, `^HCO3`),
			lab("be", bga, `^ABEc`),
			ranged(lab("sa02", bga, `^O2-SAETTIGUNG`), 0, 100),
			lab("k", bga, `^KALIUM`),
			lab("na", bga, `^NATRIUM`),
			lab("gluc", bga, `^GLUCOSE`),
			lab("lactate", bga, `^LACTAT`),
			ranged(lab("sv02", "Blutgase ven", `^O2-SAETTIGUNG`), 0, 100),
			lab("wbc", "Blutbild", `^WBC`),
			lab("hb", "Blutbild", `^HB \(HGB\)|^HB\b`),
			lab("hct", "Blutbild", `^HCT`),
			lab("plt", "Blutbild", `^PLT`),
			lab("fhb", "Blutbild|Klinische Chemie", `^FREIES HB`),
			lab("ptt", "Gerinnung", `^PTT`),
			lab("quick", "Gerinnung", `^TPZ`),
			lab("inr", "Gerinnung", `^INR`),
			{Field: "act", Pattern: Pattern{Source: "ACT", Parameter: `^ACT`}},
			lab("ck", "Enzyme", `^CK \[|^CK$`),
			lab("ckmb", "Enzyme", `^CK-MB`),
			lab("ggt", "Enzyme", `^GGT`),
			lab("ldh", "Enzyme", `^LDH`),
			lab("lipase", "Enzyme", `^LIPASE`),
			lab("got", "Enzyme", `^GOT`),
			lab("alat", "Enzyme", `^GPT`),
			lab("pct", "Klinische Chemie|Proteine", `^PROCALCITONIN`),
			lab("crp", "Klinische Chemie|Proteine", `^CRP`),
			lab("bili", "Klinische Chemie", `^BILI`),
			lab("crea", "Klinische Chemie|Retention", `^KREATININ`),
			lab("urea", "Klinische Chemie|Retention", `^HARNSTOFF`),
			lab("cc", "Klinische Chemie|Retention", `^GFRKREA`),
			lab("albumin", "Klinische Chemie|Proteine", `^ALBUMIN`),
			lab("hapto", "Klinische Chemie|Proteine", `^HAPTOGLOBIN`),
		},
		Flags: []FlagRule{
			{Field: "ecmella_2", Kind: FlagCoOccurrence, Sources: []string{models.SourceECMO, models.SourceImpella}},
			{Field: "post_act", Kind: FlagAnyPresent, Fields: []string{"act"}},
			{Field: "post_crp", Kind: FlagAnyPresent, Fields: []string{"crp"}},
			{Field: "post_pct", Kind: FlagAnyPresent, Fields: []string{"pct"}},
			{Field: "hemolysis", Kind: FlagAnyPresent, Fields: []string{"fhb", "hapto"}},
		},
	}
}

func hemodynamicsInstrument() Instrument {
	online := `^Online`
	fields := []FieldRule{
		vital("hr", "", `^HF\s*\[`, 0, 300),
		vital("sys_bp", "", `^ABPs\s*\[|^ARTs\s*\[`, 0, 300),
		vital("dia_bp", "", `^ABPd\s*\[|^ARTd\s*\[`, 0, 300),
		vital("mean_bp", "", `^ABPm\s*\[|^ARTm\s*\[`, 0, 300),
		{Field: "cvp", Pattern: Pattern{Source: models.SourceVitals, Parameter: `^ZVDm\s*\[`}},
		{Field: "pcwp", Pattern: Pattern{Source: models.SourceVitals, Category: online, Parameter: `^PCWP\s*\[|^PAWP\s*\[`}},
		{Field: "sys_pap", Pattern: Pattern{Source: models.SourceVitals, Category: online, Parameter: `^PAPs\s*\[`}},
		{Field: "dia_pap", Pattern: Pattern{Source: models.SourceVitals, Category: online, Parameter: `^PAPd\s*\[`}},
		{Field: "mean_pap", Pattern: Pattern{Source: models.SourceVitals, Category: online, Parameter: `^PAPm\s*\[`}},
		{Field: "ci", Pattern: Pattern{Source: models.SourceVitals, Category: online, Parameter: `^CCI\s*\[|^HZV`}},
		{Field: "nirs_left_c", Pattern: Pattern{Source: models.SourceVitals, Parameter: `NIRS Channel 1 RSO2|NIRS.*Channel.*1`}},
		{Field: "nirs_right_c", Pattern: Pattern{Source: models.SourceVitals, Parameter: `NIRS Channel 2 RSO2|NIRS.*Channel.*2`}},
		vital("sp02", "", `^SpO2\s*\[%\]`, 0, 100),

		{Field: "fi02", Pattern: Pattern{Source: models.SourceRespiratory, Parameter: `^FiO2\s*\[%\]`}, Min: bound(0), Max: bound(100)},
		{Field: "o2", Pattern: Pattern{Source: "O2 Gabe", Parameter: `^O2\s*l/min`}},
		{Field: "vent_peep", Pattern: Pattern{Source: models.SourceRespiratory, Parameter: `^PEEP\s*\[`}},
		{Field: "vent_pip", Pattern: Pattern{Source: models.SourceRespiratory, Parameter: `^Ppeak\s*\[|^insp.*Spitzendruck`}},
		{Field: "conv_vent_rate", Pattern: Pattern{Source: models.SourceRespiratory, Parameter: `mand.*Atemfrequenz`}},
		{
			Field:     "vent_spec",
			Pattern:   Pattern{Source: models.SourceRespiratory, Parameter: `^Modus`},
			Kind:      KindInteger,
			Strategy:  models.StrategyFirst,
			Transform: TransformVentMode,
		},

		{Field: "rass", Pattern: Pattern{Source: "Richmond", Parameter: `^Summe Richmond-Agitation-Sedation`}, Kind: KindInteger, Min: bound(-5), Max: bound(4)},
		{Field: "gcs", Pattern: Pattern{Source: "GCS", Parameter: `^Summe GCS2`}, Min: bound(3), Max: bound(15)},

		dose("norepinephrine", patNorepinephrine, ""),
		dose("epinephrine", patEpinephrine, exclNorepi),
		withDilution(dose("dobutamine", patDobutamine, ""), 5000),
		dose("milrinone", patMilrinone, ""),
		{
			Field:     "vasopressin",
			Pattern:   Pattern{Source: models.SourceMedication, Parameter: patVasopressin, ExcludeReadyMade: true},
			Strategy:  models.StrategyMedian,
			Transform: TransformInfusionRate,
		},

		transfusion("thromb_t", `Thrombozyt|\bTK\b`),
		transfusion("ery_t", `Erythrozyt|\bEK\b`),
		transfusion("ffp_t", `\bFFP\b|Frischplasma|Octaplas`),
	}

	flags := []FlagRule{
		{Field: "ecmella", Kind: FlagCoOccurrence, Sources: []string{models.SourceECMO, models.SourceImpella}},
		{Field: "pac", Kind: FlagAnyPresent, Fields: []string{"pcwp", "sys_pap", "dia_pap", "mean_pap", "ci"}},
		{Field: "nirs_avail", Kind: FlagAnyPresent, Fields: []string{"nirs_left_c", "nirs_right_c"}},
		{Field: "vasoactive_med", Kind: FlagAnyPositive, Fields: []string{"dobutamine", "epinephrine", "norepinephrine", "milrinone", "vasopressin"}},
		{Field: "vent", Kind: FlagAnyPresent, Fields: []string{"fi02", "vent_peep", "vent_pip"}},
		{Field: "gcs_avail", Kind: FlagAnyPresent, Fields: []string{"gcs"}},
		{
			Field: "nutrition_spec___1",
			Kind:  FlagRecordsPresent,
			Match: &Pattern{Source: models.SourceMedication, Category: `\bSonden\b`, Parameter: `.`},
		},
		{
			Field: "iv_ac_spec",
			Kind:  FlagChoice,
			Match: &Pattern{Source: models.SourceMedication, Parameter: `.`},
			Choices: []Choice{
				{Code: 1, Pattern: `Heparin`},
				{Code: 2, Pattern: `Argatroban|Argatra`},
			},
		},
	}
	flags = append(flags, checkboxes("vasoactive_spec", vasoactiveDrugs, vasoactiveExcludes, true)...)
	flags = append(flags, checkboxes("antiplat_therapy_spec", antiplateletDrugs, nil, false)...)
	flags = append(flags, checkboxes("antibiotic_spec", antibioticDrugs, antibioticExcludes, false)...)

	return Instrument{
		Name:            InstrumentHemodynamics,
		DateFields:      []string{"assess_date_hemo"},
		TimePointFields: []string{"assess_time_point"},
		Constants:       []Constant{{Field: "na_post", Value: 1}},
		Fields:          fields,
		Flags:           flags,
	}
}

func pumpInstrument() Instrument {
	return Instrument{
		Name:            InstrumentPump,
		EventName:       "ecls_arm_2",
		DateFields:      []string{"ecls_compl_date"},
		TimePointFields: []string{"ecls_compl_time_point"},
		Device:          models.SourceECMO,
		Constants:       []Constant{{Field: "ecls_compl_na", Value: 1}},
		Fields: []FieldRule{
			{Field: "ecls_rpm", Pattern: Pattern{Source: models.SourceECMO, Parameter: `^Drehzahl`}, Min: bound(0)},
			{Field: "ecls_pf", Pattern: Pattern{Source: models.SourceECMO, Parameter: `^Blutfluss arteriell|^Blutfluss.*l/min`}, Min: bound(0)},
			{Field: "ecls_gf", Pattern: Pattern{Source: models.SourceECMO, Parameter: `^Gasfluss`}, Min: bound(0)},
			{Field: "ecls_fi02", Pattern: Pattern{Source: models.SourceECMO, Parameter: `^FiO2`}, Min: bound(0), Max: bound(100)},
		},
	}
}

func impellaInstrument() Instrument {
	return Instrument{
		Name:            InstrumentImpella,
		EventName:       "impella_arm_2",
		DateFields:      []string{"imp_compl_date"},
		TimePointFields: []string{"imp_compl_time_point"},
		Device:          models.SourceImpella,
		Fields: []FieldRule{
			{Field: "imp_flow", Pattern: Pattern{Source: models.SourceImpella, Parameter: `^HZV`}, Min: bound(0)},
			{Field: "imp_purge_flow", Pattern: Pattern{Source: models.SourceImpella, Parameter: `Purgefluß|Purgefluss|Purge.*ml/h`}},
			{Field: "imp_purge_pressure", Pattern: Pattern{Source: models.SourceImpella, Parameter: `Purgedruck`}},
			{
				Field:     "imp_p_level",
				Pattern:   Pattern{Source: models.SourceImpella, Parameter: `Flu.*regelung`},
				Kind:      KindInteger,
				Strategy:  models.StrategyFirst,
				Transform: TransformPLevel,
				Min:       bound(1),
				Max:       bound(9),
			},
		},
	}
}

func lab(field, category, parameter string) FieldRule {
	return FieldRule{Field: field, Pattern: Pattern{Source: models.SourceLab, Category: category, Parameter: parameter}}
}

func vital(field, category, parameter string, lo, hi float64) FieldRule {
	return FieldRule{
		Field:   field,
		Pattern: Pattern{Source: models.SourceVitals, Category: category, Parameter: parameter},
		Min:     bound(lo),
		Max:     bound(hi),
	}
}

func dose(field, parameter, exclude string) FieldRule {
	return FieldRule{
		Field:     field,
		Pattern:   Pattern{Source: models.SourceMedication, Parameter: parameter, Exclude: exclude, ExcludeReadyMade: true},
		Strategy:  models.StrategyMedian,
		Transform: TransformInfusionDose,
		Min:       bound(0),
	}
}

func transfusion(field, parameter string) FieldRule {
	return FieldRule{
		Field:     field,
		Pattern:   Pattern{Source: models.SourceMedication, Category: `Blutprodukt|Transfusion|Konserve`, Parameter: parameter},
		Kind:      KindInteger,
		Transform: TransformCount,
	}
}

func ranged(r FieldRule, lo, hi float64) FieldRule {
	r.Min, r.Max = bound(lo), bound(hi)
	return r
}

func withDilution(r FieldRule, ugPerMl float64) FieldRule {
	r.DilutionUgPerMl = bound(ugPerMl)
	return r
}

// checkboxes expands a coded drug table into one records_present flag per
// code, named <prefix>___<code>.
func checkboxes(prefix string, drugs, excludes map[int]string, excludeReadyMade bool) []FlagRule {
	codes := make([]int, 0, len(drugs))
	for code := range drugs {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	flags := make([]FlagRule, 0, len(codes))
	for _, code := range codes {
		flags = append(flags, FlagRule{
			Field: fmt.Sprintf("%s___%d", prefix, code),
			Kind:  FlagRecordsPresent,
			Match: &Pattern{
				Source:           models.SourceMedication,
				Parameter:        drugs[code],
				Exclude:          excludes[code],
				ExcludeReadyMade: excludeReadyMade,
			},
		})
	}
	return flags
}

func bound(v float64) *float64 {
	return &v
}
