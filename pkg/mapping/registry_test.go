package mapping

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlife-core/platform/pkg/common/models"
)

func rec(source, category, parameter string, v models.Value, ts time.Time) models.CanonicalRecord {
	return models.CanonicalRecord{Timestamp: ts, SourceType: source, Category: category, Parameter: parameter, Value: v}
}

func TestDefaultRegistryCompiles(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, []string{
		InstrumentLab, InstrumentHemodynamics, InstrumentPump, InstrumentImpella,
		InstrumentPreImpellaHV, InstrumentPreImpella, InstrumentPreECLSHV, InstrumentPreECLS,
	}, reg.Names())

	pump, err := reg.Instrument(InstrumentPump)
	require.NoError(t, err)
	assert.Equal(t, "ecls_arm_2", pump.EventName)

	hemo, err := reg.Instrument(InstrumentHemodynamics)
	require.NoError(t, err)
	var boxes int
	for _, f := range hemo.Flags {
		if f.Kind == FlagRecordsPresent {
			boxes++
		}
	}
	// nutrition + 16 vasoactive + 4 antiplatelet + 19 antibiotic
	assert.Equal(t, 40, boxes)

	_, err = reg.Instrument("echocardiography")
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestLookupMatchesSourceCategoryParameterAndDay(t *testing.T) {
	day := time.Date(2025, 9, 10, 8, 0, 0, 0, time.UTC)
	series := models.Series{
		rec(models.SourceLab, "Blutgase arteriell", "PCO2 [mmHg]", models.Number(42), day),
		rec(models.SourceLab, "blutgase ARTERIELL", "pco2 [mmHg]", models.Number(45), day.Add(4*time.Hour)),
		rec(models.SourceLab, "Blutgase venös", "PCO2 [mmHg]", models.Number(50), day),
		rec(models.SourceVitals, "Blutgase arteriell", "PCO2 [mmHg]", models.Number(51), day),
		rec(models.SourceLab, "Blutgase arteriell", "PCO2 [mmHg]", models.Number(44), day.Add(24*time.Hour)),
	}

	got, err := DefaultRegistry().Lookup(InstrumentLab, "pc02", "2025-09-10", series)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 42.0, mustFloat(t, got[0].Value))
	assert.Equal(t, 45.0, mustFloat(t, got[1].Value))

	_, err = DefaultRegistry().Lookup(InstrumentLab, "nope", "2025-09-10", series)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestExcludeReplacesLookbehind(t *testing.T) {
	reg := DefaultRegistry()
	hemo, err := reg.Instrument(InstrumentHemodynamics)
	require.NoError(t, err)
	epi, ok := hemo.Rule("epinephrine")
	require.True(t, ok)
	norepi, ok := hemo.Rule("norepinephrine")
	require.True(t, ok)

	ts := time.Date(2025, 9, 10, 8, 0, 0, 0, time.UTC)
	nor := rec(models.SourceMedication, "Katecholamine", "Norepinephrin Perfusor 5 mg / 50 ml", models.Number(4), ts)
	adr := rec(models.SourceMedication, "Katecholamine", "Adrenalin Perfusor", models.Number(2), ts)
	fer := rec(models.SourceMedication, "Katecholamine", "Adrenalin 1:100 (FER)", models.Number(1), ts)

	assert.True(t, norepi.Matches(nor))
	assert.False(t, epi.Matches(nor))
	assert.True(t, epi.Matches(adr))
	assert.False(t, epi.Matches(fer))
	assert.False(t, norepi.Matches(adr))
}

func TestSourceMatchesDeviceHeaderPrefix(t *testing.T) {
	hemo, err := DefaultRegistry().Instrument(InstrumentHemodynamics)
	require.NoError(t, err)
	rass, ok := hemo.Rule("rass")
	require.True(t, ok)

	r := rec("Richmond-Agitation-Sedation-Scale", "Richmond-Agitation-Sedation-Scale 1", "Summe Richmond-Agitation-Sedation-Scale", models.Number(-2), time.Now())
	assert.True(t, rass.Matches(r))
	assert.True(t, hemo.Matches(r))
}

func TestNewRegistryRejectsBadTables(t *testing.T) {
	cases := map[string][]Instrument{
		"duplicate field": {{
			Name: "x",
			Fields: []FieldRule{
				{Field: "a", Pattern: Pattern{Source: "Lab", Parameter: "A"}},
				{Field: "a", Pattern: Pattern{Source: "Lab", Parameter: "B"}},
			},
		}},
		"field clashes with date": {{
			Name:       "x",
			DateFields: []string{"a"},
			Fields:     []FieldRule{{Field: "a", Pattern: Pattern{Source: "Lab", Parameter: "A"}}},
		}},
		"bad pattern": {{
			Name:   "x",
			Fields: []FieldRule{{Field: "a", Pattern: Pattern{Source: "Lab", Parameter: "(?<!o)A"}}},
		}},
		"unknown strategy": {{
			Name:   "x",
			Fields: []FieldRule{{Field: "a", Pattern: Pattern{Source: "Lab", Parameter: "A"}, Strategy: "mode"}},
		}},
		"flag over unknown field": {{
			Name:   "x",
			Fields: []FieldRule{{Field: "a", Pattern: Pattern{Source: "Lab", Parameter: "A"}}},
			Flags:  []FlagRule{{Field: "f", Kind: FlagAnyPresent, Fields: []string{"b"}}},
		}},
		"window without anchor": {{
			Name:   "x",
			Fields: []FieldRule{{Field: "a", Pattern: Pattern{Source: "Lab", Parameter: "A"}}},
			Window: &Window{Hours: 6},
		}},
		"window assesses unknown field": {{
			Name:   "x",
			Fields: []FieldRule{{Field: "a", Pattern: Pattern{Source: "Lab", Parameter: "A"}}},
			Window: &Window{Anchor: "ECMO", DateField: "d", AssessFrom: []string{"b"}},
		}},
		"negative fallback": {{
			Name:   "x",
			Fields: []FieldRule{{Field: "a", Pattern: Pattern{Source: "Lab", Parameter: "A"}, FallbackHours: -1}},
		}},
		"field choice over unknown field": {{
			Name:   "x",
			Fields: []FieldRule{{Field: "a", Pattern: Pattern{Source: "Lab", Parameter: "A"}}},
			Flags:  []FlagRule{{Field: "f", Kind: FlagFieldChoice, Choices: []Choice{{Code: 1, Field: "b"}}}},
		}},
		"none of a later flag": {{
			Name:   "x",
			Fields: []FieldRule{{Field: "a", Pattern: Pattern{Source: "Lab", Parameter: "A"}}},
			Flags: []FlagRule{
				{Field: "none", Kind: FlagNoneOf, Fields: []string{"box"}},
				{Field: "box", Kind: FlagAnyPresent, Fields: []string{"a"}},
			},
		}},
		"duplicate instrument": {
			{Name: "x", Fields: []FieldRule{{Field: "a", Pattern: Pattern{Source: "Lab", Parameter: "A"}}}},
			{Name: "x", Fields: []FieldRule{{Field: "a", Pattern: Pattern{Source: "Lab", Parameter: "A"}}}},
		},
	}
	for name, instruments := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewRegistry(instruments)
			assert.Error(t, err)
		})
	}
}

func TestPreAssessmentTables(t *testing.T) {
	reg := DefaultRegistry()

	hv, err := reg.Instrument(InstrumentPreImpellaHV)
	require.NoError(t, err)
	require.True(t, hv.Windowed())
	assert.Equal(t, models.SourceImpella, hv.Window.Anchor)
	assert.Equal(t, 6.0, hv.Window.Hours)
	assert.Equal(t, "impella_arm_2", hv.EventName)

	hb, ok := hv.Rule("pre_hb_i")
	require.True(t, ok)
	assert.Equal(t, 24.0, hb.FallbackHours)
	assert.Equal(t, models.StrategyNearest, hb.Strategy)
	assert.Equal(t, 6.0, hv.Window.HoursFor(hb))
	cvd, ok := hv.Rule("pre_cvd_i")
	require.True(t, ok)
	assert.Equal(t, `^ZVDm\s*\[`, cvd.Parameter)

	med, err := reg.Instrument(InstrumentPreECLS)
	require.NoError(t, err)
	assert.Equal(t, models.SourceECMO, med.Window.Anchor)
	assert.Equal(t, 24.0, med.Window.Hours)
	last := med.Flags[len(med.Flags)-1]
	assert.Equal(t, "pre_vasoactive___17", last.Field)
	assert.Equal(t, FlagNoneOf, last.Kind)
	assert.Len(t, last.Fields, 16)
	nor, ok := med.Rule("pre_norepinephrine")
	require.True(t, ok)
	assert.True(t, nor.ExcludeReadyMade)
	assert.Equal(t, TransformInfusionDose, nor.Transform)
}

func TestSelectBetweenIsClosed(t *testing.T) {
	reg := DefaultRegistry()
	lab, err := reg.Instrument(InstrumentLab)
	require.NoError(t, err)
	hb, ok := lab.Rule("hb")
	require.True(t, ok)

	anchor := time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)
	series := models.Series{
		rec(models.SourceLab, "Blutbild", "HB [g/dl]", models.Number(1), anchor.Add(-6*time.Hour-time.Minute)),
		rec(models.SourceLab, "Blutbild", "HB [g/dl]", models.Number(2), anchor.Add(-6*time.Hour)),
		rec(models.SourceLab, "Blutbild", "HB [g/dl]", models.Number(3), anchor),
		rec(models.SourceLab, "Blutbild", "HB [g/dl]", models.Number(4), anchor.Add(time.Second)),
	}
	from, to := Span(anchor, 6)
	got := hb.SelectBetween(from, to, series)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, mustFloat(t, got[0].Value))
	assert.Equal(t, 3.0, mustFloat(t, got[1].Value))
	assert.Len(t, Within(from, to, series), 2)
}

func TestRegistryDoesNotAliasCallerTables(t *testing.T) {
	tables := DefaultInstruments()
	reg, err := NewRegistry(tables)
	require.NoError(t, err)

	tables[0].Fields[0].Field = "changed"
	lab, err := reg.Instrument(InstrumentLab)
	require.NoError(t, err)
	assert.Equal(t, "pc02", lab.Fields[0].Field)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.yaml")
	content := `
version: "1"
instruments:
  - name: pump
    event_name: ecls_arm_2
    date_fields: [ecls_compl_date]
    time_point_fields: [ecls_compl_time_point]
    device: ECMO
    fields:
      - field: ecls_rpm
        source: ECMO
        parameter: ^Drehzahl
        strategy: nearest
        min: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"pump"}, reg.Names())

	pump, err := reg.Instrument("pump")
	require.NoError(t, err)
	rule, ok := pump.Rule("ecls_rpm")
	require.True(t, ok)
	assert.Equal(t, models.StrategyNearest, rule.Strategy)
	assert.Equal(t, KindNumber, rule.Kind)
	require.NotNil(t, rule.Min)
	assert.True(t, rule.Matches(rec("ECMO", "ECMO 1", "Drehzahl [U/min]", models.Number(3500), time.Now())))

	reg, err = Load("")
	require.NoError(t, err)
	assert.Len(t, reg.Names(), 4)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("version: \"1\"\ninstruments: []\n"))
	assert.Error(t, err)
}

func TestDumpIsLoadable(t *testing.T) {
	out, err := Dump(DefaultInstruments())
	require.NoError(t, err)

	reg, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, DefaultRegistry().Names(), reg.Names())

	hemo, err := reg.Instrument(InstrumentHemodynamics)
	require.NoError(t, err)
	dob, ok := hemo.Rule("dobutamine")
	require.True(t, ok)
	require.NotNil(t, dob.DilutionUgPerMl)
	assert.Equal(t, 5000.0, *dob.DilutionUgPerMl)
	assert.Equal(t, TransformInfusionDose, dob.Transform)
}

func TestVentModeCode(t *testing.T) {
	code, ignored, ok := VentModeCode("SIMV-PC")
	require.True(t, ok)
	assert.False(t, ignored)
	assert.Equal(t, "SIMV_PC", VentModes[code-1])

	code, _, ok = VentModeCode("cpap")
	require.True(t, ok)
	assert.Equal(t, "SPN_CPAP_PS", VentModes[code-1])

	code, _, ok = VentModeCode("Bi Level")
	require.True(t, ok)
	assert.Equal(t, "BiLevel", VentModes[code-1])

	_, ignored, ok = VentModeCode("Standby")
	assert.True(t, ok)
	assert.True(t, ignored)

	_, _, ok = VentModeCode("HFOV")
	assert.False(t, ok)
}

func mustFloat(t *testing.T, v models.Value) float64 {
	t.Helper()
	f, ok := v.Float()
	require.True(t, ok, "value %q is not numeric", v.String())
	return f
}
