package ingestion

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlife-core/platform/pkg/common/models"
)

func parseSample(t *testing.T) *Result {
	t.Helper()
	res, err := NewService(Options{}).Parse(context.Background(), []byte(sampleExport))
	require.NoError(t, err)
	return res
}

func TestTableParserVitalsAndLab(t *testing.T) {
	res := parseSample(t)

	hr := find(res.Series, models.SourceVitals, "HF [1/min]")
	require.Len(t, hr, 2)
	assert.Equal(t, at(10, 12, 0), hr[0].Timestamp)
	assert.Equal(t, 88.0, number(t, hr[0].Value))
	assert.Equal(t, "Online erfasste Vitaldaten", hr[0].Category)

	abp := find(res.Series, models.SourceVitals, "ABPm [mmHg]")
	require.Len(t, abp, 2)
	assert.False(t, abp[1].Value.IsNumber())
	assert.Equal(t, "n.a.", abp[1].Value.Text())

	pco2 := find(res.Series, models.SourceLab, "PCO2 [mmHg]")
	require.Len(t, pco2, 2)
	assert.Equal(t, 42.0, number(t, pco2[0].Value))
	assert.Equal(t, "Blutgase arteriell", pco2[0].Category)

	ph := find(res.Series, models.SourceLab, "PH")
	require.Len(t, ph, 2)
	assert.Equal(t, 7.35, number(t, ph[0].Value))
	assert.Equal(t, at(10, 18, 5), ph[1].Timestamp)
}

func TestTableParserWarnsForRowsWithoutTimestamps(t *testing.T) {
	res := parseSample(t)

	var lines []int
	for _, w := range res.Warnings {
		if w.Block == "Online erfasste Vitaldaten" {
			lines = append(lines, w.Line)
		}
	}
	assert.Equal(t, []int{10}, lines)
}

func TestMedicationParser(t *testing.T) {
	res := parseSample(t)

	nor := find(res.Series, models.SourceMedication, "Noradrenalin Perfusor")
	require.Len(t, nor, 2)
	assert.Equal(t, at(10, 12, 0), nor[0].Timestamp)
	assert.Equal(t, at(10, 18, 0), nor[1].Timestamp)
	require.NotNil(t, nor[1].Rate)
	assert.Equal(t, 6.0, *nor[1].Rate)
	assert.Equal(t, 6.0, number(t, nor[1].Value))
	assert.Equal(t, "5 mg / 50 ml", nor[0].Concentration)
	assert.Equal(t, "Katecholamine", nor[0].Category)

	hep := find(res.Series, models.SourceMedication, "Heparin")
	require.Len(t, hep, 1)
	assert.Nil(t, hep[0].Rate)
	assert.Equal(t, "25000 IE / 50 ml", hep[0].Value.Text())
	assert.Equal(t, "Antikoagulation", hep[0].Category)
}

func TestMedicationParserSkipsGroupsWithoutColumns(t *testing.T) {
	b := Block{
		Kind:      KindMedication,
		Name:      "Medikamentengaben",
		Delimiter: ';',
		Lines: []Line{
			{Number: 2, Text: "Sonstige;Menge"},
			{Number: 3, Text: "Paracetamol;1 g;10.09.2025 08:00"},
		},
	}
	records, warnings := MedicationParser{}.Parse(b)
	assert.Empty(t, records)
	require.Len(t, warnings, 2)
	assert.Equal(t, 2, warnings[0].Line)
	assert.Equal(t, 3, warnings[1].Line)
}

func TestFluidBalanceParser(t *testing.T) {
	res := parseSample(t)

	infusions := find(res.Series, models.SourceFluidBalance, "Infusionen")
	require.Len(t, infusions, 1)
	assert.Equal(t, at(10, 18, 0), infusions[0].Timestamp)
	assert.Equal(t, 1500.0, number(t, infusions[0].Value))
	assert.Equal(t, "Einfuhr", infusions[0].Category)
}

func TestFluidBalanceParserKeepsTextValues(t *testing.T) {
	b := Block{
		Kind:      KindFluidBalance,
		Name:      "Bilanz",
		Delimiter: ';',
		Lines: []Line{
			{Number: 2, Text: ";;;Flüssigkeitsbilanz;10.09.2025 06:00 - 11.09.2025 06:00;11.09.2025 06:00 - 12.09.2025 06:00"},
			{Number: 3, Text: ";;;Einfuhr;;"},
			{Number: 4, Text: ";;;(Infusionen);1 500;n.a."},
		},
	}
	records, warnings := FluidBalanceParser{}.Parse(b)
	assert.Empty(t, warnings)
	require.Len(t, records, 2)

	assert.Equal(t, at(10, 18, 0), records[0].Timestamp)
	assert.Equal(t, 1500.0, number(t, records[0].Value))

	assert.Equal(t, at(11, 18, 0), records[1].Timestamp)
	assert.False(t, records[1].Value.IsNumber())
	assert.Equal(t, "n.a.", records[1].Value.Text())
	assert.Equal(t, "Einfuhr", records[1].Category)
	assert.Equal(t, "Infusionen", records[1].Parameter)
}

func TestDeviceParser(t *testing.T) {
	res := parseSample(t)

	rpm := find(res.Series, models.SourceECMO, "Drehzahl [U/min]")
	require.Len(t, rpm, 1)
	assert.Equal(t, 3500.0, number(t, rpm[0].Value))
	assert.Equal(t, "ECMO 1", rpm[0].Category)
	assert.Equal(t, at(10, 12, 0), rpm[0].Timestamp)

	flow := find(res.Series, models.SourceECMO, "Blutfluss arteriell [l/min]")
	require.Len(t, flow, 1)
	assert.Equal(t, 4.2, number(t, flow[0].Value))

	level := find(res.Series, models.SourceImpella, "Flussregelung")
	require.Len(t, level, 1)
	assert.Equal(t, "P8", level[0].Value.Text())

	notes := find(res.Series, "Pflegebericht", "Pflegebericht")
	require.Len(t, notes, 1)
	assert.Equal(t, "Patient wach", notes[0].Value.Text())
	assert.Equal(t, at(10, 20, 0), notes[0].Timestamp)
}

func TestDeviceParserNumbersRepeatedEntries(t *testing.T) {
	b := Block{
		Kind:      KindPatientData,
		Name:      "ALLE Patientendaten",
		Delimiter: ';',
		Lines: []Line{
			{Number: 2, Text: ";;GCS;;;;;;;"},
			{Number: 3, Text: ";;;10.09.2025 08:00;;;;;;"},
			{Number: 4, Text: ";;;;Summe GCS2;;;;;14"},
			{Number: 5, Text: ";;GCS;;;;;;;"},
			{Number: 6, Text: ";;;10.09.2025 16:00;;;;;;"},
			{Number: 7, Text: ";;;;Summe GCS2;;;;;9"},
		},
	}
	records, warnings := DeviceParser{}.Parse(b)
	assert.Empty(t, warnings)
	require.Len(t, records, 2)
	assert.Equal(t, "GCS", records[0].SourceType)
	assert.Equal(t, "GCS 1", records[0].Category)
	assert.Equal(t, "GCS 2", records[1].Category)
	assert.Equal(t, 9.0, number(t, records[1].Value))
}

func TestClassifyDevice(t *testing.T) {
	assert.Equal(t, models.SourceECMO, ClassifyDevice("VA-ECMO"))
	assert.Equal(t, models.SourceECMO, ClassifyDevice("ECLS Cardiohelp"))
	assert.Equal(t, models.SourceImpella, ClassifyDevice("Impella CP"))
	assert.Equal(t, models.SourceCRRT, ClassifyDevice("CVVHD"))
	assert.Equal(t, models.SourceNIRS, ClassifyDevice("NIRS Monitoring"))
	assert.Equal(t, "Richmond Agitation", ClassifyDevice("Richmond Agitation"))
}

func TestPatientInfo(t *testing.T) {
	res := parseSample(t)

	byParam := map[string]models.CanonicalRecord{}
	for _, r := range res.Series {
		if r.SourceType == models.SourcePatientInfo {
			byParam[r.Parameter] = r
		}
	}

	require.Contains(t, byParam, ParamWeight)
	assert.Equal(t, 81.0, number(t, byParam[ParamWeight].Value))
	assert.Equal(t, 180.0, number(t, byParam[ParamHeight].Value))
	assert.Equal(t, 54.0, number(t, byParam["Alter"].Value))
	assert.Equal(t, 2.01, number(t, byParam["Körperoberfläche (BSA)"].Value))
	assert.Equal(t, "12345", byParam["Fall-ID"].Value.Text())
	assert.False(t, byParam["Fall-ID"].Value.IsNumber())
	assert.Equal(t, 25.0, number(t, byParam[ParamBMI].Value))
	assert.Equal(t, at(10, 11, 53), byParam[ParamBMI].Timestamp)
	assert.Equal(t, PatientCategory, byParam[ParamBMI].Category)
}

func TestServiceSeriesIsSortedAndSummarized(t *testing.T) {
	res := parseSample(t)

	for i := 1; i < len(res.Series); i++ {
		assert.False(t, res.Series[i].Timestamp.Before(res.Series[i-1].Timestamp), "series out of order at %d", i)
	}
	require.Len(t, res.Blocks, 5)
	assert.Equal(t, GrammarVersion, res.GrammarVersion)
	assert.Equal(t, ";", res.Delimiter)
}

func TestServiceParsesPipeDelimitedExport(t *testing.T) {
	text := strings.ReplaceAll(sampleExport, ";", "|")
	res, err := NewService(Options{}).Parse(context.Background(), []byte(text))
	require.NoError(t, err)
	assert.Equal(t, "|", res.Delimiter)
	assert.Len(t, find(res.Series, models.SourceLab, "PH"), 2)
}

func TestServiceHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewService(Options{}).Parse(ctx, []byte(sampleExport))
	assert.ErrorIs(t, err, context.Canceled)
}
