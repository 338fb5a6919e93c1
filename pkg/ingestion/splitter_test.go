package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlife-core/platform/pkg/common/models"
)

func TestSplitFindsBlocksInOrder(t *testing.T) {
	doc, err := Split(sampleExport, 0)
	require.NoError(t, err)

	assert.Equal(t, ';', doc.Delimiter)

	var kinds []BlockKind
	for _, b := range doc.Blocks {
		kinds = append(kinds, b.Kind)
	}
	assert.Equal(t, []BlockKind{KindVitals, KindLab, KindMedication, KindFluidBalance, KindPatientData}, kinds)
	assert.Equal(t, "Labor: Blutgase arteriell", doc.Blocks[1].Name)
	assert.Equal(t, 14, doc.Blocks[1].Start)

	// The print header is cleaned away but kept in Head for patient data.
	for _, b := range doc.Blocks {
		for _, l := range b.Lines {
			assert.NotContains(t, l.Text, "Fall-ID")
		}
	}
	assert.Contains(t, doc.Head[5].Text, "Fall-ID")

	require.Len(t, doc.Warnings, 1)
	assert.Equal(t, models.WarnRowSkipped, doc.Warnings[0].Kind)
	assert.Equal(t, 38, doc.Warnings[0].Line)
}

func TestSplitKeepsRepeatedBlocks(t *testing.T) {
	text := strings.Join([]string{
		"Labor: Blutbild;;",
		";10.09.2025 08:00;",
		"HB;9,1;",
		"Online erfasste Vitaldaten;;",
		";10.09.2025 09:00;",
		"HF [1/min];80;",
		"Labor: Blutbild;;",
		";11.09.2025 08:00;",
		"HB;8,7;",
	}, "\n")

	doc, err := Split(text, ';')
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 3)
	assert.Equal(t, KindLab, doc.Blocks[0].Kind)
	assert.Equal(t, KindVitals, doc.Blocks[1].Kind)
	assert.Equal(t, KindLab, doc.Blocks[2].Kind)
	assert.Equal(t, "HB;8,7;", doc.Blocks[2].Lines[1].Text)
}

func TestSplitRejectsExportWithoutBlocks(t *testing.T) {
	_, err := Split("just;some;cells\nand;more;cells", 0)
	require.Error(t, err)
	assert.True(t, IsMalformedInput(err))

	_, err = Split("   \n  ", 0)
	assert.True(t, IsMalformedInput(err))
}

func TestDetectDelimiter(t *testing.T) {
	assert.Equal(t, '|', DetectDelimiter("Bilanz|||\n|a|b|c"))
	assert.Equal(t, ';', DetectDelimiter("Bilanz;;;\n;a|b;c"))
	assert.Equal(t, ';', DetectDelimiter(""))
}

func TestCleanRemovesNotesAndRepeatedPrintHeaders(t *testing.T) {
	header := []string{"Ausdruck: Gesamte Akte;;", "h2;;", "h3;;", "h4;;", "h5;;", "h6;;", "h7;;", "h8;;"}

	var lines []string
	lines = append(lines, header...) // 1..8 removed
	lines = append(lines,
		"Online erfasste Vitaldaten;;", // 9
		";10.09.2025 12:00;",           // 10
		"HF [1/min];88;",               // 11
		"Seitenumbruch;;",              // 12 removed with the second header
	)
	lines = append(lines, header...) // 13..20 removed
	lines = append(lines,
		"Intervall: 60 min.;;", // 21 removed
		"Legende;;",            // 22 removed with the note below
		"Datum/Uhrzeit bezieht sich jeweils auf den Intervallstart.;;", // 23 removed
		"Bei aktuell laufenden Statusmodulen wird;;",                   // 24 removed
		"ABPm [mmHg];65;", // 25
	)

	cleaned, warnings := clean(toLines(strings.Join(lines, "\n")), ';')
	assert.Empty(t, warnings)

	var kept []int
	for _, l := range cleaned {
		kept = append(kept, l.Number)
	}
	assert.Equal(t, []int{9, 10, 11, 25}, kept)
}

func TestParseTimestampFormats(t *testing.T) {
	ts, ok := ParseTimestamp("10.09.2025 12:05")
	require.True(t, ok)
	assert.Equal(t, at(10, 12, 5), ts)

	ts, ok = ParseTimestamp("x 10.09.25  12:05 y")
	require.True(t, ok)
	assert.Equal(t, at(10, 12, 5), ts)

	ts, ok = ParseTimestamp("10.09.202512:05")
	require.True(t, ok)
	assert.Equal(t, at(10, 12, 5), ts)

	_, ok = ParseTimestamp("32.09.2025 12:05")
	assert.False(t, ok)
	_, ok = ParseTimestamp("10.09.205 12:05")
	assert.False(t, ok)

	mid, ok := rangeMidpoint("10.09.2025 06:00 - 11.09.2025 06:00")
	require.True(t, ok)
	assert.Equal(t, at(10, 18, 0), mid)
}

func TestDecodeWindows1252(t *testing.T) {
	raw := []byte("Labor: Blutgase ven\xf6s;;")
	text, err := Decode(raw, EncodingAuto)
	require.NoError(t, err)
	assert.Equal(t, "Labor: Blutgase venös;;", text)

	kind, ok := HeaderKind(strings.Split(text, ";")[0])
	require.True(t, ok)
	assert.Equal(t, KindLab, kind)

	_, err = Decode(raw, EncodingUTF8)
	assert.True(t, IsMalformedInput(err))

	text, err = Decode(append([]byte{0xEF, 0xBB, 0xBF}, "Bilanz;"...), EncodingAuto)
	require.NoError(t, err)
	assert.Equal(t, "Bilanz;", text)
}
