package deid

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlife-core/platform/pkg/common/models"
)

var ts = time.Date(2025, 9, 10, 8, 0, 0, 0, time.UTC)

func fixture() models.Series {
	return models.Series{
		{Timestamp: ts, SourceType: models.SourcePatientInfo, Parameter: "Name", Value: models.Text("Max Mustermann")},
		{Timestamp: ts, SourceType: models.SourcePatientInfo, Parameter: "Fall-ID", Value: models.Number(1234567)},
		{Timestamp: ts, SourceType: models.SourcePatientInfo, Parameter: "Gewicht", Value: models.Number(82)},
		{Timestamp: ts, SourceType: models.SourceLab, Parameter: "Kalium", Value: models.Number(4.1)},
		{Timestamp: ts, SourceType: "Pflegebericht", Parameter: "Notiz", Value: models.Text("Hr. Mustermann, Rückruf 0221 4781234")},
		{Timestamp: ts, SourceType: "Pflegebericht", Parameter: "Notiz", Value: models.Text("Mustermann verlegt")},
		{Timestamp: ts, SourceType: models.SourceVitals, Parameter: "Rhythmus", Value: models.Text("SR")},
	}
}

func TestScrubMasksTextAndKeepsNumbers(t *testing.T) {
	s, err := NewScrubber(DefaultRules(), "pepper", "Mustermann")
	require.NoError(t, err)

	in := fixture()
	out, sum := s.Scrub(in)
	require.Len(t, out, len(in))

	assert.Equal(t, s.Pseudonym("Max Mustermann"), out[0].Value.Text())
	assert.Equal(t, s.Pseudonym("1234567"), out[1].Value.Text())
	assert.True(t, strings.HasPrefix(out[0].Value.Text(), "token_"))

	assert.True(t, out[2].Value.Equal(models.Number(82)))
	assert.True(t, out[3].Value.Equal(models.Number(4.1)))
	assert.Equal(t, "[NAME], Rückruf [TEL]", out[4].Value.Text())
	assert.Equal(t, "[REDACTED] verlegt", out[5].Value.Text())
	assert.Equal(t, "SR", out[6].Value.Text())

	assert.Equal(t, 4, sum.Records)
	assert.Equal(t, 2, sum.Masked["identifier"])
	assert.Equal(t, 1, sum.Masked["salutation"])
	assert.Equal(t, 1, sum.Masked["phone"])
	assert.Equal(t, 1, sum.Masked["term"])
	require.Len(t, sum.Tokens, 2)
	assert.Equal(t, "Max Mustermann", sum.Tokens[0].Value)
	assert.Equal(t, "Name", sum.Tokens[0].Parameter)
}

func TestScrubDoesNotMutateInput(t *testing.T) {
	s, err := NewScrubber(DefaultRules(), "pepper")
	require.NoError(t, err)

	in := fixture()
	before := make(models.Series, len(in))
	copy(before, in)

	_, _ = s.Scrub(in)
	for i := range in {
		assert.True(t, before[i].Value.Equal(in[i].Value), "record %d changed", i)
	}
}

func TestPseudonymIsStablePerSalt(t *testing.T) {
	a, err := NewScrubber(DefaultRules(), "one")
	require.NoError(t, err)
	b, err := NewScrubber(DefaultRules(), "two")
	require.NoError(t, err)

	assert.Equal(t, a.Pseudonym("4711"), a.Pseudonym(" 4711 "))
	assert.NotEqual(t, a.Pseudonym("4711"), b.Pseudonym("4711"))
}

func TestScrubTextDefaultRules(t *testing.T) {
	s, err := NewScrubber(DefaultRules(), "")
	require.NoError(t, err)

	cases := map[string]string{
		"geb. 12.03.1961, stabil":       "geb. ##.##.####, stabil",
		"Befund an dr.x@klinik.de":      "Befund an ***@***",
		"Fall-ID: 20250012 aufgenommen": "[ID] aufgenommen",
		"Noradrenalin 0,5 mg/h":         "Noradrenalin 0,5 mg/h",
		"Visite 08:00 am 01.02.2025":    "Visite 08:00 am 01.02.2025",
	}
	for in, want := range cases {
		assert.Equal(t, want, s.ScrubText(in), in)
	}
}

func TestNilScrubberPassesThrough(t *testing.T) {
	var s *Scrubber
	in := fixture()
	out, sum := s.Scrub(in)
	assert.Equal(t, in, out)
	assert.Zero(t, sum.Records)
	assert.Equal(t, "x", s.ScrubText("x"))
}

func TestNewScrubberSkipsDisabledAndRejectsBadPatterns(t *testing.T) {
	cfg := RulesConfig{Rules: []Rule{{Name: "off", Pattern: "(", Enabled: false}}}
	_, err := NewScrubber(cfg, "")
	require.NoError(t, err)

	cfg.Rules[0].Enabled = true
	_, err = NewScrubber(cfg, "")
	assert.ErrorContains(t, err, "rule off")
}

func TestLoadRules(t *testing.T) {
	cfg, err := LoadRules("")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Rules)

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: station
    pattern: 'Zimmer \d+'
    mask: '[ROOM]'
    enabled: true
identifiers: [Name]
`), 0o600))

	cfg, err = LoadRules(path)
	require.NoError(t, err)
	require.Len(t, cfg.Rules, 1)

	s, err := NewScrubber(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "verlegt nach [ROOM]", s.ScrubText("verlegt nach Zimmer 12"))

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("rules: []\n"), 0o600))
	_, err = LoadRules(empty)
	assert.Error(t, err)

	_, err = LoadRules(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestIdentifierTermsFeedTheScrubber(t *testing.T) {
	series := fixture()
	terms := IdentifierTerms(DefaultRules(), series)
	assert.Equal(t, []string{"Max Mustermann", "Max", "Mustermann"}, terms)

	s, err := NewScrubber(DefaultRules(), "pepper", terms...)
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED] verlegt", s.ScrubText("Max Mustermann verlegt"))
}

func TestTermsMatchWholeWordsOnly(t *testing.T) {
	s, err := NewScrubber(RulesConfig{}, "", "Max")
	require.NoError(t, err)
	assert.Equal(t, "Maximaler Fluss, [REDACTED] wach", s.ScrubText("Maximaler Fluss, max wach"))
}
