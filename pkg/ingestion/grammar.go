package ingestion

import (
	"regexp"
	"strings"
	"time"
)

// GrammarVersion names the export layout this package understands.
const GrammarVersion = "mlife-export/1"

type BlockKind string

const (
	KindVitals       BlockKind = "Vitaldaten"
	KindRespiratory  BlockKind = "Respiratordaten"
	KindLab          BlockKind = "Labor"
	KindMedication   BlockKind = "Medikamentengaben"
	KindFluidBalance BlockKind = "Bilanz"
	KindPatientData  BlockKind = "ALLE Patientendaten"
)

// blockHeaders maps the first cell of a header line to its block kind.
var blockHeaders = map[string]BlockKind{
	"Online erfasste Vitaldaten":  KindVitals,
	"Manuell erfasste Vitaldaten": KindVitals,

	"Online erfasste Respiratorwerte":  KindRespiratory,
	"Beatmung":                         KindRespiratory,
	"Manuell erfasste Respiratorwerte": KindRespiratory,

	"Labor: Blutgase arteriell":   KindLab,
	"Labor: Blutgase venös":       KindLab,
	"Labor: Blutgase gv":          KindLab,
	"Labor: Blutgase unspez.":     KindLab,
	"Labor: Blutbild":             KindLab,
	"Labor: Differentialblutbild": KindLab,
	"Labor: Blutgruppe":           KindLab,
	"Labor: Gerinnung":            KindLab,
	"Labor: TEG":                  KindLab,
	"Labor: TAT":                  KindLab,
	"Labor: Enzyme":               KindLab,
	"Labor: Retention":            KindLab,
	"Labor: Lipide":               KindLab,
	"Labor: Proteine":             KindLab,
	"Labor: Elektrolyte":          KindLab,
	"Labor: Blutzucker":           KindLab,
	"Labor: Klinische Chemie":     KindLab,
	"Labor: Medikamentenspiegel":  KindLab,
	"Labor: Schilddrüse":          KindLab,
	"Labor: Serologie/Infektion":  KindLab,

	"Medikamentengaben":   KindMedication,
	"Bilanz":              KindFluidBalance,
	"ALLE Patientendaten": KindPatientData,
}

// HeaderKind reports whether a trimmed first cell opens a block.
func HeaderKind(cell string) (BlockKind, bool) {
	k, ok := blockHeaders[strings.Trim(strings.TrimSpace(cell), `"`)]
	return k, ok
}

const (
	printHeaderMarker = "Ausdruck: Gesamte Akte"
	printHeaderLines  = 8
	statusModuleNote  = "Bei aktuell laufenden Statusmodulen"
	intervalStartNote = "Datum/Uhrzeit bezieht sich jeweils auf den Intervallstart."
	delimiterSample   = 5000
)

var (
	intervalNote = regexp.MustCompile(`Intervall:\s*\d{2}\s*min\.,?`)
	timestampRe  = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{2,4})\s*(\d{2}):(\d{2})`)
	rangeRe      = regexp.MustCompile(`(\d{2}\.\d{2}\.\d{4}\s*\d{2}:\d{2})\s*-\s*(\d{2}\.\d{2}\.\d{4}\s*\d{2}:\d{2})`)
	numberRe     = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
)

// ParseTimestamp reads the first dd.mm.yy[yy] HH:MM occurrence in s.
// Export times are wall clock without zone and are kept in UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	m := timestampRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	return timestampFromMatch(m)
}

// AllTimestamps returns every parsable timestamp in s, in order.
func AllTimestamps(s string) []time.Time {
	var out []time.Time
	for _, m := range timestampRe.FindAllStringSubmatch(s, -1) {
		if t, ok := timestampFromMatch(m); ok {
			out = append(out, t)
		}
	}
	return out
}

func timestampFromMatch(m []string) (time.Time, bool) {
	layout := "02.01.2006 15:04"
	switch len(m[3]) {
	case 2:
		layout = "02.01.06 15:04"
	case 4:
	default:
		return time.Time{}, false
	}
	t, err := time.Parse(layout, m[1]+"."+m[2]+"."+m[3]+" "+m[4]+":"+m[5])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func hasTimestamp(s string) bool {
	return timestampRe.MatchString(s)
}

func isTimestampRow(fields []string) bool {
	for _, f := range fields {
		if hasTimestamp(f) {
			return true
		}
	}
	return false
}

// rangeMidpoint resolves "dd.mm.yyyy HH:MM - dd.mm.yyyy HH:MM" to the middle
// of the interval, or a single timestamp to itself.
func rangeMidpoint(label string) (time.Time, bool) {
	label = strings.ReplaceAll(strings.Trim(strings.TrimSpace(label), `"`), "\n", " ")
	if m := rangeRe.FindStringSubmatch(label); m != nil {
		start, okStart := ParseTimestamp(m[1])
		end, okEnd := ParseTimestamp(m[2])
		switch {
		case okStart && okEnd:
			return start.Add(end.Sub(start) / 2), true
		case okStart:
			return start, true
		case okEnd:
			return end, true
		}
	}
	return ParseTimestamp(label)
}

func firstEntry(fields []string) (int, string) {
	for i, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			return i, s
		}
	}
	return -1, ""
}

func splitFields(line string, delim rune) []string {
	return strings.Split(line, string(delim))
}

var spaceRun = regexp.MustCompile(`\s+`)

// cleanLabel collapses whitespace and drops a trailing full stop unless the
// label is an abbreviation like "Dr.".
func cleanLabel(s string) string {
	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
	if strings.HasSuffix(s, ".") && len(s) > 3 && !strings.HasSuffix(s, "Dr.") {
		s = s[:len(s)-1]
	}
	return s
}
