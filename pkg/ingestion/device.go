package ingestion

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mlife-core/platform/pkg/common/models"
)

var userInitials = regexp.MustCompile(`^[A-Z]\.\s*[A-Z]\.$`)

// DeviceParser reads "ALLE Patientendaten", the nested block holding device
// telemetry (ECMO, Impella, CRRT, NIRS), scores and nursing entries. Each
// occurrence of a sub-header opens a numbered entry.
type DeviceParser struct{}

type deviceEntry struct {
	header string
	label  string
	lines  []Line
}

func (p DeviceParser) Parse(b Block) ([]models.CanonicalRecord, []models.Warning) {
	headers := make(map[string]struct{})
	for _, l := range b.Lines {
		if h, ok := subHeader(b.fields(l)); ok {
			headers[h] = struct{}{}
		}
	}
	if len(headers) == 0 {
		return nil, nil
	}

	var (
		entries []*deviceEntry
		current *deviceEntry
		counts  = make(map[string]int)
	)
	for _, l := range b.Lines {
		fields := b.fields(l)
		if len(fields) >= 3 {
			if _, ok := headers[strings.TrimSpace(fields[2])]; ok {
				h := strings.TrimSpace(fields[2])
				counts[h]++
				current = &deviceEntry{header: h, label: fmt.Sprintf("%s %d", h, counts[h])}
				entries = append(entries, current)
			}
		}
		if current != nil {
			current.lines = append(current.lines, l)
		}
	}

	var (
		records  []models.CanonicalRecord
		warnings []models.Warning
	)
	for _, e := range entries {
		recs, ws := p.parseEntry(b, e)
		records = append(records, recs...)
		warnings = append(warnings, ws...)
	}
	return records, warnings
}

func (p DeviceParser) parseEntry(b Block, e *deviceEntry) ([]models.CanonicalRecord, []models.Warning) {
	var (
		records  []models.CanonicalRecord
		warnings []models.Warning
		current  *time.Time
		buffer   []string
		bufLine  int
	)

	header := cleanLabel(e.header)
	source := ClassifyDevice(header)
	category := cleanLabel(e.label)

	emit := func(ts time.Time, parameter string, v models.Value) {
		records = append(records, models.CanonicalRecord{
			Timestamp:  ts,
			SourceType: source,
			Category:   category,
			Parameter:  cleanLabel(parameter),
			Value:      v,
		})
	}
	flush := func() {
		if len(buffer) == 0 {
			return
		}
		if current == nil {
			warnings = append(warnings, skipWarning(b, bufLine, "%s entry text without timestamp", header))
		} else {
			emit(*current, header, models.ParseValue(strings.Join(buffer, "\n")))
		}
		buffer = nil
	}

	for _, l := range e.lines {
		fields := b.fields(l)

		for _, f := range fields {
			if ts, ok := ParseTimestamp(f); ok {
				flush()
				current = &ts
				break
			}
		}

		if len(fields) > 9 && strings.TrimSpace(fields[4]) != "" && strings.TrimSpace(fields[9]) != "" && strings.TrimSpace(fields[2]) == "" {
			flush()
			if current == nil {
				warnings = append(warnings, skipWarning(b, l.Number, "%s value %q without timestamp", header, strings.TrimSpace(fields[4])))
				continue
			}
			emit(*current, fields[4], models.ParseValue(fields[9]))
			continue
		}

		for _, f := range fields {
			s := strings.TrimSpace(f)
			if s == "" || isEntryNoise(s, e.header) {
				continue
			}
			if v := strings.TrimSpace(strings.Trim(s, `"`)); v != "" {
				if len(buffer) == 0 {
					bufLine = l.Number
				}
				buffer = append(buffer, v)
			}
		}
	}
	flush()

	return records, warnings
}

func isEntryNoise(s, header string) bool {
	switch {
	case s == header || (strings.Contains(s, header) && len(s) < len(header)+5):
		return true
	case hasTimestamp(s):
		return true
	case userInitials.MatchString(s):
		return true
	case strings.Contains(s, "Arztnotizen") && len(s) < 20:
		return true
	}
	return false
}

// subHeader recognizes rows whose first two cells are empty and whose third
// names an entry. The "Datum" column caption is not an entry.
func subHeader(fields []string) (string, bool) {
	if len(fields) < 3 {
		return "", false
	}
	if strings.TrimSpace(fields[0]) != "" || strings.TrimSpace(fields[1]) != "" {
		return "", false
	}
	h := strings.TrimSpace(fields[2])
	if h == "" || h == "Datum" {
		return "", false
	}
	return h, true
}

// ClassifyDevice maps an entry header to a canonical source type. Headers
// that are not a known device keep their own name, so scores such as GCS or
// Richmond stay addressable by the mapping registry.
func ClassifyDevice(header string) string {
	upper := strings.ToUpper(header)
	switch {
	case strings.Contains(upper, "ECMO") || strings.Contains(upper, "ECLS"):
		return models.SourceECMO
	case strings.Contains(upper, "IMPELLA"):
		return models.SourceImpella
	case strings.Contains(upper, "CRRT") || strings.Contains(upper, "CVVH") || strings.Contains(upper, "DIALYSE"):
		return models.SourceCRRT
	case strings.Contains(upper, "NIRS"):
		return models.SourceNIRS
	}
	return header
}
