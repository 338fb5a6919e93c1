package ingestion

import (
	"regexp"
	"strings"

	"github.com/mlife-core/platform/pkg/common/models"
)

const (
	colConcentration = "Konzentration"
	colApplication   = "App.- form"
	colStart         = "Start/Änderung"
	colStop          = "Stopp"
	colRate          = "Rate(mL/h)"
)

var perfusorConcentration = regexp.MustCompile(`(?i)\d+(?:[.,]\d+)?\s*(?:mg|µg|ug|ie|i\.e\.)\s*/\s*\d+(?:[.,]\d+)?\s*ml`)

// MedicationParser reads "Medikamentengaben". The block is a sequence of
// groups, each opened by a header row naming the group and its columns.
// Every start time of a row is one administration record.
type MedicationParser struct{}

type medicationColumns struct {
	medication, concentration, application, start, stop, rate int
}

func (c medicationColumns) max() int {
	m := c.medication
	for _, v := range []int{c.concentration, c.application, c.start, c.stop, c.rate} {
		if v > m {
			m = v
		}
	}
	return m
}

func (p MedicationParser) Parse(b Block) ([]models.CanonicalRecord, []models.Warning) {
	var (
		records  []models.CanonicalRecord
		warnings []models.Warning
		group    string
		cols     *medicationColumns
		inGroup  bool
	)

	for _, row := range logicalRows(b.Lines) {
		fields := b.fields(row)

		if !isTimestampRow(fields) {
			idx, name := firstEntry(fields)
			if idx < 0 {
				continue
			}
			inGroup = true
			group = name
			cols = findMedicationColumns(fields, idx)
			if cols == nil {
				warnings = append(warnings, skipWarning(b, row.Number, "medication group %q lacks the start, rate or concentration columns", name))
			}
			continue
		}

		if !inGroup {
			warnings = append(warnings, skipWarning(b, row.Number, "medication row before any group header"))
			continue
		}
		if cols == nil {
			warnings = append(warnings, skipWarning(b, row.Number, "medication row in unusable group %q", group))
			continue
		}
		if len(fields) <= cols.max() {
			warnings = append(warnings, skipWarning(b, row.Number, "medication row has %d cells, need %d", len(fields), cols.max()+1))
			continue
		}

		starts := AllTimestamps(fields[cols.start])
		if len(starts) == 0 {
			warnings = append(warnings, skipWarning(b, row.Number, "medication row without start time"))
			continue
		}

		var rates []float64
		for _, m := range numberRe.FindAllString(fields[cols.rate], -1) {
			if f, ok := models.ParseNumber(m); ok {
				rates = append(rates, f)
			}
		}

		drug := cleanLabel(fields[cols.medication])
		concentration := strings.TrimSpace(fields[cols.concentration])
		if concentration == "" {
			concentration = perfusorConcentration.FindString(drug)
		}

		for i, start := range starts {
			rec := models.CanonicalRecord{
				Timestamp:     start,
				SourceType:    models.SourceMedication,
				Category:      group,
				Parameter:     drug,
				Concentration: concentration,
			}
			if i < len(rates) {
				rec.Rate = models.Float(rates[i])
				rec.Value = models.Number(rates[i])
			} else {
				rec.Value = models.Text(concentration)
			}
			records = append(records, rec)
		}
	}

	return records, warnings
}

func findMedicationColumns(header []string, groupIdx int) *medicationColumns {
	cols := medicationColumns{medication: groupIdx, concentration: -1, application: -1, start: -1, stop: -1, rate: -1}
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case colConcentration:
			cols.concentration = i
		case colApplication:
			cols.application = i
		case colStart:
			cols.start = i
		case colStop:
			cols.stop = i
		case colRate:
			cols.rate = i
		}
	}
	if cols.concentration < 0 || cols.application < 0 || cols.start < 0 || cols.stop < 0 || cols.rate < 0 {
		return nil
	}
	return &cols
}

// logicalRows joins lines whose quoted cells span line breaks and drops the
// quotes. The joined row keeps the number of its first physical line.
func logicalRows(lines []Line) []Line {
	var (
		out     []Line
		pending *Line
	)
	for _, l := range lines {
		if pending == nil {
			cur := l
			pending = &cur
		} else {
			pending.Text += " " + l.Text
		}
		if strings.Count(pending.Text, `"`)%2 == 0 {
			pending.Text = strings.ReplaceAll(pending.Text, `"`, "")
			out = append(out, *pending)
			pending = nil
		}
	}
	if pending != nil {
		pending.Text = strings.ReplaceAll(pending.Text, `"`, "")
		out = append(out, *pending)
	}
	return out
}
