package ingestion

import (
	"strings"
	"time"

	"github.com/mlife-core/platform/pkg/common/models"
)

// TableParser reads the timestamp-header tables used by vitals, respiratory
// and lab blocks: a row of column timestamps followed by one row per
// parameter with its values under the matching columns.
type TableParser struct {
	Source string
	// StripLabMarkers removes the "(+)" and "(-)" flags lab values carry.
	StripLabMarkers bool
}

func (p TableParser) Parse(b Block) ([]models.CanonicalRecord, []models.Warning) {
	var (
		records  []models.CanonicalRecord
		warnings []models.Warning
		columns  []*time.Time
	)

	category := b.Name
	if strings.HasPrefix(category, "Labor:") {
		category = strings.TrimSpace(strings.TrimPrefix(category, "Labor:"))
	}

	for _, line := range b.Lines {
		fields := b.fields(line)

		if isTimestampRow(fields) {
			columns = make([]*time.Time, len(fields))
			for i, f := range fields {
				if t, ok := ParseTimestamp(f); ok {
					columns[i] = &t
				}
			}
			continue
		}

		idx, parameter := firstEntry(fields)
		if idx < 0 {
			continue
		}
		if columns == nil {
			warnings = append(warnings, skipWarning(b, line.Number, "row %q precedes any timestamp row", parameter))
			continue
		}

		orphans := 0
		for i, token := range fields {
			if i == idx || strings.TrimSpace(token) == "" {
				continue
			}
			if i >= len(columns) || columns[i] == nil {
				orphans++
				continue
			}

			clean := strings.TrimSpace(token)
			if p.StripLabMarkers {
				clean = strings.TrimSpace(strings.NewReplacer("(-)", "", "(+)", "").Replace(clean))
			}

			records = append(records, models.CanonicalRecord{
				Timestamp:  *columns[i],
				SourceType: p.Source,
				Category:   category,
				Parameter:  parameter,
				Value:      models.ParseValue(clean),
			})
		}
		if orphans > 0 {
			warnings = append(warnings, skipWarning(b, line.Number, "%d value(s) of %q have no column timestamp", orphans, parameter))
		}
	}

	return records, warnings
}
