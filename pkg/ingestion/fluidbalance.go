package ingestion

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/mlife-core/platform/pkg/common/models"
)

const fluidLabelColumn = 3

// FluidBalanceParser reads "Bilanz". Its first row carries interval labels;
// rows without any number under those intervals open a category.
type FluidBalanceParser struct{}

func (p FluidBalanceParser) Parse(b Block) ([]models.CanonicalRecord, []models.Warning) {
	if len(b.Lines) == 0 {
		return nil, nil
	}

	texts := make([]string, len(b.Lines))
	for i, l := range b.Lines {
		texts[i] = l.Text
	}

	joined := strings.Join(texts, "\n")
	r := csv.NewReader(strings.NewReader(joined))
	r.Comma = b.Delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var (
		records  []models.CanonicalRecord
		warnings []models.Warning
		columns  map[int]time.Time
		category = "unknown"
	)

	var offset int64
	lineOf := func() int {
		idx := strings.Count(joined[:offset], "\n")
		if idx < len(b.Lines) {
			return b.Lines[idx].Number
		}
		return b.Start
	}

	for {
		offset = r.InputOffset()
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			warnings = append(warnings, skipWarning(b, lineOf(), "unreadable balance row: %v", err))
			continue
		}

		if columns == nil {
			columns = make(map[int]time.Time)
			for i, cell := range row {
				label := strings.TrimSpace(strings.Trim(strings.TrimSpace(cell), `"`))
				if label == "" || strings.EqualFold(label, "Flüssigkeitsbilanz") {
					continue
				}
				if t, ok := rangeMidpoint(label); ok {
					columns[i] = t
				}
			}
			if len(columns) == 0 {
				warnings = append(warnings, skipWarning(b, lineOf(), "balance header has no interval columns"))
				return records, warnings
			}
			continue
		}

		if len(row) <= fluidLabelColumn {
			continue
		}
		label := strings.TrimSpace(row[fluidLabelColumn])
		if label == "" {
			continue
		}

		if !rowHasDigits(row, columns) {
			category = label
			continue
		}

		parameter := strings.Trim(label, "() ")
		for i, cell := range row {
			ts, ok := columns[i]
			if !ok {
				continue
			}
			raw := strings.TrimSpace(cell)
			if raw == "" {
				continue
			}
			// Thousands may be written with blanks ("1 500"); other text is kept as is.
			value := models.Text(raw)
			if v, ok := models.ParseNumber(strings.ReplaceAll(raw, " ", "")); ok {
				value = models.Number(v)
			}
			records = append(records, models.CanonicalRecord{
				Timestamp:  ts,
				SourceType: models.SourceFluidBalance,
				Category:   category,
				Parameter:  parameter,
				Value:      value,
			})
		}
	}

	return records, warnings
}

func rowHasDigits(row []string, columns map[int]time.Time) bool {
	for i := range columns {
		if i >= len(row) {
			continue
		}
		if strings.IndexFunc(row[i], unicode.IsDigit) >= 0 {
			return true
		}
	}
	return false
}
