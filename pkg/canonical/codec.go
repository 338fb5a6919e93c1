// Package canonical reads and writes the long-format table produced by
// ingestion, so parsing and aggregation can run as separate steps.
package canonical

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mlife-core/platform/pkg/common/models"
)

const (
	Delimiter       = ';'
	TimestampLayout = "2006-01-02T15:04:05"
)

const (
	requiredColumns = 5
	valueTypeColumn = 7

	TypeNumber = "number"
	TypeText   = "text"
)

// Columns is the fixed column order of the table. value_type keeps text that
// looks like a number (case ids with leading zeros) from being re-typed on read.
var Columns = []string{"timestamp", "source_type", "category", "parameter", "value", "rate", "concentration", "value_type"}

var ErrBadHeader = errors.New("canonical table header mismatch")

func Write(w io.Writer, series models.Series) error {
	cw := csv.NewWriter(w)
	cw.Comma = Delimiter

	if err := cw.Write(Columns); err != nil {
		return err
	}
	row := make([]string, len(Columns))
	for _, r := range series {
		row[0] = r.Timestamp.Format(TimestampLayout)
		row[1] = r.SourceType
		row[2] = r.Category
		row[3] = r.Parameter
		row[4] = r.Value.String()
		row[5] = ""
		if r.Rate != nil {
			row[5] = strconv.FormatFloat(*r.Rate, 'f', -1, 64)
		}
		row[6] = r.Concentration
		row[7] = TypeText
		if r.Value.IsNumber() {
			row[7] = TypeNumber
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func Read(r io.Reader) (models.Series, error) {
	cr := csv.NewReader(r)
	cr.Comma = Delimiter
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty table: %w", ErrBadHeader)
		}
		return nil, err
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}
	typed := len(header) > valueTypeColumn && strings.EqualFold(strings.TrimSpace(header[valueTypeColumn]), Columns[valueTypeColumn])

	var series models.Series
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if len(row) < requiredColumns {
			return nil, fmt.Errorf("line %d: expected at least %d columns, got %d", line, requiredColumns, len(row))
		}

		ts, err := time.Parse(TimestampLayout, strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp: %w", line, err)
		}
		rec := models.CanonicalRecord{
			Timestamp:  ts,
			SourceType: row[1],
			Category:   row[2],
			Parameter:  row[3],
		}
		rec.Value, err = readValue(row, typed)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(row) > 5 && strings.TrimSpace(row[5]) != "" {
			rate, ok := models.ParseNumber(row[5])
			if !ok {
				return nil, fmt.Errorf("line %d: rate %q is not a number", line, row[5])
			}
			rec.Rate = models.Float(rate)
		}
		if len(row) > 6 {
			rec.Concentration = row[6]
		}
		series = append(series, rec)
	}
	return series, nil
}

// HasHeader reports whether data starts with a canonical table header.
func HasHeader(data []byte) bool {
	first := string(data)
	if i := strings.IndexAny(first, "\r\n"); i >= 0 {
		first = first[:i]
	}
	return checkHeader(strings.Split(first, string(Delimiter))) == nil
}

func checkHeader(header []string) error {
	if len(header) < requiredColumns {
		return fmt.Errorf("%d columns: %w", len(header), ErrBadHeader)
	}
	for i := 0; i < requiredColumns; i++ {
		if !strings.EqualFold(strings.TrimSpace(header[i]), Columns[i]) {
			return fmt.Errorf("column %d is %q, want %q: %w", i+1, header[i], Columns[i], ErrBadHeader)
		}
	}
	return nil
}

// readValue honours value_type when the table has it and guesses otherwise.
func readValue(row []string, typed bool) (models.Value, error) {
	kind := ""
	if typed && len(row) > valueTypeColumn {
		kind = strings.ToLower(strings.TrimSpace(row[valueTypeColumn]))
	}
	switch kind {
	case TypeText:
		return models.Text(row[4]), nil
	case TypeNumber:
		f, ok := models.ParseNumber(row[4])
		if !ok {
			return models.Value{}, fmt.Errorf("value %q is not a number", row[4])
		}
		return models.Number(f), nil
	case "":
		return models.ParseValue(row[4]), nil
	default:
		return models.Value{}, fmt.Errorf("unknown value_type %q", kind)
	}
}
