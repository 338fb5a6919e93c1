package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Value holds either a number or a text, never both.
type Value struct {
	num     float64
	text    string
	numeric bool
}

func Number(f float64) Value {
	return Value{num: f, numeric: true}
}

func Text(s string) Value {
	return Value{text: s}
}

// ParseValue reads a raw cell. Decimal commas are accepted; anything that is
// not a finite number stays text.
func ParseValue(raw string) Value {
	s := strings.TrimSpace(raw)
	if f, ok := ParseNumber(s); ok {
		return Number(f)
	}
	return Text(s)
}

// ParseNumber parses a number with either decimal separator.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func (v Value) IsNumber() bool {
	return v.numeric
}

func (v Value) Float() (float64, bool) {
	return v.num, v.numeric
}

func (v Value) Text() string {
	if v.numeric {
		return v.String()
	}
	return v.text
}

func (v Value) String() string {
	if v.numeric {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.text
}

// Ptr returns a pointer to a copy of v.
func (v Value) Ptr() *Value {
	return &v
}

func (v Value) key() string {
	if v.numeric {
		return "n:" + strconv.FormatFloat(v.num, 'g', -1, 64)
	}
	return "t:" + v.text
}

func (v Value) Equal(o Value) bool {
	return v.key() == o.key()
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.numeric {
		return []byte(strconv.FormatFloat(v.num, 'f', -1, 64)), nil
	}
	return json.Marshal(v.text)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("value must be a number or a string: %w", err)
	}
	*v = Number(f)
	return nil
}

// Day is a calendar day in the export's wall clock, formatted 2006-01-02.
type Day string

const DayLayout = "2006-01-02"

func DayOf(t time.Time) Day {
	return Day(t.Format(DayLayout))
}

func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// Start is midnight of the day in UTC, the zone all export timestamps are read in.
func (d Day) Start() time.Time {
	t, _ := time.Parse(DayLayout, string(d))
	return t
}

// At returns the instant offset from midnight of d.
func (d Day) At(offset time.Duration) time.Time {
	return d.Start().Add(offset)
}

// DaysSince is the whole number of days from o to d.
func (d Day) DaysSince(o Day) int {
	return int(d.Start().Sub(o.Start()).Hours() / 24)
}

func SortDays(days []Day) {
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
}
