package models

import (
	"time"
)

// Source types emitted by the section parsers. Device headers that do not
// classify into one of these are kept verbatim as their own source type.
const (
	SourceVitals       = "Vitals"
	SourceLab          = "Lab"
	SourceRespiratory  = "Respiratory"
	SourceMedication   = "Medication"
	SourceFluidBalance = "FluidBalance"
	SourceECMO         = "ECMO"
	SourceImpella      = "Impella"
	SourceCRRT         = "CRRT"
	SourceNIRS         = "NIRS"
	SourcePatientInfo  = "PatientInfo"
)

// CanonicalRecord is one observation of the long-format series.
// Records are values; nothing downstream of the assembler modifies them.
type CanonicalRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	SourceType    string    `json:"source_type"`
	Category      string    `json:"category,omitempty"`
	Parameter     string    `json:"parameter"`
	Value         Value     `json:"value"`
	Rate          *float64  `json:"rate,omitempty"`
	Concentration string    `json:"concentration,omitempty"`
}

// Day is the calendar day the record falls on, in the export's wall clock.
func (r CanonicalRecord) Day() Day {
	return DayOf(r.Timestamp)
}

// Identity is the five attribute key used for duplicate removal.
type Identity struct {
	Timestamp  int64
	SourceType string
	Category   string
	Parameter  string
	Value      string
}

func (r CanonicalRecord) Identity() Identity {
	return Identity{
		Timestamp:  r.Timestamp.UnixNano(),
		SourceType: r.SourceType,
		Category:   r.Category,
		Parameter:  r.Parameter,
		Value:      r.Value.key(),
	}
}

// Series is the ordered canonical output of a parse run.
type Series []CanonicalRecord

// Days lists the distinct calendar days in ascending order.
func (s Series) Days() []Day {
	seen := make(map[Day]struct{})
	var days []Day
	for _, r := range s {
		d := r.Day()
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	SortDays(days)
	return days
}

// PatientContext is caller-owned data the converter reads but never changes.
type PatientContext struct {
	WeightKg    *float64             `json:"weight_kg,omitempty"`
	DeviceStart map[string]time.Time `json:"device_start,omitempty"`
}

// Weight returns the body weight if known.
func (p *PatientContext) Weight() (float64, bool) {
	if p == nil || p.WeightKg == nil {
		return 0, false
	}
	return *p.WeightKg, true
}

// DeviceStartFor returns the start time registered for a device source type.
func (p *PatientContext) DeviceStartFor(source string) (time.Time, bool) {
	if p == nil || len(p.DeviceStart) == 0 {
		return time.Time{}, false
	}
	t, ok := p.DeviceStart[source]
	return t, ok
}

// Event bus envelope
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

func Float(v float64) *float64 {
	return &v
}
