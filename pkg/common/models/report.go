package models

import "fmt"

type WarningKind string

const (
	// WarnRowSkipped marks an input row that produced no records.
	WarnRowSkipped WarningKind = "row_skipped"
	// WarnUnresolvedField marks a field left null because nothing matched.
	WarnUnresolvedField WarningKind = "unresolved_field"
	WarnConversion      WarningKind = "conversion_failed"
	WarnValidation      WarningKind = "validation_failed"
)

// Warning is a non-fatal finding surfaced next to the output.
type Warning struct {
	Kind       WarningKind `json:"kind"`
	Block      string      `json:"block,omitempty"`
	Line       int         `json:"line,omitempty"`
	Day        Day         `json:"day,omitempty"`
	Instrument string      `json:"instrument,omitempty"`
	Field      string      `json:"field,omitempty"`
	Message    string      `json:"message"`
}

func (w Warning) String() string {
	switch {
	case w.Line > 0:
		return fmt.Sprintf("%s: %s line %d: %s", w.Kind, w.Block, w.Line, w.Message)
	case w.Field != "":
		return fmt.Sprintf("%s: %s/%s %s: %s", w.Kind, w.Instrument, w.Day, w.Field, w.Message)
	default:
		return fmt.Sprintf("%s: %s", w.Kind, w.Message)
	}
}

// Fields returns the warning as structured log fields.
func (w Warning) Fields() map[string]interface{} {
	f := map[string]interface{}{"kind": string(w.Kind)}
	if w.Block != "" {
		f["block"] = w.Block
	}
	if w.Line > 0 {
		f["line"] = w.Line
	}
	if w.Day != "" {
		f["day"] = string(w.Day)
	}
	if w.Instrument != "" {
		f["instrument"] = w.Instrument
	}
	if w.Field != "" {
		f["field"] = w.Field
	}
	return f
}

// Report collects warnings of a run.
type Report struct {
	Warnings []Warning `json:"warnings"`
}

func (r *Report) Add(ws ...Warning) {
	r.Warnings = append(r.Warnings, ws...)
}

func (r *Report) Count(kind WarningKind) int {
	n := 0
	for _, w := range r.Warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}
