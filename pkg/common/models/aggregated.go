package models

// FieldValue is one output field. A nil Value is an explicit null.
type FieldValue struct {
	Name  string `json:"name"`
	Value *Value `json:"value"`
}

// AggregatedRecord is the export row for one (day, instrument) pair. A zero
// RepeatInstance marks a non-repeating form, filled once per patient.
type AggregatedRecord struct {
	RecordID       string       `json:"record_id"`
	EventName      string       `json:"redcap_event_name,omitempty"`
	Instrument     string       `json:"redcap_repeat_instrument"`
	RepeatInstance int          `json:"redcap_repeat_instance"`
	Day            Day          `json:"day"`
	Fields         []FieldValue `json:"fields"`
}

// Set assigns a field, keeping first-assignment order.
func (r *AggregatedRecord) Set(name string, v *Value) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			r.Fields[i].Value = v
			return
		}
	}
	r.Fields = append(r.Fields, FieldValue{Name: name, Value: v})
}

func (r *AggregatedRecord) Get(name string) (*Value, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Repeating reports whether the record is one instance of a repeating form.
func (r *AggregatedRecord) Repeating() bool {
	return r.RepeatInstance > 0
}

// Flat renders the record as registry columns. Nulls stay nil, and so do
// the repeat columns of a non-repeating form.
func (r *AggregatedRecord) Flat() map[string]interface{} {
	out := map[string]interface{}{
		"record_id":                r.RecordID,
		"redcap_repeat_instrument": nil,
		"redcap_repeat_instance":   nil,
	}
	if r.Repeating() {
		out["redcap_repeat_instrument"] = r.Instrument
		out["redcap_repeat_instance"] = r.RepeatInstance
	}
	if r.EventName != "" {
		out["redcap_event_name"] = r.EventName
	}
	for _, f := range r.Fields {
		if f.Value == nil {
			out[f.Name] = nil
			continue
		}
		if n, ok := f.Value.Float(); ok {
			out[f.Name] = n
		} else {
			out[f.Name] = f.Value.Text()
		}
	}
	return out
}
