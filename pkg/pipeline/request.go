package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mlife-core/platform/pkg/aggregation"
	"github.com/mlife-core/platform/pkg/common/models"
)

var (
	errMissingRecordID = errors.New("record_id is required")
	errBadPair         = errors.New("expected key=value")
)

// RequestError marks a run request the caller has to fix.
type RequestError struct {
	reason error
}

func (e RequestError) Error() string {
	return e.reason.Error()
}

func (e RequestError) Unwrap() error {
	return e.reason
}

func IsRequestError(err error) bool {
	var re RequestError
	return errors.As(err, &re)
}

func requestError(format string, args ...interface{}) error {
	return RequestError{reason: fmt.Errorf(format, args...)}
}

type RunRequest struct {
	Aggregation aggregation.Request
	// Terms are extra literal strings masked by de-identification.
	Terms []string
}

// ParseRunRequest reads a run request from query parameters:
//
//	record_id=P-001&event_name=baseline_arm_1&days=2025-09-10,2025-09-11
//	&instruments=labor&strategy=median&field_strategy=labor.pct=nearest
//	&nearest_time=08:00&reference_time=pump=06:00&anchor_day=2025-09-09
//	&weight_kg=82&device_start=ECMO=2025-09-10T07:30&term=Mustermann
func ParseRunRequest(q url.Values, defaultStrategy models.Strategy) (RunRequest, error) {
	req := aggregation.Request{
		RecordID:  strings.TrimSpace(q.Get("record_id")),
		EventName: strings.TrimSpace(q.Get("event_name")),
		Strategy:  defaultStrategy,
	}
	if req.RecordID == "" {
		return RunRequest{}, RequestError{reason: errMissingRecordID}
	}

	for _, raw := range list(q["days"]) {
		d, err := models.ParseDay(raw)
		if err != nil {
			return RunRequest{}, RequestError{reason: err}
		}
		req.Days = append(req.Days, d)
	}
	req.Instruments = list(q["instruments"])

	if s := q.Get("strategy"); s != "" {
		st, err := models.ParseStrategy(s)
		if err != nil {
			return RunRequest{}, RequestError{reason: err}
		}
		req.Strategy = st
	}

	for _, raw := range q["field_strategy"] {
		key, value, err := pair(raw)
		if err != nil {
			return RunRequest{}, requestError("field_strategy %q: %w", raw, err)
		}
		st, err := models.ParseStrategy(value)
		if err != nil {
			return RunRequest{}, requestError("field_strategy %q: %w", raw, err)
		}
		if req.FieldStrategies == nil {
			req.FieldStrategies = make(map[string]models.Strategy)
		}
		req.FieldStrategies[key] = st
	}

	if s := q.Get("nearest_time"); s != "" {
		tod, err := ParseTimeOfDay(s)
		if err != nil {
			return RunRequest{}, requestError("nearest_time: %w", err)
		}
		req.NearestTime = &tod
	}

	for _, raw := range q["reference_time"] {
		key, value, err := pair(raw)
		if err != nil {
			return RunRequest{}, requestError("reference_time %q: %w", raw, err)
		}
		tod, err := ParseTimeOfDay(value)
		if err != nil {
			return RunRequest{}, requestError("reference_time %q: %w", raw, err)
		}
		if req.ReferenceTimes == nil {
			req.ReferenceTimes = make(map[string]time.Duration)
		}
		req.ReferenceTimes[key] = tod
	}

	if s := q.Get("anchor_day"); s != "" {
		d, err := models.ParseDay(s)
		if err != nil {
			return RunRequest{}, RequestError{reason: err}
		}
		req.AnchorDay = d
	}

	patient, err := parsePatient(q)
	if err != nil {
		return RunRequest{}, err
	}
	req.Patient = patient

	return RunRequest{Aggregation: req, Terms: q["term"]}, nil
}

func parsePatient(q url.Values) (*models.PatientContext, error) {
	var pc *models.PatientContext
	if s := q.Get("weight_kg"); s != "" {
		w, ok := models.ParseNumber(s)
		if !ok || w <= 0 {
			return nil, requestError("weight_kg must be a positive number, got %q", s)
		}
		pc = &models.PatientContext{WeightKg: models.Float(w)}
	}

	for _, raw := range q["device_start"] {
		device, value, err := pair(raw)
		if err != nil {
			return nil, requestError("device_start %q: %w", raw, err)
		}
		ts, err := parseLocalTime(value)
		if err != nil {
			return nil, requestError("device_start %q: %w", raw, err)
		}
		if pc == nil {
			pc = &models.PatientContext{}
		}
		if pc.DeviceStart == nil {
			pc.DeviceStart = make(map[string]time.Time)
		}
		pc.DeviceStart[device] = ts
	}
	return pc, nil
}

// ParseTimeOfDay reads HH:MM or HH:MM:SS as an offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

func parseLocalTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func pair(raw string) (string, string, error) {
	key, value, ok := strings.Cut(raw, "=")
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if !ok || key == "" || value == "" {
		return "", "", errBadPair
	}
	return key, value, nil
}

// list flattens repeated and comma separated parameters.
func list(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
