package ingestion

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/mlife-core/platform/pkg/common/models"
)

const (
	PatientCategory = "Patientenstamm"
	ParamWeight     = "Gewicht"
	ParamHeight     = "Größe"
	ParamBMI        = "BMI"
)

var (
	reportRange = regexp.MustCompile(`(\d{2}\.\d{2}\.\d{4}\s+\d{2}:\d{2})\s*-\s*\d{2}\.\d{2}\.\d{4}`)

	patientColumns = map[string]string{
		"Alter":            "Alter",
		"Gewicht":          ParamWeight,
		"Größe":            ParamHeight,
		"Körperoberfläche": "Körperoberfläche (BSA)",
		"Fall-ID":          "Fall-ID",
		"Pat.-ID":          "Patienten-ID",
	}

	unitSuffix = map[string]*strings.Replacer{
		"Alter":                  strings.NewReplacer("j", "", "J", ""),
		ParamWeight:              strings.NewReplacer("kg", "", "KG", "", "Kg", ""),
		ParamHeight:              strings.NewReplacer("cm", "", "CM", ""),
		"Körperoberfläche (BSA)": strings.NewReplacer("m²", "", "m2", ""),
	}
)

// ParsePatientInfo extracts master data from the print header: the report
// start time and the value row under the "Fall-ID ... Größe ... Gewicht"
// caption. BMI is derived when height and weight are numeric.
func ParsePatientInfo(head []Line, delimiter rune) ([]models.CanonicalRecord, []models.Warning) {
	var (
		ts    time.Time
		found bool
	)
	for _, l := range head {
		if m := reportRange.FindStringSubmatch(l.Text); m != nil {
			ts, found = ParseTimestamp(m[1])
			if found {
				break
			}
		}
	}
	if !found {
		for _, l := range head {
			if ts, found = ParseTimestamp(l.Text); found {
				break
			}
		}
	}

	captionIdx := -1
	for i, l := range head {
		if strings.Contains(l.Text, "Fall-ID") && strings.Contains(l.Text, "Größe") && strings.Contains(l.Text, "Gewicht") {
			captionIdx = i
			break
		}
	}
	if captionIdx < 0 || captionIdx+1 >= len(head) {
		return nil, nil
	}

	caption := head[captionIdx]
	if !found {
		return nil, []models.Warning{{
			Kind:    models.WarnRowSkipped,
			Block:   "PatientInfo",
			Line:    caption.Number,
			Message: "patient master data without report timestamp",
		}}
	}

	names := splitFields(caption.Text, delimiter)
	values := splitFields(head[captionIdx+1].Text, delimiter)

	var (
		records        []models.CanonicalRecord
		height, weight float64
		hasH, hasW     bool
	)
	for i, name := range names {
		param, ok := patientColumns[strings.TrimSpace(name)]
		if !ok || i >= len(values) {
			continue
		}
		raw := strings.TrimSpace(values[i])
		if raw == "" {
			continue
		}
		if r, ok := unitSuffix[param]; ok {
			raw = strings.TrimSpace(r.Replace(raw))
		}

		v := models.ParseValue(raw)
		if param == "Fall-ID" || param == "Patienten-ID" {
			v = models.Text(raw)
		}
		if f, ok := v.Float(); ok {
			switch param {
			case ParamHeight:
				height, hasH = f, true
			case ParamWeight:
				weight, hasW = f, true
			}
		}
		records = append(records, patientRecord(ts, param, v))
	}

	if hasH && hasW && height > 0 {
		bmi := weight / math.Pow(height/100, 2)
		records = append(records, patientRecord(ts, ParamBMI, models.Number(math.Round(bmi*100)/100)))
	}

	return records, nil
}

func patientRecord(ts time.Time, param string, v models.Value) models.CanonicalRecord {
	return models.CanonicalRecord{
		Timestamp:  ts,
		SourceType: models.SourcePatientInfo,
		Category:   PatientCategory,
		Parameter:  param,
		Value:      v,
	}
}
