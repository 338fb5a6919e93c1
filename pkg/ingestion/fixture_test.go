package ingestion

import (
	"testing"
	"time"

	"github.com/mlife-core/platform/pkg/common/logger"
	"github.com/mlife-core/platform/pkg/common/models"
)

const sampleExport = `Ausdruck: Gesamte Akte;;;;;
Station: ICU 3;;;;;
Zeitraum;10.09.2025 11:53 - 30.09.2025 01:45;;;;
Name;Muster, Max;;;;
;;;;;
Fall-ID;Pat.-ID;Alter;Größe;Gewicht;Körperoberfläche
12345;987;54 J;180 cm;81 kg;2,01 m²
;;;;;
Online erfasste Vitaldaten;;
HF [1/min];77;
;10.09.2025 12:00;10.09.2025 13:00
HF [1/min];88;92
ABPm [mmHg];65;n.a.
Labor: Blutgase arteriell;;
;10.09.2025 12:05;10.09.2025 18:05
PCO2 [mmHg];42 (+);45
PH;7,35;7,41
Medikamentengaben;;;;;
Katecholamine;Konzentration;App.- form;Start/Änderung;Stopp;Rate(mL/h)
Noradrenalin Perfusor;"5 mg /
50 ml";i.v.;10.09.2025 12:00 10.09.2025 18:00;10.09.2025 23:00;4 6
Antikoagulation;Konzentration;App.- form;Start/Änderung;Stopp;Rate(mL/h)
Heparin;25000 IE / 50 ml;i.v.;10.09.2025 12:00;;
Bilanz;;;;
;;;Flüssigkeitsbilanz;10.09.2025 06:00 - 11.09.2025 06:00
;;;Einfuhr;
;;;(Infusionen);1500
ALLE Patientendaten;;;;;;;;;
;;ECMO;;;;;;;
;;;10.09.2025 12:00;;;;;;
;;;;Drehzahl [U/min];;;;;3500
;;;;Blutfluss arteriell [l/min];;;;;4,2
;;Impella CP;;;;;;;
;;;10.09.2025 14:00;;;;;;
;;;;Flussregelung;;;;;P8
;;Pflegebericht;;;;;;;
;;;10.09.2025 20:00;F. K.;Patient wach;;;;
Seite 1 von 1`

func init() {
	logger.Silence()
}

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 9, day, hour, minute, 0, 0, time.UTC)
}

func find(series []models.CanonicalRecord, source, parameter string) []models.CanonicalRecord {
	var out []models.CanonicalRecord
	for _, r := range series {
		if r.SourceType == source && r.Parameter == parameter {
			out = append(out, r)
		}
	}
	return out
}

func number(t *testing.T, v models.Value) float64 {
	t.Helper()
	f, ok := v.Float()
	if !ok {
		t.Fatalf("expected numeric value, got %q", v.String())
	}
	return f
}
