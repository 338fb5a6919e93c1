package mapping

import "strings"

// VentModes lists the registry ventilation modes; a mode's code is its
// position plus one.
var VentModes = []string{
	"SPN_CPAP_PS", "CPAP_PS", "BiLevel", "BiLevel_VG", "BIPAP", "PC_BIPAP",
	"SIMV", "SIMV_PC", "SIMV_VC", "PC_SIMV", "VC_SIMV",
	"A_C_VC", "A_C_PC", "A_C_PRVC", "PC_CMV", "PC_PSV", "PC_AC", "PC_PC_APRV",
	"IPPV", "VC_CMV", "VC_AC", "VC_MMV", "ASB", "NIV", "SBT",
}

// ventAliases maps ventilator display strings (normalized) to a registry
// mode. An empty target means the mode is deliberately not reported.
var ventAliases = map[string]string{
	"CPAP":        "SPN_CPAP_PS",
	"SPN_CPAP":    "SPN_CPAP_PS",
	"SPONTANEOUS": "SPN_CPAP_PS",
	"SPONT":       "SPN_CPAP_PS",
	"BI_LEVEL":    "BiLevel",
	"AC_VC":       "A_C_VC",
	"AC_PC":       "A_C_PC",
	"APRV":        "PC_PC_APRV",
	"STANDBY":     "",
}

// NormalizeVentMode upper-cases the mode and turns dashes and blanks into
// underscores.
func NormalizeVentMode(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return s
}

// VentModeCode resolves a ventilator mode string. ignored is true for modes
// that map to no registry value on purpose; ok is false for unknown modes.
func VentModeCode(raw string) (code int, ignored, ok bool) {
	norm := NormalizeVentMode(raw)
	if target, found := ventAliases[norm]; found {
		if target == "" {
			return 0, true, true
		}
		norm = strings.ToUpper(target)
	}
	for i, mode := range VentModes {
		if strings.ToUpper(mode) == norm {
			return i + 1, false, true
		}
	}
	return 0, false, false
}
