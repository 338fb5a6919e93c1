package ingestion

import (
	"fmt"

	"github.com/mlife-core/platform/pkg/common/models"
)

// Parser turns one block into canonical records. Rows that cannot be read
// are reported as warnings and never abort the block.
type Parser interface {
	Parse(b Block) ([]models.CanonicalRecord, []models.Warning)
}

// DefaultParsers returns the parser for every block kind of the grammar.
func DefaultParsers() map[BlockKind]Parser {
	return map[BlockKind]Parser{
		KindVitals:       TableParser{Source: models.SourceVitals},
		KindRespiratory:  TableParser{Source: models.SourceRespiratory},
		KindLab:          TableParser{Source: models.SourceLab, StripLabMarkers: true},
		KindMedication:   MedicationParser{},
		KindFluidBalance: FluidBalanceParser{},
		KindPatientData:  DeviceParser{},
	}
}

func skipWarning(b Block, line int, format string, args ...interface{}) models.Warning {
	return models.Warning{
		Kind:    models.WarnRowSkipped,
		Block:   b.Name,
		Line:    line,
		Message: fmt.Sprintf(format, args...),
	}
}
