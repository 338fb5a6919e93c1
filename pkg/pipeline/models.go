package pipeline

import (
	"time"

	"github.com/mlife-core/platform/pkg/aggregation"
	"github.com/mlife-core/platform/pkg/common/models"
	"github.com/mlife-core/platform/pkg/deid"
	"github.com/mlife-core/platform/pkg/ingestion"
)

const (
	StatusAccepted  = "accepted"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunRecord is the persisted status of a run.
type RunRecord struct {
	ID        string    `json:"id" gorm:"primaryKey;column:id"`
	RecordID  string    `json:"record_id" gorm:"column:record_id;index"`
	Status    string    `json:"status" gorm:"column:status"`
	Error     string    `json:"error,omitempty" gorm:"column:error"`
	Records   int       `json:"records" gorm:"column:records"`
	Rejected  int       `json:"rejected" gorm:"column:rejected"`
	Warnings  int       `json:"warnings" gorm:"column:warnings"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (RunRecord) TableName() string {
	return "mlife_runs"
}

// RunResult is what a run hands to its callers and caches for the UI.
type RunResult struct {
	RunID          string                    `json:"run_id"`
	RecordID       string                    `json:"record_id"`
	Status         string                    `json:"status"`
	CreatedAt      time.Time                 `json:"created_at"`
	GrammarVersion string                    `json:"grammar_version"`
	Delimiter      string                    `json:"delimiter"`
	Blocks         []ingestion.BlockSummary  `json:"blocks"`
	Observations   int                       `json:"observations"`
	Records        []models.AggregatedRecord `json:"records"`
	Rejected       []aggregation.Rejection   `json:"rejected,omitempty"`
	Warnings       []models.Warning          `json:"warnings"`
	Deid           *deid.Summary             `json:"deid,omitempty"`
	Artifacts      []string                  `json:"artifacts,omitempty"`
}
