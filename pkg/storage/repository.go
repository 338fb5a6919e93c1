package storage

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mlife-core/platform/pkg/common/models"
)

// ExportRow is one validated aggregated record staged for the registry writer.
type ExportRow struct {
	ID             uint              `gorm:"primaryKey;column:id"`
	RunID          string            `gorm:"column:run_id;index"`
	RecordID       string            `gorm:"column:record_id;index"`
	EventName      string            `gorm:"column:event_name"`
	Instrument     string            `gorm:"column:instrument"`
	RepeatInstance int               `gorm:"column:repeat_instance"`
	Day            string            `gorm:"column:day"`
	Fields         datatypes.JSONMap `gorm:"column:fields"`
	CreatedAt      time.Time         `gorm:"column:created_at"`
}

func (ExportRow) TableName() string {
	return "mlife_export_rows"
}

type ExportRepository struct {
	db *gorm.DB
}

func NewExportRepository(db *gorm.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

func (r *ExportRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&ExportRow{})
}

func NewExportRows(runID string, records []models.AggregatedRecord) []ExportRow {
	now := time.Now().UTC()
	rows := make([]ExportRow, 0, len(records))
	for i := range records {
		rec := &records[i]
		rows = append(rows, ExportRow{
			RunID:          runID,
			RecordID:       rec.RecordID,
			EventName:      rec.EventName,
			Instrument:     rec.Instrument,
			RepeatInstance: rec.RepeatInstance,
			Day:            string(rec.Day),
			Fields:         datatypes.JSONMap(rec.Flat()),
			CreatedAt:      now,
		})
	}
	return rows
}

// WriteRun stages the records of one run in a single transaction.
func (r *ExportRepository) WriteRun(ctx context.Context, runID string, records []models.AggregatedRecord) error {
	rows := NewExportRows(runID, records)
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, 200).Error
	})
}

func (r *ExportRepository) ListRun(ctx context.Context, runID string) ([]ExportRow, error) {
	var rows []ExportRow
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("instrument, repeat_instance").
		Find(&rows).Error
	return rows, err
}
