package store

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"intraday/internal/schema"
)

// RunRow is the sealed metadata of a run.
type RunRow struct {
	ID         string         `gorm:"type:varchar(64);primaryKey"`
	Mode       string         `gorm:"type:varchar(16);not null"`
	TradingDay string         `gorm:"type:varchar(10);index;not null"`
	Universe   datatypes.JSON `gorm:"type:jsonb"`
	Config     datatypes.JSON `gorm:"type:jsonb"`
	Result     datatypes.JSON `gorm:"type:jsonb"`
	StartedAt  time.Time      `gorm:"type:timestamptz"`
	SealedAt   *time.Time     `gorm:"type:timestamptz"`
}

func (RunRow) TableName() string {
	return "runs"
}

// RecordRow is one signal, order, fill, position or score of a run.
type RecordRow struct {
	RunID   string         `gorm:"type:varchar(64);primaryKey"`
	Seq     uint64         `gorm:"primaryKey"`
	Type    string         `gorm:"type:varchar(16);index;not null"`
	TsEvent time.Time      `gorm:"type:timestamptz;index"`
	TraceID uint64         `gorm:"not null"`
	Payload datatypes.JSON `gorm:"type:jsonb;not null"`
}

func (RecordRow) TableName() string {
	return "run_records"
}

// GormSink stores a run in Postgres.
type GormSink struct {
	db    *gorm.DB
	runID string
}

// NewGormSink migrates the tables and binds the sink to one run.
func NewGormSink(db *gorm.DB, runID string) (*GormSink, error) {
	if db == nil {
		return nil, errors.New("gorm sink: db is nil")
	}
	if err := db.AutoMigrate(&RunRow{}, &RecordRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate run store tables")
	}
	return &GormSink{db: db, runID: runID}, nil
}

func (s *GormSink) Write(ctx context.Context, records []Record) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows := make([]RecordRow, 0, len(records))
		for _, r := range records {
			switch r.Header.Type {
			case schema.EventRun:
				if err := s.upsertRun(tx, r.Payload); err != nil {
					return err
				}
				continue
			case schema.EventRunResult:
				if err := tx.Model(&RunRow{}).Where("id = ?", s.runID).
					Update("result", datatypes.JSON(r.Payload)).Error; err != nil {
					return errors.Wrap(err, "store run result")
				}
				continue
			}
			rows = append(rows, RecordRow{
				RunID:   s.runID,
				Seq:     r.Header.Seq,
				Type:    r.Header.Type.String(),
				TsEvent: time.Unix(0, r.Header.TsEvent).UTC(),
				TraceID: r.Header.TraceID,
				Payload: datatypes.JSON(r.Payload),
			})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
}

func (s *GormSink) upsertRun(tx *gorm.DB, payload []byte) error {
	var run schema.Run
	if err := sonic.ConfigStd.Unmarshal(payload, &run); err != nil {
		return errors.Wrap(err, "decode run record")
	}
	universe, err := sonic.ConfigStd.Marshal(run.Universe)
	if err != nil {
		return errors.Wrap(err, "encode universe")
	}
	row := RunRow{
		ID:         run.ID,
		Mode:       run.Mode.String(),
		TradingDay: run.TradingDay,
		Universe:   datatypes.JSON(universe),
		Config:     datatypes.JSON(run.Config),
		StartedAt:  run.StartedAt,
	}
	if run.Sealed() {
		sealed := run.SealedAt
		row.SealedAt = &sealed
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sealed_at"}),
	}).Create(&row).Error; err != nil {
		return errors.Wrap(err, "upsert run")
	}
	return nil
}

func (s *GormSink) Close() error {
	return nil
}
