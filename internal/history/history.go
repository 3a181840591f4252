// Package history persists a local ledger of job outcomes — independent
// of the server-side job record — for the UI's history view.
package history

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Outcome is the terminal disposition of a job as observed locally.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Record is one row of the job-outcome ledger.
type Record struct {
	JobID     int64     `gorm:"primaryKey" json:"job_id"`
	JobType   string    `gorm:"index" json:"job_type"`
	Outcome   Outcome   `gorm:"index" json:"outcome"`
	BytesSent int64     `json:"bytes_sent"`
	Duration  float64   `json:"duration_seconds"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

func (Record) TableName() string { return "job_history" }

// Ledger is the GORM-backed job-outcome store.
type Ledger struct {
	db *gorm.DB
}

// Open creates or migrates the ledger database at dbFile.
func Open(dbFile string) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Record upserts the outcome of a finished job.
func (l *Ledger) Record(r Record) error {
	return l.db.Save(&r).Error
}

// Recent returns the most recently ended jobs, newest first.
func (l *Ledger) Recent(limit int) ([]Record, error) {
	var records []Record
	err := l.db.Order("ended_at desc").Limit(limit).Find(&records).Error
	return records, err
}

// TotalBytes sums bytes_sent across every recorded job.
func (l *Ledger) TotalBytes() (int64, error) {
	var total int64
	err := l.db.Model(&Record{}).Select("COALESCE(SUM(bytes_sent), 0)").Row().Scan(&total)
	return total, err
}

// CountByOutcome returns how many jobs ended in the given outcome.
func (l *Ledger) CountByOutcome(o Outcome) (int64, error) {
	var count int64
	err := l.db.Model(&Record{}).Where("outcome = ?", o).Count(&count).Error
	return count, err
}

// Close releases the underlying database connection.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
