// Package store persists run history in sqlite and step logs on disk.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"matrixci/internal/digest"
	"matrixci/internal/runner"
)

// ErrNotFound is returned when a run ID is not in the history.
var ErrNotFound = errors.New("run not found")

// RunRecord is a persisted workflow run.
type RunRecord struct {
	ID         string `gorm:"primaryKey"`
	Workflow   string
	Event      string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Jobs       []JobRecord `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// JobRecord is one persisted job instance of a run.
type JobRecord struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"index"`
	Name        string
	Combination string
	Status      string
	StartedAt   time.Time
	FinishedAt  time.Time
	Steps       []StepRecord `gorm:"foreignKey:JobRecordID;constraint:OnDelete:CASCADE"`
}

// StepRecord is one persisted step result. LogDigest is the sha256 of the
// output the step produced, LogPath the file it was written to (if any).
type StepRecord struct {
	ID          uint `gorm:"primaryKey"`
	JobRecordID uint `gorm:"index"`
	Name        string
	Status      string
	ExitCode    int
	SoftFailed  bool
	LogPath     string
	LogDigest   string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store is the sqlite-backed run history.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the history database and migrates its schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.AutoMigrate(&RunRecord{}, &JobRecord{}, &StepRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun persists a finished run with its job instances and steps.
func (s *Store) SaveRun(res *runner.RunResult) error {
	record := toRecord(res)
	if err := s.db.Create(&record).Error; err != nil {
		return fmt.Errorf("save run %s: %w", res.ID, err)
	}
	return nil
}

// GetRun loads one run with its jobs and steps.
func (s *Store) GetRun(id string) (*RunRecord, error) {
	var record RunRecord
	err := s.db.Preload("Jobs.Steps").First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return &record, nil
}

// VerifyRun re-hashes every log file recorded for a run and compares it to
// the digest captured when the step ran. A mismatch means the log was edited
// after the fact.
func (s *Store) VerifyRun(id string) error {
	record, err := s.GetRun(id)
	if err != nil {
		return err
	}
	for _, job := range record.Jobs {
		for _, step := range job.Steps {
			if step.LogPath == "" {
				continue
			}
			sum, err := digest.File(step.LogPath)
			if err != nil {
				return fmt.Errorf("step %q: read log: %w", step.Name, err)
			}
			if sum != step.LogDigest {
				return fmt.Errorf("step %q: log %s does not match recorded digest", step.Name, step.LogPath)
			}
		}
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, without step detail.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []RunRecord
	err := s.db.Order("started_at desc").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return records, nil
}

func toRecord(res *runner.RunResult) RunRecord {
	record := RunRecord{
		ID:         res.ID,
		Workflow:   res.Workflow,
		Event:      res.Event,
		Status:     string(res.Status),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	for _, job := range res.Jobs {
		jr := JobRecord{
			Name:        job.Job,
			Combination: job.Combination.String(),
			Status:      string(job.Status),
			StartedAt:   job.StartedAt,
			FinishedAt:  job.FinishedAt,
		}
		for _, step := range job.Steps {
			jr.Steps = append(jr.Steps, StepRecord{
				Name:       step.Name,
				Status:     string(step.Status),
				ExitCode:   step.ExitCode,
				SoftFailed: step.SoftFailed,
				LogPath:    step.LogPath,
				LogDigest:  step.LogDigest,
				StartedAt:  step.StartedAt,
				FinishedAt: step.FinishedAt,
			})
		}
		record.Jobs = append(record.Jobs, jr)
	}
	return record
}
