package archive

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// MatchRow is the persisted form of a Record.
type MatchRow struct {
	ID           uint      `gorm:"primaryKey"`
	RoomCode     string    `gorm:"size:16;index"`
	PlayerOne    string    `gorm:"size:64"`
	PlayerTwo    string    `gorm:"size:64"`
	ScoreOne     int
	ScoreTwo     int
	FirstBatsman int
	Winner       int
	Result       string    `gorm:"size:128"`
	FinishedAt   time.Time `gorm:"index"`
}

func (MatchRow) TableName() string { return "match_results" }

func rowFromRecord(rec Record) MatchRow {
	return MatchRow{
		RoomCode:     rec.RoomCode,
		PlayerOne:    rec.Players[0],
		PlayerTwo:    rec.Players[1],
		ScoreOne:     rec.Scores[0],
		ScoreTwo:     rec.Scores[1],
		FirstBatsman: rec.FirstBatsman,
		Winner:       rec.Winner,
		Result:       rec.Result,
		FinishedAt:   rec.FinishedAt.UTC(),
	}
}

type PostgresSink struct {
	db *gorm.DB
}

// OpenPostgres connects with dsn and migrates the results table.
func OpenPostgres(dsn string) (*PostgresSink, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&MatchRow{}); err != nil {
		return nil, fmt.Errorf("migrate match_results: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Store(ctx context.Context, rec Record) error {
	row := rowFromRecord(rec)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *PostgresSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
