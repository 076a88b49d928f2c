// Package archive records finished games. It is write-mostly: live lobbies
// are never restored from it.
package archive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GameRecord struct {
	ID             string `gorm:"primaryKey;size:36"`
	LobbyName      string `gorm:"size:64"`
	WinningFaction string `gorm:"size:16;index"`
	Condition      string `gorm:"size:16"`
	Rounds         int
	StartedAt      time.Time
	EndedAt        time.Time      `gorm:"index"`
	Players        []PlayerRecord `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
}

type PlayerRecord struct {
	ID        uint   `gorm:"primaryKey"`
	GameID    string `gorm:"size:36;index"`
	Seat      int
	PlayerID  string `gorm:"size:36"`
	Name      string `gorm:"size:64"`
	Role      string `gorm:"size:16"`
	Alignment string `gorm:"size:16"`
	Survived  bool
}

// Archiver stores finished games.
type Archiver interface {
	Save(ctx context.Context, rec GameRecord) error
	Recent(ctx context.Context, limit int) ([]GameRecord, error)
	Close() error
}

type Store struct {
	db *gorm.DB
}

// Open connects to the archive database and migrates its tables. An empty
// dsn yields a Nop archiver.
func Open(driver, dsn string, log *zap.Logger) (Archiver, error) {
	if dsn == "" {
		log.Info("game archive disabled")
		return Nop{}, nil
	}

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.AutoMigrate(&GameRecord{}, &PlayerRecord{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	log.Info("game archive ready", zap.String("driver", driver))
	return &Store{db: db}, nil
}

func (s *Store) Save(ctx context.Context, rec GameRecord) error {
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save game %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns the latest games first, with their players in seat order.
func (s *Store) Recent(ctx context.Context, limit int) ([]GameRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []GameRecord
	err := s.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB { return db.Order("seat") }).
		Order("ended_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load recent games: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Nop drops every record.
type Nop struct{}

func (Nop) Save(context.Context, GameRecord) error            { return nil }
func (Nop) Recent(context.Context, int) ([]GameRecord, error) { return nil, nil }
func (Nop) Close() error                                      { return nil }
