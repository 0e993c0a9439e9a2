package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parleralab/parlera/backend/internal/examples"
)

const migrationBackfillEntityValues = "2026-07-21_backfill_entity_values"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillEntityValues, apply: backfillEntityValues},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillEntityValues recomputes stored entity values from their spans for
// rows written before the value column existed.
func backfillEntityValues(db *gorm.DB) error {
	type entityRow struct {
		ID    uint
		Start int
		End   int
		Text  string
	}

	var rows []entityRow
	if err := db.Model(&examples.Entity{}).
		Select("repository_example_entities.id, repository_example_entities.start, repository_example_entities.`end`, repository_examples.text").
		Joins("JOIN repository_examples ON repository_examples.id = repository_example_entities.repository_example_id").
		Where("repository_example_entities.value = ''").
		Scan(&rows).Error; err != nil {
		return err
	}

	for _, row := range rows {
		runes := []rune(row.Text)
		if row.Start < 0 || row.Start >= row.End || row.End > len(runes) {
			continue
		}
		if err := db.Model(&examples.Entity{}).
			Where("id = ?", row.ID).
			Update("value", string(runes[row.Start:row.End])).Error; err != nil {
			return err
		}
	}
	return nil
}
