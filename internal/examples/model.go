package examples

import (
	"fmt"
	"time"

	"github.com/parleralab/parlera/backend/internal/errs"
)

// Update is an immutable generation marker scoped to (repository, language).
// Examples are stamped with the generation that created them and, when
// deleted, with the generation active at deletion time.
type Update struct {
	ID             uint      `gorm:"column:id;primaryKey"`
	RepositoryUUID string    `gorm:"column:repository_uuid;size:36;not null;uniqueIndex:idx_updates_repo_lang_gen,priority:1"`
	Language       string    `gorm:"column:language;size:10;not null;uniqueIndex:idx_updates_repo_lang_gen,priority:2"`
	Generation     int64     `gorm:"column:generation;not null;default:1;uniqueIndex:idx_updates_repo_lang_gen,priority:3"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Update) TableName() string {
	return "repository_updates"
}

// Example is one training utterance. It is never physically removed; a
// deletion stamps DeletedInID with the then-current update, so the training
// set at any generation stays reconstructible.
type Example struct {
	ID           uint                `gorm:"column:id;primaryKey"`
	UpdateID     uint                `gorm:"column:repository_update_id;not null;index"`
	Update       Update              `gorm:"foreignKey:UpdateID"`
	DeletedInID  *uint               `gorm:"column:deleted_in_id"`
	Text         string              `gorm:"column:text;type:text;not null"`
	Intent       string              `gorm:"column:intent;size:64"`
	Entities     []Entity            `gorm:"foreignKey:ExampleID"`
	Translations []TranslatedExample `gorm:"foreignKey:ExampleID"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Example) TableName() string {
	return "repository_examples"
}

// Deleted reports whether the example carries a deletion tombstone.
func (e *Example) Deleted() bool {
	return e.DeletedInID != nil
}

// Language returns the language of the creating update. Requires Update to
// be loaded.
func (e *Example) Language() string {
	return e.Update.Language
}

// Entity is a labeled character span into the parent example's text.
type Entity struct {
	ID        uint   `gorm:"column:id;primaryKey"`
	ExampleID uint   `gorm:"column:repository_example_id;not null;index"`
	Start     int    `gorm:"column:start;not null"`
	End       int    `gorm:"column:end;not null"`
	Label     string `gorm:"column:entity;size:64;not null"`
	Value     string `gorm:"column:value;size:255;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entity) TableName() string {
	return "repository_example_entities"
}

// TranslatedExample carries an example's text in another language, with its
// own entity spans validated against the translated text.
type TranslatedExample struct {
	ID        uint               `gorm:"column:id;primaryKey"`
	ExampleID uint               `gorm:"column:original_example_id;not null;uniqueIndex:idx_translations_example_lang,priority:1"`
	Language  string             `gorm:"column:language;size:10;not null;uniqueIndex:idx_translations_example_lang,priority:2"`
	Text      string             `gorm:"column:text;type:text;not null"`
	Entities  []TranslatedEntity `gorm:"foreignKey:TranslatedExampleID"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (TranslatedExample) TableName() string {
	return "repository_translated_examples"
}

// TranslatedEntity is a labeled span into a translation's text.
type TranslatedEntity struct {
	ID                  uint   `gorm:"column:id;primaryKey"`
	TranslatedExampleID uint   `gorm:"column:repository_translated_example_id;not null;index"`
	Start               int    `gorm:"column:start;not null"`
	End                 int    `gorm:"column:end;not null"`
	Label               string `gorm:"column:entity;size:64;not null"`
	Value               string `gorm:"column:value;size:255;not null"`
}

// TableName provides the explicit table binding for GORM.
func (TranslatedEntity) TableName() string {
	return "repository_translated_example_entities"
}

// EntitySpan is the input form of an entity annotation.
type EntitySpan struct {
	Start int
	End   int
	Label string
}

// resolveSpans validates every span against the text and derives the stored
// values. Offsets are rune positions, so multi-byte text validates against
// its visible length. Invariant: 0 <= start < end <= len(text).
func resolveSpans(text string, spans []EntitySpan) ([]string, error) {
	runes := []rune(text)
	values := make([]string, len(spans))
	for index, span := range spans {
		if span.Label == "" {
			return nil, errs.NewFieldError("entities", fmt.Sprintf("Entity %d is missing a label.", index))
		}
		if span.Start < 0 || span.Start >= span.End || span.End > len(runes) {
			return nil, errs.NewFieldError("entities",
				fmt.Sprintf("Entity %d has an invalid span [%d, %d) for a text of length %d.",
					index, span.Start, span.End, len(runes)))
		}
		values[index] = string(runes[span.Start:span.End])
	}
	return values, nil
}
