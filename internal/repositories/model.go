package repositories

import (
	"regexp"
	"time"
)

// Category is a tag repositories can be filed under.
type Category struct {
	ID   uint   `gorm:"column:id;primaryKey"`
	Name string `gorm:"column:name;size:64;not null;uniqueIndex"`
}

// TableName provides the explicit table binding for GORM.
func (Category) TableName() string {
	return "repository_categories_catalog"
}

// Repository is an intent/entity training dataset owned by a single user.
// The slug is unique across all repositories; the language is the primary
// language new examples default to.
type Repository struct {
	UUID       string     `gorm:"column:uuid;primaryKey;size:36"`
	OwnerID    uint       `gorm:"column:owner_id;not null;index"`
	Slug       string     `gorm:"column:slug;size:64;not null;uniqueIndex"`
	Name       string     `gorm:"column:name;size:128;not null"`
	Language   string     `gorm:"column:language;size:10;not null"`
	IsPrivate  bool       `gorm:"column:is_private;not null;default:false"`
	Categories []Category `gorm:"many2many:repository_categories"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Repository) TableName() string {
	return "repositories"
}

// CategoryIDs returns the ids of the loaded category set.
func (r *Repository) CategoryIDs() []uint {
	ids := make([]uint, 0, len(r.Categories))
	for _, category := range r.Categories {
		ids = append(ids, category.ID)
	}
	return ids
}

var slugRe = regexp.MustCompile(`^[-a-zA-Z0-9_]+$`)
