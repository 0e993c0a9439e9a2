package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parleralab/parlera/backend/internal/errs"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrRepositoryNotFound indicates that no repository matches the uuid.
	ErrRepositoryNotFound = errors.New("repositories: repository not found")
	// ErrMalformedUUID indicates that the supplied identifier is not a UUID.
	ErrMalformedUUID = errors.New("repositories: malformed repository uuid")
	// ErrCategoryNotFound indicates that a referenced category id is unknown.
	ErrCategoryNotFound = errors.New("repositories: category not found")
)

const (
	opServiceNew = "repositories.service.new"
	opCreate     = "repositories.create"
	opUpdate     = "repositories.update"
	opDelete     = "repositories.delete"
	opLookup     = "repositories.lookup"
	opList       = "repositories.list"
)

// ServiceConfig describes the dependencies for repository management.
type ServiceConfig struct {
	Database           *gorm.DB
	SupportedLanguages []string
	Logger             *zap.Logger
}

// Service manages repository records and their category set.
type Service struct {
	db        *gorm.DB
	languages map[string]bool
	logger    *zap.Logger
}

// NewService constructs the repository service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errs.NewServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if len(cfg.SupportedLanguages) == 0 {
		return nil, errs.NewServiceError(opServiceNew, "missing_languages",
			errors.New("at least one supported language is required"))
	}
	languages := make(map[string]bool, len(cfg.SupportedLanguages))
	for _, language := range cfg.SupportedLanguages {
		languages[language] = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, languages: languages, logger: logger}, nil
}

// LanguageSupported reports whether the language code is configured.
func (s *Service) LanguageSupported(language string) bool {
	return s.languages[language]
}

// CreateInput carries the fields accepted at repository creation.
type CreateInput struct {
	Slug        string
	Name        string
	Language    string
	IsPrivate   bool
	CategoryIDs []uint
}

// Create validates the input and inserts a new repository for the owner.
func (s *Service) Create(ctx context.Context, ownerID uint, input CreateInput) (*Repository, error) {
	fieldErrors := errs.FieldErrors{}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		fieldErrors.Add("name", "This field may not be blank.")
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		fieldErrors.Add("slug", "This field may not be blank.")
	} else if !slugRe.MatchString(slug) {
		fieldErrors.Add("slug", "Enter a valid slug consisting of letters, numbers, underscores or hyphens.")
	}
	language := strings.ToLower(strings.TrimSpace(input.Language))
	if !s.languages[language] {
		fieldErrors.Add("language", "Language not supported.")
	}
	if len(fieldErrors) > 0 {
		return nil, fieldErrors
	}

	categories, err := s.categoriesByID(ctx, input.CategoryIDs)
	if err != nil {
		if errors.Is(err, ErrCategoryNotFound) {
			return nil, errs.NewFieldError("categories", "Invalid category.")
		}
		return nil, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Repository{}).
		Where("slug = ?", slug).Count(&count).Error; err != nil {
		s.logError(opCreate, "slug_lookup_failed", err)
		return nil, errs.NewServiceError(opCreate, "slug_lookup_failed", err)
	}
	if count > 0 {
		return nil, errs.NewFieldError("slug", "A repository with this slug already exists.")
	}

	repository := Repository{
		UUID:       uuid.NewString(),
		OwnerID:    ownerID,
		Slug:       slug,
		Name:       name,
		Language:   language,
		IsPrivate:  input.IsPrivate,
		Categories: categories,
	}
	if err := s.db.WithContext(ctx).Create(&repository).Error; err != nil {
		s.logError(opCreate, "insert_failed", err)
		return nil, errs.NewServiceError(opCreate, "insert_failed", err)
	}
	return &repository, nil
}

// UpdateInput carries partial-update fields; nil fields stay untouched.
// The uuid and owner are immutable.
type UpdateInput struct {
	Slug        *string
	Name        *string
	Language    *string
	IsPrivate   *bool
	CategoryIDs *[]uint
}

// Update applies a partial update to the repository.
func (s *Service) Update(ctx context.Context, repository *Repository, input UpdateInput) (*Repository, error) {
	fieldErrors := errs.FieldErrors{}
	updates := map[string]interface{}{}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			fieldErrors.Add("name", "This field may not be blank.")
		} else {
			updates["name"] = name
		}
	}
	if input.Slug != nil {
		slug := strings.TrimSpace(*input.Slug)
		switch {
		case slug == "":
			fieldErrors.Add("slug", "This field may not be blank.")
		case !slugRe.MatchString(slug):
			fieldErrors.Add("slug", "Enter a valid slug consisting of letters, numbers, underscores or hyphens.")
		default:
			var count int64
			if err := s.db.WithContext(ctx).Model(&Repository{}).
				Where("slug = ? AND uuid <> ?", slug, repository.UUID).
				Count(&count).Error; err != nil {
				s.logError(opUpdate, "slug_lookup_failed", err)
				return nil, errs.NewServiceError(opUpdate, "slug_lookup_failed", err)
			}
			if count > 0 {
				fieldErrors.Add("slug", "A repository with this slug already exists.")
			} else {
				updates["slug"] = slug
			}
		}
	}
	if input.Language != nil {
		language := strings.ToLower(strings.TrimSpace(*input.Language))
		if !s.languages[language] {
			fieldErrors.Add("language", "Language not supported.")
		} else {
			updates["language"] = language
		}
	}
	if input.IsPrivate != nil {
		updates["is_private"] = *input.IsPrivate
	}
	if len(fieldErrors) > 0 {
		return nil, fieldErrors
	}

	var categories []Category
	if input.CategoryIDs != nil {
		resolved, err := s.categoriesByID(ctx, *input.CategoryIDs)
		if err != nil {
			if errors.Is(err, ErrCategoryNotFound) {
				return nil, errs.NewFieldError("categories", "Invalid category.")
			}
			return nil, err
		}
		categories = resolved
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(repository).
			Updates(updates).Error; err != nil {
			s.logError(opUpdate, "update_failed", err, zap.String("repository_uuid", repository.UUID))
			return nil, errs.NewServiceError(opUpdate, "update_failed", err)
		}
	}
	if input.CategoryIDs != nil {
		if err := s.db.WithContext(ctx).Model(repository).
			Association("Categories").Replace(categories); err != nil {
			s.logError(opUpdate, "categories_failed", err, zap.String("repository_uuid", repository.UUID))
			return nil, errs.NewServiceError(opUpdate, "categories_failed", err)
		}
	}

	return s.ByUUID(ctx, repository.UUID)
}

// Delete removes the repository row and its category links. Dependent
// training data and authorizations are purged by their owning services.
func (s *Service) Delete(ctx context.Context, repository *Repository) error {
	if err := s.db.WithContext(ctx).Model(repository).
		Association("Categories").Clear(); err != nil {
		s.logError(opDelete, "categories_failed", err, zap.String("repository_uuid", repository.UUID))
		return errs.NewServiceError(opDelete, "categories_failed", err)
	}
	if err := s.db.WithContext(ctx).Delete(repository).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("repository_uuid", repository.UUID))
		return errs.NewServiceError(opDelete, "delete_failed", err)
	}
	return nil
}

// ByUUID fetches a repository with its categories. A malformed identifier
// returns ErrMalformedUUID so callers can choose between 400 and 404.
func (s *Service) ByUUID(ctx context.Context, raw string) (*Repository, error) {
	if _, err := uuid.Parse(raw); err != nil {
		return nil, ErrMalformedUUID
	}
	var repository Repository
	err := s.db.WithContext(ctx).
		Preload("Categories").
		Where("uuid = ?", raw).
		Take(&repository).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRepositoryNotFound
	}
	if err != nil {
		s.logError(opLookup, "by_uuid_failed", err, zap.String("repository_uuid", raw))
		return nil, errs.NewServiceError(opLookup, "by_uuid_failed", err)
	}
	return &repository, nil
}

// ListFilter narrows List. A zero OwnerID lists public repositories only;
// a set OwnerID lists that user's repositories including private ones.
// LanguageExtraUUIDs widens the language match to repositories whose
// training data covers the language (computed by the example store).
type ListFilter struct {
	OwnerID            uint
	Name               string
	CategoryID         uint
	Language           string
	LanguageExtraUUIDs []string
	Limit              int
	Offset             int
}

// List returns the matching page plus the total match count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Repository, int64, error) {
	query := s.db.WithContext(ctx).Model(&Repository{})
	if filter.OwnerID != 0 {
		query = query.Where("owner_id = ?", filter.OwnerID)
	} else {
		query = query.Where("is_private = ?", false)
	}
	if filter.Name != "" {
		query = query.Where("name = ?", filter.Name)
	}
	if filter.CategoryID != 0 {
		query = query.Where(
			"uuid IN (SELECT repository_uuid FROM repository_categories WHERE category_id = ?)",
			filter.CategoryID)
	}
	if filter.Language != "" {
		if len(filter.LanguageExtraUUIDs) > 0 {
			query = query.Where("language = ? OR uuid IN ?", filter.Language, filter.LanguageExtraUUIDs)
		} else {
			query = query.Where("language = ?", filter.Language)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.logError(opList, "count_failed", err)
		return nil, 0, errs.NewServiceError(opList, "count_failed", err)
	}

	var results []Repository
	if err := query.
		Preload("Categories").
		Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&results).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, 0, errs.NewServiceError(opList, "query_failed", err)
	}
	return results, total, nil
}

// AllCategories returns the category catalog ordered by name.
func (s *Service) AllCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	if err := s.db.WithContext(ctx).Order("name").Find(&categories).Error; err != nil {
		s.logError(opList, "categories_failed", err)
		return nil, errs.NewServiceError(opList, "categories_failed", err)
	}
	return categories, nil
}

// CreateCategory inserts a category; used by seeding and tests.
func (s *Service) CreateCategory(ctx context.Context, name string) (*Category, error) {
	category := Category{Name: strings.TrimSpace(name)}
	if category.Name == "" {
		return nil, errs.NewFieldError("name", "This field may not be blank.")
	}
	if err := s.db.WithContext(ctx).Create(&category).Error; err != nil {
		s.logError(opCreate, "category_insert_failed", err)
		return nil, errs.NewServiceError(opCreate, "category_insert_failed", err)
	}
	return &category, nil
}

func (s *Service) categoriesByID(ctx context.Context, ids []uint) ([]Category, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var categories []Category
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&categories).Error; err != nil {
		s.logError(opLookup, "categories_failed", err)
		return nil, errs.NewServiceError(opLookup, "categories_failed", err)
	}
	if len(categories) != len(ids) {
		return nil, ErrCategoryNotFound
	}
	return categories, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("repositories service error", attrs...)
}
