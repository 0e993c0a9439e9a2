package examples

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parleralab/parlera/backend/internal/errs"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrExampleNotFound indicates that no example matches the id.
	ErrExampleNotFound = errors.New("examples: example not found")
	// ErrTranslationNotFound indicates that no translation matches the id.
	ErrTranslationNotFound = errors.New("examples: translation not found")
	// ErrExampleAlreadyDeleted indicates a repeated delete of the same
	// example. Reported to the caller instead of surfacing a server fault.
	ErrExampleAlreadyDeleted = errors.New("examples: example already deleted")
)

const (
	opStoreNew        = "examples.store.new"
	opCurrentUpdate   = "examples.current_update"
	opAddExample      = "examples.add_example"
	opDeleteExample   = "examples.delete_example"
	opListExamples    = "examples.list_examples"
	opTranslate       = "examples.translate"
	opLookup          = "examples.lookup"
	opLanguagesStatus = "examples.languages_status"
	opPurge           = "examples.purge_repository"
)

// StoreConfig describes the dependencies for the versioned example store.
type StoreConfig struct {
	Database           *gorm.DB
	SupportedLanguages []string
	Logger             *zap.Logger
}

// Store keeps training examples versioned per (repository, language)
// generation, with tombstone deletes and per-example translations.
type Store struct {
	db        *gorm.DB
	languages map[string]bool
	logger    *zap.Logger
}

// NewStore constructs the example store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errs.NewServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if len(cfg.SupportedLanguages) == 0 {
		return nil, errs.NewServiceError(opStoreNew, "missing_languages",
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
	return &Store{db: cfg.Database, languages: languages, logger: logger}, nil
}

// CurrentUpdate returns the latest generation for the pair, materializing
// generation 1 on first reference. The unique (repository, language,
// generation) index plus an on-conflict no-op makes concurrent first
// references collapse onto one row.
func (s *Store) CurrentUpdate(ctx context.Context, repositoryUUID, language string) (*Update, error) {
	seed := Update{
		RepositoryUUID: repositoryUUID,
		Language:       language,
		Generation:     1,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "repository_uuid"}, {Name: "language"}, {Name: "generation"}},
			DoNothing: true,
		}).
		Create(&seed).Error
	if err != nil {
		s.logError(opCurrentUpdate, "insert_failed", err, zap.String("repository_uuid", repositoryUUID))
		return nil, errs.NewServiceError(opCurrentUpdate, "insert_failed", err)
	}

	var current Update
	if err := s.db.WithContext(ctx).
		Where("repository_uuid = ? AND language = ?", repositoryUUID, language).
		Order("generation DESC").
		Take(&current).Error; err != nil {
		s.logError(opCurrentUpdate, "reselect_failed", err, zap.String("repository_uuid", repositoryUUID))
		return nil, errs.NewServiceError(opCurrentUpdate, "reselect_failed", err)
	}
	return &current, nil
}

// AddExample attaches a new example to the current update for the language.
// An empty language falls back to the repository's base language, which the
// caller passes as baseLanguage.
func (s *Store) AddExample(ctx context.Context, repositoryUUID, baseLanguage, language, text, intent string, spans []EntitySpan) (*Example, error) {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		language = baseLanguage
	}
	if !s.languages[language] {
		return nil, errs.NewFieldError("language", "Language not supported.")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errs.NewFieldError("text", "This field may not be blank.")
	}

	values, err := resolveSpans(text, spans)
	if err != nil {
		return nil, err
	}

	update, err := s.CurrentUpdate(ctx, repositoryUUID, language)
	if err != nil {
		return nil, err
	}

	example := Example{
		UpdateID: update.ID,
		Text:     text,
		Intent:   strings.TrimSpace(intent),
	}
	for index, span := range spans {
		example.Entities = append(example.Entities, Entity{
			Start: span.Start,
			End:   span.End,
			Label: span.Label,
			Value: values[index],
		})
	}
	if err := s.db.WithContext(ctx).Create(&example).Error; err != nil {
		s.logError(opAddExample, "insert_failed", err, zap.String("repository_uuid", repositoryUUID))
		return nil, errs.NewServiceError(opAddExample, "insert_failed", err)
	}
	example.Update = *update
	return &example, nil
}

// ExampleByID fetches an example with its update, entities and translations.
func (s *Store) ExampleByID(ctx context.Context, id uint) (*Example, error) {
	var example Example
	err := s.db.WithContext(ctx).
		Preload("Update").
		Preload("Entities").
		Preload("Translations").
		Preload("Translations.Entities").
		Take(&example, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrExampleNotFound
	}
	if err != nil {
		s.logError(opLookup, "example_failed", err, zap.Uint("example_id", id))
		return nil, errs.NewServiceError(opLookup, "example_failed", err)
	}
	return &example, nil
}

// DeleteExample stamps the example with the update active at deletion time.
// Repeating the delete returns ErrExampleAlreadyDeleted.
func (s *Store) DeleteExample(ctx context.Context, example *Example) error {
	if example.Deleted() {
		return ErrExampleAlreadyDeleted
	}

	update, err := s.CurrentUpdate(ctx, example.Update.RepositoryUUID, example.Update.Language)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Model(&Example{}).
		Where("id = ? AND deleted_in_id IS NULL", example.ID).
		Update("deleted_in_id", update.ID)
	if result.Error != nil {
		s.logError(opDeleteExample, "update_failed", result.Error, zap.Uint("example_id", example.ID))
		return errs.NewServiceError(opDeleteExample, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrExampleAlreadyDeleted
	}
	example.DeletedInID = &update.ID
	return nil
}

// ListFilter narrows List. HasTranslation is a tri-state: nil skips the
// filter, true keeps examples with at least one translation, false keeps
// those with none.
type ListFilter struct {
	Language       string
	HasTranslation *bool
	Intent         string
	Search         string
	Limit          int
	Offset         int
}

// List returns the repository's live examples, newest first, plus the total
// match count.
func (s *Store) List(ctx context.Context, repositoryUUID string, filter ListFilter) ([]Example, int64, error) {
	query := s.db.WithContext(ctx).Model(&Example{}).
		Joins("JOIN repository_updates ON repository_updates.id = repository_examples.repository_update_id").
		Where("repository_updates.repository_uuid = ?", repositoryUUID).
		Where("repository_examples.deleted_in_id IS NULL")

	if filter.Language != "" {
		query = query.Where("repository_updates.language = ?", filter.Language)
	}
	if filter.Intent != "" {
		query = query.Where("repository_examples.intent = ?", filter.Intent)
	}
	if filter.Search != "" {
		query = query.Where("repository_examples.text LIKE ?", "%"+filter.Search+"%")
	}
	if filter.HasTranslation != nil {
		subquery := "repository_examples.id IN (SELECT original_example_id FROM repository_translated_examples)"
		if *filter.HasTranslation {
			query = query.Where(subquery)
		} else {
			query = query.Where("NOT (" + subquery + ")")
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.logError(opListExamples, "count_failed", err, zap.String("repository_uuid", repositoryUUID))
		return nil, 0, errs.NewServiceError(opListExamples, "count_failed", err)
	}

	var results []Example
	if err := query.
		Preload("Update").
		Preload("Entities").
		Preload("Translations").
		Order("repository_examples.created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&results).Error; err != nil {
		s.logError(opListExamples, "query_failed", err, zap.String("repository_uuid", repositoryUUID))
		return nil, 0, errs.NewServiceError(opListExamples, "query_failed", err)
	}
	return results, total, nil
}

// Translate records the example's text in another language. Translating into
// the example's own language or duplicating an existing translation is a
// validation error.
func (s *Store) Translate(ctx context.Context, example *Example, language, text string, spans []EntitySpan) (*TranslatedExample, error) {
	language = strings.ToLower(strings.TrimSpace(language))
	if !s.languages[language] {
		return nil, errs.NewFieldError("language", "Language not supported.")
	}
	if language == example.Update.Language {
		return nil, errs.NewNonFieldError("Translation language must differ from the example's language.")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errs.NewFieldError("text", "This field may not be blank.")
	}

	values, err := resolveSpans(text, spans)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&TranslatedExample{}).
		Where("original_example_id = ? AND language = ?", example.ID, language).
		Count(&count).Error; err != nil {
		s.logError(opTranslate, "duplicate_lookup_failed", err, zap.Uint("example_id", example.ID))
		return nil, errs.NewServiceError(opTranslate, "duplicate_lookup_failed", err)
	}
	if count > 0 {
		return nil, errs.NewNonFieldError("A translation for this language already exists.")
	}

	translation := TranslatedExample{
		ExampleID: example.ID,
		Language:  language,
		Text:      text,
	}
	for index, span := range spans {
		translation.Entities = append(translation.Entities, TranslatedEntity{
			Start: span.Start,
			End:   span.End,
			Label: span.Label,
			Value: values[index],
		})
	}
	if err := s.db.WithContext(ctx).Create(&translation).Error; err != nil {
		s.logError(opTranslate, "insert_failed", err, zap.Uint("example_id", example.ID))
		return nil, errs.NewServiceError(opTranslate, "insert_failed", err)
	}
	return &translation, nil
}

// TranslationByID fetches a translation with its entities.
func (s *Store) TranslationByID(ctx context.Context, id uint) (*TranslatedExample, error) {
	var translation TranslatedExample
	err := s.db.WithContext(ctx).
		Preload("Entities").
		Take(&translation, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTranslationNotFound
	}
	if err != nil {
		s.logError(opLookup, "translation_failed", err, zap.Uint("translation_id", id))
		return nil, errs.NewServiceError(opLookup, "translation_failed", err)
	}
	return &translation, nil
}

// RepositoryUUIDOfExample resolves which repository an example belongs to.
// Requires the example's Update to be loaded.
func RepositoryUUIDOfExample(example *Example) string {
	return example.Update.RepositoryUUID
}

// RepositoryUUIDOfTranslation resolves the repository behind a translation
// through its original example.
func (s *Store) RepositoryUUIDOfTranslation(ctx context.Context, translation *TranslatedExample) (string, error) {
	example, err := s.ExampleByID(ctx, translation.ExampleID)
	if err != nil {
		return "", err
	}
	return example.Update.RepositoryUUID, nil
}

// LanguageStatus is one row of a repository's per-language summary.
type LanguageStatus struct {
	Language       string `json:"language"`
	ExamplesCount  int64  `json:"examples__count"`
	IsBaseLanguage bool   `json:"is_base_language"`
}

// LanguagesStatus counts live examples per language, folding translations
// into their target language. The repository's base language is always
// present, even at zero.
func (s *Store) LanguagesStatus(ctx context.Context, repositoryUUID, baseLanguage string) ([]LanguageStatus, error) {
	counts := map[string]int64{baseLanguage: 0}

	type languageCount struct {
		Language string
		Total    int64
	}

	var liveCounts []languageCount
	if err := s.db.WithContext(ctx).Model(&Example{}).
		Select("repository_updates.language AS language, COUNT(*) AS total").
		Joins("JOIN repository_updates ON repository_updates.id = repository_examples.repository_update_id").
		Where("repository_updates.repository_uuid = ?", repositoryUUID).
		Where("repository_examples.deleted_in_id IS NULL").
		Group("repository_updates.language").
		Scan(&liveCounts).Error; err != nil {
		s.logError(opLanguagesStatus, "examples_failed", err, zap.String("repository_uuid", repositoryUUID))
		return nil, errs.NewServiceError(opLanguagesStatus, "examples_failed", err)
	}
	for _, row := range liveCounts {
		counts[row.Language] += row.Total
	}

	var translationCounts []languageCount
	if err := s.db.WithContext(ctx).Model(&TranslatedExample{}).
		Select("repository_translated_examples.language AS language, COUNT(*) AS total").
		Joins("JOIN repository_examples ON repository_examples.id = repository_translated_examples.original_example_id").
		Joins("JOIN repository_updates ON repository_updates.id = repository_examples.repository_update_id").
		Where("repository_updates.repository_uuid = ?", repositoryUUID).
		Where("repository_examples.deleted_in_id IS NULL").
		Group("repository_translated_examples.language").
		Scan(&translationCounts).Error; err != nil {
		s.logError(opLanguagesStatus, "translations_failed", err, zap.String("repository_uuid", repositoryUUID))
		return nil, errs.NewServiceError(opLanguagesStatus, "translations_failed", err)
	}
	for _, row := range translationCounts {
		counts[row.Language] += row.Total
	}

	statuses := make([]LanguageStatus, 0, len(counts))
	for language, total := range counts {
		statuses = append(statuses, LanguageStatus{
			Language:       language,
			ExamplesCount:  total,
			IsBaseLanguage: language == baseLanguage,
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Language < statuses[j].Language
	})
	return statuses, nil
}

// RepositoryUUIDsWithLanguage returns repositories whose live training data
// covers the language through examples or translations. Used to widen the
// repository list language filter beyond the primary language.
func (s *Store) RepositoryUUIDsWithLanguage(ctx context.Context, language string) ([]string, error) {
	var fromExamples []string
	if err := s.db.WithContext(ctx).Model(&Example{}).
		Distinct("repository_updates.repository_uuid").
		Joins("JOIN repository_updates ON repository_updates.id = repository_examples.repository_update_id").
		Where("repository_updates.language = ?", language).
		Where("repository_examples.deleted_in_id IS NULL").
		Pluck("repository_updates.repository_uuid", &fromExamples).Error; err != nil {
		s.logError(opListExamples, "language_examples_failed", err, zap.String("language", language))
		return nil, errs.NewServiceError(opListExamples, "language_examples_failed", err)
	}

	var fromTranslations []string
	if err := s.db.WithContext(ctx).Model(&TranslatedExample{}).
		Distinct("repository_updates.repository_uuid").
		Joins("JOIN repository_examples ON repository_examples.id = repository_translated_examples.original_example_id").
		Joins("JOIN repository_updates ON repository_updates.id = repository_examples.repository_update_id").
		Where("repository_translated_examples.language = ?", language).
		Where("repository_examples.deleted_in_id IS NULL").
		Pluck("repository_updates.repository_uuid", &fromTranslations).Error; err != nil {
		s.logError(opListExamples, "language_translations_failed", err, zap.String("language", language))
		return nil, errs.NewServiceError(opListExamples, "language_translations_failed", err)
	}

	seen := make(map[string]bool, len(fromExamples)+len(fromTranslations))
	merged := make([]string, 0, len(fromExamples)+len(fromTranslations))
	for _, uuid := range append(fromExamples, fromTranslations...) {
		if !seen[uuid] {
			seen[uuid] = true
			merged = append(merged, uuid)
		}
	}
	return merged, nil
}

// PurgeRepository drops every update, example, entity and translation for a
// deleted repository. The tombstone model only applies while the repository
// itself exists.
func (s *Store) PurgeRepository(ctx context.Context, repositoryUUID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var updateIDs []uint
		if err := tx.Model(&Update{}).
			Where("repository_uuid = ?", repositoryUUID).
			Pluck("id", &updateIDs).Error; err != nil {
			return errs.NewServiceError(opPurge, "updates_lookup_failed", err)
		}
		if len(updateIDs) == 0 {
			return nil
		}

		var exampleIDs []uint
		if err := tx.Model(&Example{}).
			Where("repository_update_id IN ?", updateIDs).
			Pluck("id", &exampleIDs).Error; err != nil {
			return errs.NewServiceError(opPurge, "examples_lookup_failed", err)
		}

		if len(exampleIDs) > 0 {
			var translationIDs []uint
			if err := tx.Model(&TranslatedExample{}).
				Where("original_example_id IN ?", exampleIDs).
				Pluck("id", &translationIDs).Error; err != nil {
				return errs.NewServiceError(opPurge, "translations_lookup_failed", err)
			}
			if len(translationIDs) > 0 {
				if err := tx.Where("repository_translated_example_id IN ?", translationIDs).
					Delete(&TranslatedEntity{}).Error; err != nil {
					return errs.NewServiceError(opPurge, "translated_entities_failed", err)
				}
				if err := tx.Where("id IN ?", translationIDs).
					Delete(&TranslatedExample{}).Error; err != nil {
					return errs.NewServiceError(opPurge, "translations_failed", err)
				}
			}
			if err := tx.Where("repository_example_id IN ?", exampleIDs).
				Delete(&Entity{}).Error; err != nil {
				return errs.NewServiceError(opPurge, "entities_failed", err)
			}
			if err := tx.Where("id IN ?", exampleIDs).
				Delete(&Example{}).Error; err != nil {
				return errs.NewServiceError(opPurge, "examples_failed", err)
			}
		}

		if err := tx.Where("id IN ?", updateIDs).Delete(&Update{}).Error; err != nil {
			return errs.NewServiceError(opPurge, "updates_failed", err)
		}
		return nil
	})
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("example store error", attrs...)
}
