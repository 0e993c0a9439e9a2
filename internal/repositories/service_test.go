package repositories

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/parleralab/parlera/backend/internal/errs"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:repositories_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Category{}, &Repository{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:           db,
		SupportedLanguages: []string{"en", "pt"},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func TestCreateRepository(t *testing.T) {
	service, _ := newTestService(t)

	repository, err := service.Create(context.Background(), 1, CreateInput{
		Slug:     "repository-1",
		Name:     "Repository 1",
		Language: "en",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repository.UUID == "" {
		t.Fatalf("expected a generated uuid")
	}
	if repository.OwnerID != 1 {
		t.Fatalf("expected owner 1, got %d", repository.OwnerID)
	}
	if repository.IsPrivate {
		t.Fatalf("expected public repository by default")
	}
}

func TestCreateRepositoryValidatesInput(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateInput
		field string
	}{
		{name: "blank name", input: CreateInput{Slug: "repository-1", Language: "en"}, field: "name"},
		{name: "blank slug", input: CreateInput{Name: "Repository 1", Language: "en"}, field: "slug"},
		{name: "slug with space", input: CreateInput{Slug: "repository 4", Name: "Repository 4", Language: "en"}, field: "slug"},
		{name: "unknown language", input: CreateInput{Slug: "repository-1", Name: "Repository 1", Language: "out"}, field: "language"},
	}
	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Create(ctx, 1, testCase.input)
			var fieldErrors errs.FieldErrors
			if !errors.As(err, &fieldErrors) {
				t.Fatalf("expected field errors, got %v", err)
			}
			if len(fieldErrors[testCase.field]) == 0 {
				t.Fatalf("expected error on field %q, got %v", testCase.field, fieldErrors)
			}
		})
	}
}

func TestCreateRepositoryRejectsDuplicateSlug(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Create(ctx, 1, CreateInput{Slug: "repo", Name: "Repo", Language: "en"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := service.Create(ctx, 2, CreateInput{Slug: "repo", Name: "Other", Language: "en"})
	var fieldErrors errs.FieldErrors
	if !errors.As(err, &fieldErrors) {
		t.Fatalf("expected field errors, got %v", err)
	}
	if len(fieldErrors["slug"]) == 0 {
		t.Fatalf("expected slug error, got %v", fieldErrors)
	}
}

func TestCreateRepositoryRejectsUnknownCategory(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Create(context.Background(), 1, CreateInput{
		Slug:        "repo",
		Name:        "Repo",
		Language:    "en",
		CategoryIDs: []uint{42},
	})
	var fieldErrors errs.FieldErrors
	if !errors.As(err, &fieldErrors) {
		t.Fatalf("expected field errors, got %v", err)
	}
	if len(fieldErrors["categories"]) == 0 {
		t.Fatalf("expected categories error, got %v", fieldErrors)
	}
}

func TestByUUIDDistinguishesMalformedAndMissing(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.ByUUID(ctx, "not-a-uuid"); !errors.Is(err, ErrMalformedUUID) {
		t.Fatalf("expected ErrMalformedUUID, got %v", err)
	}
	if _, err := service.ByUUID(ctx, "4aadd8b5-2d3c-4b4a-8f0e-1c5d6e7f8a9b"); !errors.Is(err, ErrRepositoryNotFound) {
		t.Fatalf("expected ErrRepositoryNotFound, got %v", err)
	}
}

func TestUpdateRepositoryAppliesPartialChanges(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	repository, err := service.Create(ctx, 1, CreateInput{Slug: "repo", Name: "Repo", Language: "en"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	private := true
	name := "Renamed"
	updated, err := service.Update(ctx, repository, UpdateInput{Name: &name, IsPrivate: &private})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Name != "Renamed" || !updated.IsPrivate {
		t.Fatalf("expected updated fields, got %+v", updated)
	}
	if updated.Slug != "repo" || updated.Language != "en" {
		t.Fatalf("untouched fields must survive, got %+v", updated)
	}
	if updated.UUID != repository.UUID {
		t.Fatalf("uuid must be immutable")
	}
}

func TestUpdateRepositoryReplacesCategories(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	first, err := service.CreateCategory(ctx, "Weather")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := service.CreateCategory(ctx, "Travel")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	repository, err := service.Create(ctx, 1, CreateInput{
		Slug: "repo", Name: "Repo", Language: "en", CategoryIDs: []uint{first.ID},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	replacement := []uint{second.ID}
	updated, err := service.Update(ctx, repository, UpdateInput{CategoryIDs: &replacement})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	ids := updated.CategoryIDs()
	if len(ids) != 1 || ids[0] != second.ID {
		t.Fatalf("expected categories replaced, got %v", ids)
	}
}

func TestListSeparatesPublicAndOwned(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Create(ctx, 1, CreateInput{Slug: "public-repo", Name: "Public", Language: "en"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.Create(ctx, 1, CreateInput{Slug: "secret-repo", Name: "Secret", Language: "en", IsPrivate: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, total, err := service.List(ctx, ListFilter{Limit: 20})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if total != 1 {
		t.Fatalf("public listing must hide private repositories, got %d", total)
	}

	_, total, err = service.List(ctx, ListFilter{OwnerID: 1, Limit: 20})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if total != 2 {
		t.Fatalf("owner listing must include private repositories, got %d", total)
	}
}

func TestListWidensLanguageFilterWithExtraUUIDs(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	english, err := service.Create(ctx, 1, CreateInput{Slug: "english", Name: "English", Language: "en"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	portuguese, err := service.Create(ctx, 1, CreateInput{Slug: "portuguese", Name: "Portuguese", Language: "pt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, total, err := service.List(ctx, ListFilter{Language: "pt", Limit: 20})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected one primary-language match, got %d", total)
	}

	results, total, err := service.List(ctx, ListFilter{
		Language:           "pt",
		LanguageExtraUUIDs: []string{english.UUID},
		Limit:              20,
	})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected the widened match to include both, got %d", total)
	}
	seen := map[string]bool{}
	for _, repository := range results {
		seen[repository.UUID] = true
	}
	if !seen[english.UUID] || !seen[portuguese.UUID] {
		t.Fatalf("expected both repositories in the widened listing")
	}
}

func TestDeleteRepositoryRemovesRowAndCategoryLinks(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	category, err := service.CreateCategory(ctx, "Weather")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	repository, err := service.Create(ctx, 1, CreateInput{
		Slug: "repo", Name: "Repo", Language: "en", CategoryIDs: []uint{category.ID},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := service.Delete(ctx, repository); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := service.ByUUID(ctx, repository.UUID); !errors.Is(err, ErrRepositoryNotFound) {
		t.Fatalf("expected the repository to be gone, got %v", err)
	}

	var links int64
	if err := db.Table("repository_categories").Count(&links).Error; err != nil {
		t.Fatalf("failed to count join rows: %v", err)
	}
	if links != 0 {
		t.Fatalf("expected category links cleared, got %d", links)
	}
}
