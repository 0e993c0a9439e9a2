package examples

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

const testRepositoryUUID = "0e9a4d3e-7f3f-4b42-9f7e-6f8d9b1c2a3b"

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:examples_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Update{}, &Example{}, &Entity{}, &TranslatedExample{}, &TranslatedEntity{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := NewStore(StoreConfig{
		Database:           db,
		SupportedLanguages: []string{"en", "pt", "es"},
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, db
}

func TestCurrentUpdateMaterializesOneGeneration(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	first, err := store.CurrentUpdate(ctx, testRepositoryUUID, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", first.Generation)
	}

	second, err := store.CurrentUpdate(ctx, testRepositoryUUID, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same update row, got %d and %d", first.ID, second.ID)
	}

	var total int64
	if err := db.Model(&Update{}).Count(&total).Error; err != nil {
		t.Fatalf("failed to count updates: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected a single update row, got %d", total)
	}
}

func TestCurrentUpdateIsScopedPerLanguage(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	english, err := store.CurrentUpdate(ctx, testRepositoryUUID, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	portuguese, err := store.CurrentUpdate(ctx, testRepositoryUUID, "pt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if english.ID == portuguese.ID {
		t.Fatalf("expected distinct update rows per language")
	}
}

func TestAddExampleDerivesEntityValues(t *testing.T) {
	store, _ := newTestStore(t)

	example, err := store.AddExample(context.Background(), testRepositoryUUID, "en", "",
		"hey Douglas", "greet", []EntitySpan{{Start: 4, End: 11, Label: "name"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(example.Entities) != 1 {
		t.Fatalf("expected one entity, got %d", len(example.Entities))
	}
	if example.Entities[0].Value != "Douglas" {
		t.Fatalf("expected derived value %q, got %q", "Douglas", example.Entities[0].Value)
	}
	if example.Update.Language != "en" {
		t.Fatalf("expected base language fallback, got %q", example.Update.Language)
	}
}

func TestAddExampleValidatesInput(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		language string
		text     string
		spans    []EntitySpan
		field    string
	}{
		{name: "unsupported language", language: "out", text: "hi", field: "language"},
		{name: "blank text", language: "en", text: "   ", field: "text"},
		{name: "span past text end", language: "en", text: "hi", spans: []EntitySpan{{Start: 0, End: 11, Label: "x"}}, field: "entities"},
		{name: "inverted span", language: "en", text: "hello there", spans: []EntitySpan{{Start: 5, End: 2, Label: "x"}}, field: "entities"},
		{name: "missing label", language: "en", text: "hello there", spans: []EntitySpan{{Start: 0, End: 5}}, field: "entities"},
	}
	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := store.AddExample(ctx, testRepositoryUUID, "en", testCase.language,
				testCase.text, "intent", testCase.spans)
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

func TestAddExampleCountsMultiByteTextInRunes(t *testing.T) {
	store, _ := newTestStore(t)

	example, err := store.AddExample(context.Background(), testRepositoryUUID, "pt", "pt",
		"olá João", "greet", []EntitySpan{{Start: 4, End: 8, Label: "name"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if example.Entities[0].Value != "João" {
		t.Fatalf("expected value %q, got %q", "João", example.Entities[0].Value)
	}
}

func TestDeleteExampleStampsTombstone(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	example, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "turn it off", "switch", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.DeleteExample(ctx, example); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if !example.Deleted() {
		t.Fatalf("expected tombstone after delete")
	}

	var stored Example
	if err := db.Take(&stored, example.ID).Error; err != nil {
		t.Fatalf("failed to reload example: %v", err)
	}
	if stored.DeletedInID == nil || *stored.DeletedInID != example.Update.ID {
		t.Fatalf("expected deletion stamped with the current update, got %v", stored.DeletedInID)
	}
}

func TestDeleteExampleTwiceReportsAlreadyDeleted(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	example, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "turn it off", "switch", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.DeleteExample(ctx, example); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := store.DeleteExample(ctx, example); !errors.Is(err, ErrExampleAlreadyDeleted) {
		t.Fatalf("expected ErrExampleAlreadyDeleted, got %v", err)
	}

	// A stale in-memory copy without the tombstone must also be refused.
	stale, err := store.ExampleByID(ctx, example.ID)
	if err != nil {
		t.Fatalf("unexpected reload error: %v", err)
	}
	stale.DeletedInID = nil
	if err := store.DeleteExample(ctx, stale); !errors.Is(err, ErrExampleAlreadyDeleted) {
		t.Fatalf("expected ErrExampleAlreadyDeleted for stale copy, got %v", err)
	}
}

func TestListSkipsDeletedExamples(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	kept, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "hello", "greet", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	removed, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "goodbye", "bye", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.DeleteExample(ctx, removed); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	results, total, err := store.List(ctx, testRepositoryUUID, ListFilter{Limit: 20})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if total != 1 || len(results) != 1 {
		t.Fatalf("expected one live example, got total=%d len=%d", total, len(results))
	}
	if results[0].ID != kept.ID {
		t.Fatalf("expected the live example, got id %d", results[0].ID)
	}
}

func TestListFiltersByTranslationPresence(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	translated, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "hello", "greet", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "goodbye", "bye", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Translate(ctx, translated, "pt", "olá", nil); err != nil {
		t.Fatalf("unexpected translate error: %v", err)
	}

	hasTranslation := true
	results, total, err := store.List(ctx, testRepositoryUUID, ListFilter{HasTranslation: &hasTranslation, Limit: 20})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if total != 1 || len(results) != 1 || results[0].ID != translated.ID {
		t.Fatalf("expected only the translated example, got total=%d", total)
	}

	hasTranslation = false
	_, total, err = store.List(ctx, testRepositoryUUID, ListFilter{HasTranslation: &hasTranslation, Limit: 20})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected one untranslated example, got %d", total)
	}
}

func TestListFiltersByIntentAndSearch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "turn the lights on", "switch_on", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "turn the lights off", "switch_off", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, total, err := store.List(ctx, testRepositoryUUID, ListFilter{Intent: "switch_on", Limit: 20})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected one example for intent, got %d", total)
	}

	_, total, err = store.List(ctx, testRepositoryUUID, ListFilter{Search: "lights", Limit: 20})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected two examples matching search, got %d", total)
	}
}

func TestTranslateRejectsSameLanguageAndDuplicates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	example, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "hello", "greet", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := store.Translate(ctx, example, "en", "hello again", nil); err == nil {
		t.Fatalf("expected same-language translation to be refused")
	}

	if _, err := store.Translate(ctx, example, "pt", "olá", nil); err != nil {
		t.Fatalf("unexpected translate error: %v", err)
	}
	_, err = store.Translate(ctx, example, "pt", "oi", nil)
	var fieldErrors errs.FieldErrors
	if !errors.As(err, &fieldErrors) {
		t.Fatalf("expected field errors for duplicate translation, got %v", err)
	}
	if len(fieldErrors[errs.NonFieldErrors]) == 0 {
		t.Fatalf("expected non-field error, got %v", fieldErrors)
	}
}

func TestTranslationEntitiesValidateAgainstTranslatedText(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	example, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "hey Douglas", "greet",
		[]EntitySpan{{Start: 4, End: 11, Label: "name"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	translation, err := store.Translate(ctx, example, "pt", "oi Douglas",
		[]EntitySpan{{Start: 3, End: 10, Label: "name"}})
	if err != nil {
		t.Fatalf("unexpected translate error: %v", err)
	}
	if translation.Entities[0].Value != "Douglas" {
		t.Fatalf("expected value %q, got %q", "Douglas", translation.Entities[0].Value)
	}

	if _, err := store.Translate(ctx, example, "es", "hola",
		[]EntitySpan{{Start: 3, End: 10, Label: "name"}}); err == nil {
		t.Fatalf("expected span past the translated text to be refused")
	}
}

func TestLanguagesStatusFoldsTranslations(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	example, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "hello", "greet", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "goodbye", "bye", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Translate(ctx, example, "pt", "olá", nil); err != nil {
		t.Fatalf("unexpected translate error: %v", err)
	}

	statuses, err := store.LanguagesStatus(ctx, testRepositoryUUID, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byLanguage := map[string]LanguageStatus{}
	for _, status := range statuses {
		byLanguage[status.Language] = status
	}
	if byLanguage["en"].ExamplesCount != 2 || !byLanguage["en"].IsBaseLanguage {
		t.Fatalf("unexpected base language status: %+v", byLanguage["en"])
	}
	if byLanguage["pt"].ExamplesCount != 1 || byLanguage["pt"].IsBaseLanguage {
		t.Fatalf("unexpected translated language status: %+v", byLanguage["pt"])
	}
}

func TestLanguagesStatusAlwaysIncludesBaseLanguage(t *testing.T) {
	store, _ := newTestStore(t)

	statuses, err := store.LanguagesStatus(context.Background(), testRepositoryUUID, "es")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Language != "es" || statuses[0].ExamplesCount != 0 {
		t.Fatalf("expected the empty base language row, got %+v", statuses)
	}
}

func TestRepositoryUUIDsWithLanguageCoversTranslations(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	example, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "hello", "greet", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Translate(ctx, example, "pt", "olá", nil); err != nil {
		t.Fatalf("unexpected translate error: %v", err)
	}

	uuids, err := store.RepositoryUUIDsWithLanguage(ctx, "pt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(uuids) != 1 || uuids[0] != testRepositoryUUID {
		t.Fatalf("expected the repository to match via translation, got %v", uuids)
	}
}

func TestPurgeRepositoryRemovesAllTrainingData(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	example, err := store.AddExample(ctx, testRepositoryUUID, "en", "en", "hey Douglas", "greet",
		[]EntitySpan{{Start: 4, End: 11, Label: "name"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Translate(ctx, example, "pt", "oi Douglas",
		[]EntitySpan{{Start: 3, End: 10, Label: "name"}}); err != nil {
		t.Fatalf("unexpected translate error: %v", err)
	}

	if err := store.PurgeRepository(ctx, testRepositoryUUID); err != nil {
		t.Fatalf("unexpected purge error: %v", err)
	}

	for _, model := range []interface{}{&Update{}, &Example{}, &Entity{}, &TranslatedExample{}, &TranslatedEntity{}} {
		var total int64
		if err := db.Model(model).Count(&total).Error; err != nil {
			t.Fatalf("failed to count rows: %v", err)
		}
		if total != 0 {
			t.Fatalf("expected no rows left for %T, got %d", model, total)
		}
	}
}
