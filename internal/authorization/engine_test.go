package authorization

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/parleralab/parlera/backend/internal/errs"
	"github.com/parleralab/parlera/backend/internal/repositories"
)

const (
	ownerID     uint = 1
	requesterID uint = 2
	strangerID  uint = 3
)

func newTestEngine(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:authorization_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Authorization{}, &AccessRequest{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	engine, err := NewEngine(EngineConfig{
		Database:  db,
		GrantRole: RoleContributor,
	})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	return engine, db
}

func testRepository() *repositories.Repository {
	return &repositories.Repository{
		UUID:     "5b2c1d0a-9e8f-4a7b-b6c5-d4e3f2a1b0c9",
		OwnerID:  ownerID,
		Slug:     "smart-home",
		Name:     "Smart Home",
		Language: "en",
	}
}

func TestOwnerAlwaysResolvesAsOwner(t *testing.T) {
	engine, _ := newTestEngine(t)
	repository := testRepository()

	grant, err := engine.GetUserAuthorization(context.Background(), repository, ownerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grant.Role != RoleOwner {
		t.Fatalf("expected owner role, got %s", grant.Role)
	}
}

func TestGetUserAuthorizationMaterializesSingleRow(t *testing.T) {
	engine, db := newTestEngine(t)
	repository := testRepository()
	ctx := context.Background()

	first, err := engine.GetUserAuthorization(ctx, repository, strangerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Role != RoleNone {
		t.Fatalf("expected role none on first access, got %s", first.Role)
	}

	second, err := engine.GetUserAuthorization(ctx, repository, strangerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.UUID != first.UUID {
		t.Fatalf("expected the same authorization row, got %s and %s", first.UUID, second.UUID)
	}

	var total int64
	if err := db.Model(&Authorization{}).Count(&total).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected a single authorization row, got %d", total)
	}
}

func TestResolveRoleIsAnonymousSafe(t *testing.T) {
	engine, db := newTestEngine(t)

	role, err := engine.ResolveRole(context.Background(), testRepository(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role != RoleNone {
		t.Fatalf("expected role none for anonymous, got %s", role)
	}

	var total int64
	if err := db.Model(&Authorization{}).Count(&total).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if total != 0 {
		t.Fatalf("anonymous resolution must not materialize rows, got %d", total)
	}
}

func TestCreateRequestRefusesOwnerAndHolders(t *testing.T) {
	engine, _ := newTestEngine(t)
	repository := testRepository()
	ctx := context.Background()

	if _, err := engine.CreateRequest(ctx, repository, ownerID, "let me in"); err == nil {
		t.Fatalf("expected owner request to be refused")
	}

	if _, err := engine.SetRole(ctx, repository, strangerID, RoleContributor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := engine.CreateRequest(ctx, repository, strangerID, "let me in")
	var fieldErrors errs.FieldErrors
	if !errors.As(err, &fieldErrors) {
		t.Fatalf("expected field errors for existing role, got %v", err)
	}
}

func TestCreateRequestRefusesDuplicatePending(t *testing.T) {
	engine, _ := newTestEngine(t)
	repository := testRepository()
	ctx := context.Background()

	if _, err := engine.CreateRequest(ctx, repository, requesterID, "let me in"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := engine.CreateRequest(ctx, repository, requesterID, "again")
	var fieldErrors errs.FieldErrors
	if !errors.As(err, &fieldErrors) {
		t.Fatalf("expected field errors for duplicate pending request, got %v", err)
	}
	if len(fieldErrors[errs.NonFieldErrors]) == 0 {
		t.Fatalf("expected non-field error, got %v", fieldErrors)
	}
}

func TestPendingRequestsRequiresAdmin(t *testing.T) {
	engine, _ := newTestEngine(t)
	repository := testRepository()
	ctx := context.Background()

	if _, err := engine.CreateRequest(ctx, repository, requesterID, "let me in"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, _, err := engine.PendingRequests(ctx, repository, strangerID, 20, 0); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}
	if _, _, err := engine.PendingRequests(ctx, repository, requesterID, 20, 0); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for requester, got %v", err)
	}

	requests, total, err := engine.PendingRequests(ctx, repository, ownerID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(requests) != 1 {
		t.Fatalf("expected one pending request, got total=%d len=%d", total, len(requests))
	}
}

func TestApproveGrantsConfiguredRole(t *testing.T) {
	engine, _ := newTestEngine(t)
	repository := testRepository()
	ctx := context.Background()

	request, err := engine.CreateRequest(ctx, repository, requesterID, "let me in")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	approved, err := engine.Approve(ctx, request, repository, ownerID)
	if err != nil {
		t.Fatalf("unexpected approve error: %v", err)
	}
	if approved.ApprovedByID == nil || *approved.ApprovedByID != ownerID {
		t.Fatalf("expected approval stamped with the approver, got %v", approved.ApprovedByID)
	}

	role, err := engine.ResolveRole(ctx, repository, requesterID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role != RoleContributor {
		t.Fatalf("expected granted contributor role, got %s", role)
	}

	_, total, err := engine.PendingRequests(ctx, repository, ownerID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 {
		t.Fatalf("approved request must leave the pending list, got %d", total)
	}
}

func TestApproveTwiceIsAValidationError(t *testing.T) {
	engine, _ := newTestEngine(t)
	repository := testRepository()
	ctx := context.Background()

	request, err := engine.CreateRequest(ctx, repository, requesterID, "let me in")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	approved, err := engine.Approve(ctx, request, repository, ownerID)
	if err != nil {
		t.Fatalf("unexpected approve error: %v", err)
	}

	_, err = engine.Approve(ctx, approved, repository, ownerID)
	var fieldErrors errs.FieldErrors
	if !errors.As(err, &fieldErrors) {
		t.Fatalf("expected field errors for double approval, got %v", err)
	}

	// A reloaded copy without the in-memory stamp hits the guarded update.
	reloaded, err := engine.RequestByID(ctx, request.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reloaded.ApprovedByID = nil
	if _, err := engine.Approve(ctx, reloaded, repository, ownerID); !errors.As(err, &fieldErrors) {
		t.Fatalf("expected field errors for stale double approval, got %v", err)
	}
}

func TestRejectRemovesRequestAndAllowsRetry(t *testing.T) {
	engine, _ := newTestEngine(t)
	repository := testRepository()
	ctx := context.Background()

	request, err := engine.CreateRequest(ctx, repository, requesterID, "let me in")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := engine.Reject(ctx, request, repository, strangerID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}
	if err := engine.Reject(ctx, request, repository, ownerID); err != nil {
		t.Fatalf("unexpected reject error: %v", err)
	}
	if _, err := engine.RequestByID(ctx, request.ID); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected the request to be gone, got %v", err)
	}
	if _, err := engine.CreateRequest(ctx, repository, requesterID, "once more"); err != nil {
		t.Fatalf("expected a fresh request after rejection: %v", err)
	}
}

func TestAvailableRequestAuthorization(t *testing.T) {
	engine, _ := newTestEngine(t)
	repository := testRepository()
	ctx := context.Background()

	check := func(userID uint, want bool, stage string) {
		t.Helper()
		available, err := engine.AvailableRequestAuthorization(ctx, repository, userID)
		if err != nil {
			t.Fatalf("unexpected error at %s: %v", stage, err)
		}
		if available != want {
			t.Fatalf("expected available=%v at %s", want, stage)
		}
	}

	check(0, false, "anonymous")
	check(ownerID, false, "owner")
	check(requesterID, true, "fresh user")

	request, err := engine.CreateRequest(ctx, repository, requesterID, "let me in")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	check(requesterID, false, "pending request")

	if _, err := engine.Approve(ctx, request, repository, ownerID); err != nil {
		t.Fatalf("unexpected approve error: %v", err)
	}
	check(requesterID, false, "granted role")
}

func TestPurgeRepositoryDropsRowsAndRequests(t *testing.T) {
	engine, db := newTestEngine(t)
	repository := testRepository()
	ctx := context.Background()

	if _, err := engine.CreateRequest(ctx, repository, requesterID, "let me in"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := engine.SetRole(ctx, repository, strangerID, RoleAdmin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := engine.PurgeRepository(ctx, repository.UUID); err != nil {
		t.Fatalf("unexpected purge error: %v", err)
	}
	for _, model := range []interface{}{&Authorization{}, &AccessRequest{}} {
		var total int64
		if err := db.Model(model).Count(&total).Error; err != nil {
			t.Fatalf("failed to count rows: %v", err)
		}
		if total != 0 {
			t.Fatalf("expected no rows left for %T, got %d", model, total)
		}
	}
}
