package authorization

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parleralab/parlera/backend/internal/errs"
	"github.com/parleralab/parlera/backend/internal/repositories"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrForbidden indicates the acting user's role is insufficient.
	ErrForbidden = errors.New("authorization: insufficient role")
	// ErrRequestNotFound indicates that no access request matches the id.
	ErrRequestNotFound = errors.New("authorization: access request not found")
)

const (
	opEngineNew     = "authorization.engine.new"
	opGetAuth       = "authorization.get_user_authorization"
	opCreateRequest = "authorization.create_request"
	opListRequests  = "authorization.list_requests"
	opApprove       = "authorization.approve"
	opReject        = "authorization.reject"
	opAvailable     = "authorization.available_request"
	opPurge         = "authorization.purge_repository"
)

// EngineConfig describes the dependencies for role resolution.
type EngineConfig struct {
	Database *gorm.DB
	// GrantRole is the role granted when an access request is approved.
	GrantRole Role
	Logger    *zap.Logger
}

// Engine resolves effective roles and runs the access-request workflow.
type Engine struct {
	db        *gorm.DB
	grantRole Role
	logger    *zap.Logger
}

// NewEngine constructs the authorization engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, errs.NewServiceError(opEngineNew, "missing_database", errMissingDatabase)
	}
	grantRole := cfg.GrantRole
	if grantRole == RoleNone {
		grantRole = RoleContributor
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{db: cfg.Database, grantRole: grantRole, logger: logger}, nil
}

// GetUserAuthorization returns the stored authorization for the pair,
// materializing a role-none row on first access. The owner always resolves
// to RoleOwner regardless of any stored value. The unique (repository, user)
// index plus an on-conflict no-op keeps concurrent first accesses from
// creating duplicate rows.
func (e *Engine) GetUserAuthorization(ctx context.Context, repository *repositories.Repository, userID uint) (*Authorization, error) {
	row := Authorization{
		UUID:           uuid.NewString(),
		RepositoryUUID: repository.UUID,
		UserID:         userID,
		Role:           RoleNone,
	}
	err := e.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "repository_uuid"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&row).Error
	if err != nil {
		e.logError(opGetAuth, "insert_failed", err, repository.UUID, userID)
		return nil, errs.NewServiceError(opGetAuth, "insert_failed", err)
	}

	var stored Authorization
	if err := e.db.WithContext(ctx).
		Where("repository_uuid = ? AND user_id = ?", repository.UUID, userID).
		Take(&stored).Error; err != nil {
		e.logError(opGetAuth, "reselect_failed", err, repository.UUID, userID)
		return nil, errs.NewServiceError(opGetAuth, "reselect_failed", err)
	}

	if repository.OwnerID == userID {
		stored.Role = RoleOwner
	}
	return &stored, nil
}

// ResolveRole returns the effective role without materializing a row for
// anonymous callers. A zero userID always resolves to RoleNone.
func (e *Engine) ResolveRole(ctx context.Context, repository *repositories.Repository, userID uint) (Role, error) {
	if userID == 0 {
		return RoleNone, nil
	}
	authorization, err := e.GetUserAuthorization(ctx, repository, userID)
	if err != nil {
		return RoleNone, err
	}
	return authorization.Role, nil
}

// SetRole stores an explicit role for the pair. The owner's resolved role is
// fixed and cannot be altered this way.
func (e *Engine) SetRole(ctx context.Context, repository *repositories.Repository, userID uint, role Role) (*Authorization, error) {
	authorization, err := e.GetUserAuthorization(ctx, repository, userID)
	if err != nil {
		return nil, err
	}
	if err := e.db.WithContext(ctx).Model(&Authorization{}).
		Where("uuid = ?", authorization.UUID).
		Update("role", role).Error; err != nil {
		e.logError(opGetAuth, "role_update_failed", err, repository.UUID, userID)
		return nil, errs.NewServiceError(opGetAuth, "role_update_failed", err)
	}
	authorization.Role = role
	if repository.OwnerID == userID {
		authorization.Role = RoleOwner
	}
	return authorization, nil
}

// CreateRequest opens a pending access request. Owners, users already
// holding a role, and users with an outstanding pending request are refused.
func (e *Engine) CreateRequest(ctx context.Context, repository *repositories.Repository, userID uint, text string) (*AccessRequest, error) {
	if repository.OwnerID == userID {
		return nil, errs.NewNonFieldError("The owner of the repository cannot request authorization.")
	}

	role, err := e.ResolveRole(ctx, repository, userID)
	if err != nil {
		return nil, err
	}
	if role != RoleNone {
		return nil, errs.NewNonFieldError("User already has authorization for this repository.")
	}

	var pending int64
	if err := e.db.WithContext(ctx).Model(&AccessRequest{}).
		Where("repository_uuid = ? AND user_id = ? AND approved_by_id IS NULL", repository.UUID, userID).
		Count(&pending).Error; err != nil {
		e.logError(opCreateRequest, "pending_lookup_failed", err, repository.UUID, userID)
		return nil, errs.NewServiceError(opCreateRequest, "pending_lookup_failed", err)
	}
	if pending > 0 {
		return nil, errs.NewNonFieldError("A pending authorization request for this repository already exists.")
	}

	request := AccessRequest{
		RepositoryUUID: repository.UUID,
		UserID:         userID,
		Text:           text,
	}
	if err := e.db.WithContext(ctx).Create(&request).Error; err != nil {
		e.logError(opCreateRequest, "insert_failed", err, repository.UUID, userID)
		return nil, errs.NewServiceError(opCreateRequest, "insert_failed", err)
	}
	return &request, nil
}

// PendingRequests lists the repository's pending requests for an owner or
// admin reviewer. Anyone else gets ErrForbidden.
func (e *Engine) PendingRequests(ctx context.Context, repository *repositories.Repository, reviewerID uint, limit, offset int) ([]AccessRequest, int64, error) {
	if err := e.requireAdmin(ctx, repository, reviewerID); err != nil {
		return nil, 0, err
	}

	query := e.db.WithContext(ctx).Model(&AccessRequest{}).
		Where("repository_uuid = ? AND approved_by_id IS NULL", repository.UUID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		e.logError(opListRequests, "count_failed", err, repository.UUID, reviewerID)
		return nil, 0, errs.NewServiceError(opListRequests, "count_failed", err)
	}

	var requests []AccessRequest
	if err := query.Order("created_at").Limit(limit).Offset(offset).
		Find(&requests).Error; err != nil {
		e.logError(opListRequests, "query_failed", err, repository.UUID, reviewerID)
		return nil, 0, errs.NewServiceError(opListRequests, "query_failed", err)
	}
	return requests, total, nil
}

// RequestByID fetches an access request.
func (e *Engine) RequestByID(ctx context.Context, id uint) (*AccessRequest, error) {
	var request AccessRequest
	err := e.db.WithContext(ctx).Take(&request, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		e.logError(opListRequests, "by_id_failed", err, "", 0)
		return nil, errs.NewServiceError(opListRequests, "by_id_failed", err)
	}
	return &request, nil
}

// Approve marks the request approved and grants the configured role to the
// requester. Approving an already approved request is a validation error.
func (e *Engine) Approve(ctx context.Context, request *AccessRequest, repository *repositories.Repository, approverID uint) (*AccessRequest, error) {
	if err := e.requireAdmin(ctx, repository, approverID); err != nil {
		return nil, err
	}
	if !request.Pending() {
		return nil, errs.NewNonFieldError("This authorization request was already approved.")
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&AccessRequest{}).
			Where("id = ? AND approved_by_id IS NULL", request.ID).
			Update("approved_by_id", approverID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errs.NewNonFieldError("This authorization request was already approved.")
		}
		return nil
	})
	if err != nil {
		var fieldErrors errs.FieldErrors
		if errors.As(err, &fieldErrors) {
			return nil, fieldErrors
		}
		e.logError(opApprove, "update_failed", err, repository.UUID, approverID)
		return nil, errs.NewServiceError(opApprove, "update_failed", err)
	}

	if _, err := e.SetRole(ctx, repository, request.UserID, e.grantRole); err != nil {
		return nil, err
	}

	approved := *request
	approved.ApprovedByID = &approverID
	return &approved, nil
}

// Reject removes the request outright; the user may request again later.
func (e *Engine) Reject(ctx context.Context, request *AccessRequest, repository *repositories.Repository, reviewerID uint) error {
	if err := e.requireAdmin(ctx, repository, reviewerID); err != nil {
		return err
	}
	if err := e.db.WithContext(ctx).Delete(&AccessRequest{}, request.ID).Error; err != nil {
		e.logError(opReject, "delete_failed", err, repository.UUID, reviewerID)
		return errs.NewServiceError(opReject, "delete_failed", err)
	}
	return nil
}

// AvailableRequestAuthorization reports whether the user could open an
// access request right now: not the owner, no held role, nothing pending.
func (e *Engine) AvailableRequestAuthorization(ctx context.Context, repository *repositories.Repository, userID uint) (bool, error) {
	if userID == 0 || repository.OwnerID == userID {
		return false, nil
	}
	role, err := e.ResolveRole(ctx, repository, userID)
	if err != nil {
		return false, err
	}
	if role != RoleNone {
		return false, nil
	}
	var pending int64
	if err := e.db.WithContext(ctx).Model(&AccessRequest{}).
		Where("repository_uuid = ? AND user_id = ? AND approved_by_id IS NULL", repository.UUID, userID).
		Count(&pending).Error; err != nil {
		e.logError(opAvailable, "pending_lookup_failed", err, repository.UUID, userID)
		return false, errs.NewServiceError(opAvailable, "pending_lookup_failed", err)
	}
	return pending == 0, nil
}

// PurgeRepository drops all authorization rows and requests for a deleted
// repository.
func (e *Engine) PurgeRepository(ctx context.Context, repositoryUUID string) error {
	if err := e.db.WithContext(ctx).
		Where("repository_uuid = ?", repositoryUUID).
		Delete(&AccessRequest{}).Error; err != nil {
		e.logError(opPurge, "requests_failed", err, repositoryUUID, 0)
		return errs.NewServiceError(opPurge, "requests_failed", err)
	}
	if err := e.db.WithContext(ctx).
		Where("repository_uuid = ?", repositoryUUID).
		Delete(&Authorization{}).Error; err != nil {
		e.logError(opPurge, "authorizations_failed", err, repositoryUUID, 0)
		return errs.NewServiceError(opPurge, "authorizations_failed", err)
	}
	return nil
}

func (e *Engine) requireAdmin(ctx context.Context, repository *repositories.Repository, userID uint) error {
	if userID == 0 {
		return ErrForbidden
	}
	role, err := e.ResolveRole(ctx, repository, userID)
	if err != nil {
		return err
	}
	if !role.CanAdminister() {
		return ErrForbidden
	}
	return nil
}

func (e *Engine) logError(operation, reason string, err error, repositoryUUID string, userID uint) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if repositoryUUID != "" {
		attrs = append(attrs, zap.String("repository_uuid", repositoryUUID))
	}
	if userID != 0 {
		attrs = append(attrs, zap.Uint("user_id", userID))
	}
	e.logger.Error("authorization engine error", attrs...)
}
