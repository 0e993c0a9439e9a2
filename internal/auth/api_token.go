package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parleralab/parlera/backend/internal/errs"
	"github.com/parleralab/parlera/backend/internal/users"
)

var (
	errMissingDatabase = errors.New("database handle is required")

	// ErrInvalidToken indicates that the presented key matches no account.
	ErrInvalidToken = errors.New("auth: invalid token")
)

const (
	opTokenStoreNew = "auth.token_store.new"
	opIssue         = "auth.token.issue"
	opResolve       = "auth.token.resolve"
)

// APIToken is the durable opaque credential presented as
// "Authorization: Token <key>". Each account holds exactly one.
type APIToken struct {
	Key       string    `gorm:"column:key;primaryKey;size:64;not null"`
	UserID    uint      `gorm:"column:user_id;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (APIToken) TableName() string {
	return "api_tokens"
}

// TokenStoreConfig describes the dependencies for token handling.
type TokenStoreConfig struct {
	Database *gorm.DB
	Users    *users.Service
	Logger   *zap.Logger
}

// TokenStore issues and resolves opaque API tokens, caching resolved keys
// in process to keep the per-request lookup off the hot path.
type TokenStore struct {
	db     *gorm.DB
	users  *users.Service
	logger *zap.Logger
	cache  sync.Map
}

// NewTokenStore constructs the token store.
func NewTokenStore(cfg TokenStoreConfig) (*TokenStore, error) {
	if cfg.Database == nil {
		return nil, errs.NewServiceError(opTokenStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.Users == nil {
		return nil, errs.NewServiceError(opTokenStoreNew, "missing_users", errors.New("users service is required"))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenStore{db: cfg.Database, users: cfg.Users, logger: logger}, nil
}

// Issue returns the account's token, creating one on first use. The unique
// index on user_id makes concurrent first issues collapse onto a single row.
func (s *TokenStore) Issue(ctx context.Context, userID uint) (*APIToken, error) {
	token := APIToken{
		Key:    uuid.NewString(),
		UserID: userID,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&token).Error
	if err != nil {
		s.logger.Error("token issue failed",
			zap.String("operation", opIssue), zap.Uint("user_id", userID), zap.Error(err))
		return nil, errs.NewServiceError(opIssue, "insert_failed", err)
	}

	var stored APIToken
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&stored).Error; err != nil {
		s.logger.Error("token reselect failed",
			zap.String("operation", opIssue), zap.Uint("user_id", userID), zap.Error(err))
		return nil, errs.NewServiceError(opIssue, "reselect_failed", err)
	}
	return &stored, nil
}

// Resolve maps a presented key to its account. Unknown keys return
// ErrInvalidToken.
func (s *TokenStore) Resolve(ctx context.Context, key string) (*users.User, error) {
	if key == "" {
		return nil, ErrInvalidToken
	}

	if cached, ok := s.cache.Load(key); ok {
		if userID, ok := cached.(uint); ok {
			return s.users.ByID(ctx, userID)
		}
	}

	var token APIToken
	err := s.db.WithContext(ctx).
		Where("key = ?", key).
		Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		s.logger.Error("token lookup failed",
			zap.String("operation", opResolve), zap.Error(err))
		return nil, errs.NewServiceError(opResolve, "lookup_failed", err)
	}

	s.cache.Store(key, token.UserID)
	return s.users.ByID(ctx, token.UserID)
}
