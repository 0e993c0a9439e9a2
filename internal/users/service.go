package users

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/parleralab/parlera/backend/internal/errs"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrUserNotFound indicates that no account matches the given identifier.
	ErrUserNotFound = errors.New("users: user not found")
)

const (
	opServiceNew     = "users.service.new"
	opRegister       = "users.register"
	opAuthenticate   = "users.authenticate"
	opChangePassword = "users.change_password"
	opResetPassword  = "users.reset_password"
	opLookup         = "users.lookup"
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service manages account registration and credential checks.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errs.NewServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// RegisterInput carries the fields accepted at account creation.
type RegisterInput struct {
	Email    string
	Nickname string
	Name     string
	Password string
}

// Register validates the input and creates a new account with a bcrypt hash.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*User, error) {
	fieldErrors := errs.FieldErrors{}

	email := normalizeEmail(input.Email)
	if email == "" || !strings.Contains(email, "@") {
		fieldErrors.Add("email", "Enter a valid email address.")
	}
	nickname := strings.TrimSpace(input.Nickname)
	if nickname == "" || !nicknameRe.MatchString(nickname) {
		fieldErrors.Add("nickname", "Enter a valid nickname using letters, numbers, underscores and hyphens.")
	}
	if len(input.Password) < minPasswordLength {
		fieldErrors.Add("password", "Password must be at least 6 characters long.")
	}
	if len(fieldErrors) > 0 {
		return nil, fieldErrors
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).
		Where("email = ?", email).Count(&count).Error; err != nil {
		s.logError(opRegister, "email_lookup_failed", err)
		return nil, errs.NewServiceError(opRegister, "email_lookup_failed", err)
	}
	if count > 0 {
		return nil, errs.NewFieldError("email", "A user with this email already exists.")
	}
	if err := s.db.WithContext(ctx).Model(&User{}).
		Where("nickname = ?", nickname).Count(&count).Error; err != nil {
		s.logError(opRegister, "nickname_lookup_failed", err)
		return nil, errs.NewServiceError(opRegister, "nickname_lookup_failed", err)
	}
	if count > 0 {
		return nil, errs.NewFieldError("nickname", "A user with this nickname already exists.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logError(opRegister, "hash_failed", err)
		return nil, errs.NewServiceError(opRegister, "hash_failed", err)
	}

	user := User{
		Email:        email,
		Nickname:     nickname,
		Name:         strings.TrimSpace(input.Name),
		PasswordHash: string(hash),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		s.logError(opRegister, "insert_failed", err)
		return nil, errs.NewServiceError(opRegister, "insert_failed", err)
	}
	return &user, nil
}

// Authenticate checks the email/password pair and returns the matching account.
// Bad credentials are reported as a validation error without revealing which
// half was wrong.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("email = ?", normalizeEmail(email)).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NewNonFieldError("Unable to log in with provided credentials.")
	}
	if err != nil {
		s.logError(opAuthenticate, "lookup_failed", err)
		return nil, errs.NewServiceError(opAuthenticate, "lookup_failed", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, errs.NewNonFieldError("Unable to log in with provided credentials.")
	}
	return &user, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID uint, current, next string) error {
	user, err := s.ByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return errs.NewFieldError("current_password", "Wrong password.")
	}
	return s.setPassword(ctx, user, next, opChangePassword)
}

// ResetPassword replaces the password for the account behind a validated
// reset token. The caller is responsible for token validation.
func (s *Service) ResetPassword(ctx context.Context, email, next string) error {
	user, err := s.ByEmail(ctx, email)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, user, next, opResetPassword)
}

func (s *Service) setPassword(ctx context.Context, user *User, password, operation string) error {
	if len(password) < minPasswordLength {
		return errs.NewFieldError("password", "Password must be at least 6 characters long.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.logError(operation, "hash_failed", err)
		return errs.NewServiceError(operation, "hash_failed", err)
	}
	if err := s.db.WithContext(ctx).Model(user).
		Update("password_hash", string(hash)).Error; err != nil {
		s.logError(operation, "update_failed", err, zap.Uint("user_id", user.ID))
		return errs.NewServiceError(operation, "update_failed", err)
	}
	return nil
}

// ByID fetches an account by primary key.
func (s *Service) ByID(ctx context.Context, id uint) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Take(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		s.logError(opLookup, "by_id_failed", err, zap.Uint("user_id", id))
		return nil, errs.NewServiceError(opLookup, "by_id_failed", err)
	}
	return &user, nil
}

// ByEmail fetches an account by normalized email.
func (s *Service) ByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("email = ?", normalizeEmail(email)).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		s.logError(opLookup, "by_email_failed", err)
		return nil, errs.NewServiceError(opLookup, "by_email_failed", err)
	}
	return &user, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}
