package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultResetTokenTTL = 30 * time.Minute

	resetTokenIssuer   = "parlera-auth"
	resetTokenAudience = "parlera-password-reset"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// ResetTokenIssuerConfig configures the password-reset token issuer.
type ResetTokenIssuerConfig struct {
	SigningSecret []byte
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// ResetTokenIssuer mints and validates short-lived HS256 tokens that prove
// control of an account email during a password reset.
type ResetTokenIssuer struct {
	config ResetTokenIssuerConfig
	clock  func() time.Time
}

// NewResetTokenIssuer constructs a ResetTokenIssuer with sane defaults.
func NewResetTokenIssuer(cfg ResetTokenIssuerConfig) *ResetTokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultResetTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ResetTokenIssuer{
		config: ResetTokenIssuerConfig{
			SigningSecret: cfg.SigningSecret,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

// IssueResetToken produces a signed token whose subject is the account email.
func (i *ResetTokenIssuer) IssueResetToken(email string) (string, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", errMissingSigningSecret
	}
	if email == "" {
		return "", errMissingSubjectClaim
	}

	now := i.clock().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		Issuer:    resetTokenIssuer,
		Audience:  []string{resetTokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.config.TokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.config.SigningSecret)
}

// ValidateResetToken ensures the token is well formed and unexpired and
// returns the account email it was issued for.
func (i *ResetTokenIssuer) ValidateResetToken(tokenString string) (string, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", errMissingSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(resetTokenAudience),
		jwt.WithIssuer(resetTokenIssuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
