package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parleralab/parlera/backend/internal/errs"
	"github.com/parleralab/parlera/backend/internal/users"
)

type registerPayload struct {
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errs.NewNonFieldError("Invalid request body."))
		return
	}

	user, err := h.users.Register(c.Request.Context(), users.RegisterInput{
		Email:    request.Email,
		Nickname: request.Nickname,
		Name:     request.Name,
		Password: request.Password,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}

	token, err := h.tokens.Issue(c.Request.Context(), user.ID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":    token.Key,
		"email":    user.Email,
		"nickname": user.Nickname,
		"name":     user.Name,
	})
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errs.NewNonFieldError("Invalid request body."))
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.renderError(c, err)
		return
	}

	token, err := h.tokens.Issue(c.Request.Context(), user.ID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token.Key})
}

type changePasswordPayload struct {
	CurrentPassword string `json:"current_password"`
	Password        string `json:"password"`
}

func (h *httpHandler) handleChangePassword(c *gin.Context) {
	var request changePasswordPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errs.NewNonFieldError("Invalid request body."))
		return
	}

	err := h.users.ChangePassword(c.Request.Context(), h.currentUserID(c), request.CurrentPassword, request.Password)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type forgotPasswordPayload struct {
	Email string `json:"email"`
}

// handleForgotPassword always answers 204 so account existence is not
// revealed. Mail delivery is out of scope; the reset token is logged for
// the operator to relay.
func (h *httpHandler) handleForgotPassword(c *gin.Context) {
	var request forgotPasswordPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Email == "" {
		c.JSON(http.StatusBadRequest, errs.NewFieldError("email", "This field is required."))
		return
	}

	user, err := h.users.ByEmail(c.Request.Context(), request.Email)
	if err != nil {
		if !errors.Is(err, users.ErrUserNotFound) {
			h.renderError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
		return
	}

	token, err := h.resetTokens.IssueResetToken(user.Email)
	if err != nil {
		h.renderError(c, err)
		return
	}
	h.logger.Info("password reset token issued",
		zap.String("email", user.Email), zap.String("reset_token", token))
	c.Status(http.StatusNoContent)
}

type resetPasswordPayload struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *httpHandler) handleResetPassword(c *gin.Context) {
	var request resetPasswordPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errs.NewNonFieldError("Invalid request body."))
		return
	}

	email, err := h.resetTokens.ValidateResetToken(request.Token)
	if err != nil {
		c.JSON(http.StatusBadRequest, errs.NewFieldError("token", "Invalid or expired token."))
		return
	}
	if err := h.users.ResetPassword(c.Request.Context(), email, request.Password); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleMyProfile(c *gin.Context) {
	user := h.currentUser(c)
	c.JSON(http.StatusOK, gin.H{
		"id":       user.ID,
		"email":    user.Email,
		"nickname": user.Nickname,
		"name":     user.Name,
	})
}
