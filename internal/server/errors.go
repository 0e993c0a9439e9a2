package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parleralab/parlera/backend/internal/authorization"
	"github.com/parleralab/parlera/backend/internal/errs"
	"github.com/parleralab/parlera/backend/internal/examples"
	"github.com/parleralab/parlera/backend/internal/repositories"
	"github.com/parleralab/parlera/backend/internal/users"
)

const (
	detailNotFound  = "Not found."
	detailForbidden = "You do not have permission to perform this action."
)

// renderError maps domain errors onto the documented status codes. Anything
// unrecognized is a 500 carrying the service error code.
func (h *httpHandler) renderError(c *gin.Context, err error) {
	var fieldErrors errs.FieldErrors
	if errors.As(err, &fieldErrors) {
		c.JSON(http.StatusBadRequest, fieldErrors)
		return
	}

	switch {
	case errors.Is(err, repositories.ErrRepositoryNotFound),
		errors.Is(err, users.ErrUserNotFound),
		errors.Is(err, examples.ErrExampleNotFound),
		errors.Is(err, examples.ErrTranslationNotFound),
		errors.Is(err, authorization.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
		return
	case errors.Is(err, authorization.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"detail": detailForbidden})
		return
	case errors.Is(err, examples.ErrExampleAlreadyDeleted):
		c.JSON(http.StatusConflict, gin.H{"error": "example_already_deleted"})
		return
	}

	var coded *errs.ServiceError
	if errors.As(err, &coded) {
		h.logger.Error("request failed", zap.String("code", coded.Code()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": coded.Code()})
		return
	}

	h.logger.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
