package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/parleralab/parlera/backend/internal/authorization"
	"github.com/parleralab/parlera/backend/internal/errs"
	"github.com/parleralab/parlera/backend/internal/repositories"
)

type requestAuthorizationPayload struct {
	Repository string `json:"repository"`
	Text       string `json:"text"`
}

func (h *httpHandler) handleRequestAuthorization(c *gin.Context) {
	var request requestAuthorizationPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errs.NewNonFieldError("Invalid request body."))
		return
	}
	if strings.TrimSpace(request.Repository) == "" {
		c.JSON(http.StatusBadRequest, errs.NewFieldError("repository", "This field is required."))
		return
	}

	repository, _, ok := h.visibleRepository(c, request.Repository, false)
	if !ok {
		return
	}

	created, err := h.authorization.CreateRequest(c.Request.Context(), repository, h.currentUserID(c), request.Text)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, accessRequestPayload(created))
}

func (h *httpHandler) handleAuthorizationRequests(c *gin.Context) {
	raw := c.Query("repository_uuid")
	if raw == "" {
		c.JSON(http.StatusBadRequest, errs.NewFieldError("repository_uuid", "This field is required."))
		return
	}
	repository, _, ok := h.visibleRepository(c, raw, false)
	if !ok {
		return
	}

	params := h.parsePageParams(c)
	requests, total, err := h.authorization.PendingRequests(
		c.Request.Context(), repository, h.currentUserID(c), params.Limit, params.Offset)
	if err != nil {
		h.renderError(c, err)
		return
	}

	payloads := make([]gin.H, 0, len(requests))
	for index := range requests {
		payloads = append(payloads, accessRequestPayload(&requests[index]))
	}
	paginated(c, params, total, payloads)
}

func (h *httpHandler) handleApproveRequest(c *gin.Context) {
	request, repository, ok := h.reviewableRequest(c)
	if !ok {
		return
	}
	approved, err := h.authorization.Approve(c.Request.Context(), request, repository, h.currentUserID(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, accessRequestPayload(approved))
}

func (h *httpHandler) handleRejectRequest(c *gin.Context) {
	request, repository, ok := h.reviewableRequest(c)
	if !ok {
		return
	}
	if err := h.authorization.Reject(c.Request.Context(), request, repository, h.currentUserID(c)); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// reviewableRequest loads the access request behind :id together with its
// repository. Role checks stay with the engine.
func (h *httpHandler) reviewableRequest(c *gin.Context) (*authorization.AccessRequest, *repositories.Repository, bool) {
	id, ok := parseIDParam(c)
	if !ok {
		return nil, nil, false
	}
	request, err := h.authorization.RequestByID(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return nil, nil, false
	}
	repository, _, ok := h.visibleRepository(c, request.RepositoryUUID, true)
	if !ok {
		return nil, nil, false
	}
	return request, repository, true
}

func accessRequestPayload(request *authorization.AccessRequest) gin.H {
	return gin.H{
		"id":          request.ID,
		"repository":  request.RepositoryUUID,
		"user":        request.UserID,
		"text":        request.Text,
		"approved_by": request.ApprovedByID,
		"created_at":  request.CreatedAt,
	}
}
