package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/parleralab/parlera/backend/internal/authorization"
	"github.com/parleralab/parlera/backend/internal/errs"
	"github.com/parleralab/parlera/backend/internal/repositories"
)

type repositoryCreatePayload struct {
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	Language   string `json:"language"`
	IsPrivate  bool   `json:"is_private"`
	Categories []uint `json:"categories"`
}

func (h *httpHandler) handleNewRepository(c *gin.Context) {
	var request repositoryCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errs.NewNonFieldError("Invalid request body."))
		return
	}

	repository, err := h.repositories.Create(c.Request.Context(), h.currentUserID(c), repositories.CreateInput{
		Slug:        request.Slug,
		Name:        request.Name,
		Language:    request.Language,
		IsPrivate:   request.IsPrivate,
		CategoryIDs: request.Categories,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, repositoryPayload(repository))
}

func (h *httpHandler) handleListRepositories(c *gin.Context) {
	params := h.parsePageParams(c)
	filter := repositories.ListFilter{
		Name:   c.Query("name"),
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	if raw := c.Query("categories"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			filter.CategoryID = uint(id)
		}
	}
	if language := strings.ToLower(strings.TrimSpace(c.Query("language"))); language != "" {
		filter.Language = language
		extra, err := h.examples.RepositoryUUIDsWithLanguage(c.Request.Context(), language)
		if err != nil {
			h.renderError(c, err)
			return
		}
		filter.LanguageExtraUUIDs = extra
	}

	results, total, err := h.repositories.List(c.Request.Context(), filter)
	if err != nil {
		h.renderError(c, err)
		return
	}
	paginated(c, params, total, repositoryPayloads(results))
}

func (h *httpHandler) handleMyRepositories(c *gin.Context) {
	params := h.parsePageParams(c)
	results, total, err := h.repositories.List(c.Request.Context(), repositories.ListFilter{
		OwnerID: h.currentUserID(c),
		Limit:   params.Limit,
		Offset:  params.Offset,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}
	paginated(c, params, total, repositoryPayloads(results))
}

func (h *httpHandler) handleGetRepository(c *gin.Context) {
	repository, _, ok := h.visibleRepository(c, c.Param("uuid"), true)
	if !ok {
		return
	}

	payload := repositoryPayload(repository)
	payload["authorization"] = nil
	payload["available_request_authorization"] = false

	if user := h.currentUser(c); user != nil {
		grant, err := h.authorization.GetUserAuthorization(c.Request.Context(), repository, user.ID)
		if err != nil {
			h.renderError(c, err)
			return
		}
		payload["authorization"] = gin.H{
			"uuid": grant.UUID,
			"role": grant.Role.String(),
		}
		available, err := h.authorization.AvailableRequestAuthorization(c.Request.Context(), repository, user.ID)
		if err != nil {
			h.renderError(c, err)
			return
		}
		payload["available_request_authorization"] = available
	}

	c.JSON(http.StatusOK, payload)
}

type repositoryUpdatePayload struct {
	Slug       *string `json:"slug"`
	Name       *string `json:"name"`
	Language   *string `json:"language"`
	IsPrivate  *bool   `json:"is_private"`
	Categories *[]uint `json:"categories"`
}

func (h *httpHandler) handleUpdateRepository(c *gin.Context) {
	repository, role, ok := h.visibleRepository(c, c.Param("uuid"), true)
	if !ok {
		return
	}
	if !role.CanAdminister() {
		c.JSON(http.StatusForbidden, gin.H{"detail": detailForbidden})
		return
	}

	var request repositoryUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errs.NewNonFieldError("Invalid request body."))
		return
	}

	updated, err := h.repositories.Update(c.Request.Context(), repository, repositories.UpdateInput{
		Slug:        request.Slug,
		Name:        request.Name,
		Language:    request.Language,
		IsPrivate:   request.IsPrivate,
		CategoryIDs: request.Categories,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, repositoryPayload(updated))
}

func (h *httpHandler) handleDeleteRepository(c *gin.Context) {
	repository, role, ok := h.visibleRepository(c, c.Param("uuid"), true)
	if !ok {
		return
	}
	if !role.CanAdminister() {
		c.JSON(http.StatusForbidden, gin.H{"detail": detailForbidden})
		return
	}

	ctx := c.Request.Context()
	if err := h.examples.PurgeRepository(ctx, repository.UUID); err != nil {
		h.renderError(c, err)
		return
	}
	if err := h.authorization.PurgeRepository(ctx, repository.UUID); err != nil {
		h.renderError(c, err)
		return
	}
	if err := h.repositories.Delete(ctx, repository); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleLanguagesStatus(c *gin.Context) {
	repository, _, ok := h.visibleRepository(c, c.Param("uuid"), true)
	if !ok {
		return
	}
	statuses, err := h.examples.LanguagesStatus(c.Request.Context(), repository.UUID, repository.Language)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"languages_status": statuses})
}

func (h *httpHandler) handleListCategories(c *gin.Context) {
	categories, err := h.repositories.AllCategories(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}
	results := make([]gin.H, 0, len(categories))
	for _, category := range categories {
		results = append(results, gin.H{"id": category.ID, "name": category.Name})
	}
	c.JSON(http.StatusOK, results)
}

// visibleRepository resolves a repository reference and enforces the
// visibility rule: private repositories answer 401 to anonymous callers and
// 404 to users without a role, never revealing their existence. When
// malformedAsNotFound is false a malformed uuid is reported as a field
// validation error instead of a 404 (query/body references).
func (h *httpHandler) visibleRepository(c *gin.Context, raw string, malformedAsNotFound bool) (*repositories.Repository, authorization.Role, bool) {
	repository, err := h.repositories.ByUUID(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, repositories.ErrMalformedUUID) {
			if malformedAsNotFound {
				c.JSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
			} else {
				c.JSON(http.StatusBadRequest, errs.NewFieldError("repository_uuid", "Enter a valid UUID."))
			}
			return nil, authorization.RoleNone, false
		}
		h.renderError(c, err)
		return nil, authorization.RoleNone, false
	}

	user := h.currentUser(c)
	role := authorization.RoleNone
	if user != nil {
		resolved, err := h.authorization.ResolveRole(c.Request.Context(), repository, user.ID)
		if err != nil {
			h.renderError(c, err)
			return nil, authorization.RoleNone, false
		}
		role = resolved
	}

	if repository.IsPrivate && !role.CanRead() {
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": errAuthenticationMissing.Error()})
		} else {
			c.JSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
		}
		return nil, authorization.RoleNone, false
	}

	return repository, role, true
}

func repositoryPayload(repository *repositories.Repository) gin.H {
	return gin.H{
		"uuid":       repository.UUID,
		"owner":      repository.OwnerID,
		"slug":       repository.Slug,
		"name":       repository.Name,
		"language":   repository.Language,
		"is_private": repository.IsPrivate,
		"categories": repository.CategoryIDs(),
		"created_at": repository.CreatedAt,
	}
}

func repositoryPayloads(results []repositories.Repository) []gin.H {
	payloads := make([]gin.H, 0, len(results))
	for index := range results {
		payloads = append(payloads, repositoryPayload(&results[index]))
	}
	return payloads
}
