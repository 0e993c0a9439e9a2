package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/parleralab/parlera/backend/internal/authorization"
	"github.com/parleralab/parlera/backend/internal/errs"
	"github.com/parleralab/parlera/backend/internal/examples"
)

type entitySpanPayload struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Entity string `json:"entity"`
}

func spansFromPayload(payloads []entitySpanPayload) []examples.EntitySpan {
	spans := make([]examples.EntitySpan, 0, len(payloads))
	for _, payload := range payloads {
		spans = append(spans, examples.EntitySpan{
			Start: payload.Start,
			End:   payload.End,
			Label: payload.Entity,
		})
	}
	return spans
}

type newExamplePayload struct {
	RepositoryUUID string              `json:"repository_uuid"`
	Text           string              `json:"text"`
	Intent         string              `json:"intent"`
	Language       string              `json:"language"`
	Entities       []entitySpanPayload `json:"entities"`
}

func (h *httpHandler) handleNewExample(c *gin.Context) {
	var request newExamplePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errs.NewNonFieldError("Invalid request body."))
		return
	}
	if strings.TrimSpace(request.RepositoryUUID) == "" {
		c.JSON(http.StatusBadRequest, errs.NewFieldError("repository_uuid", "This field is required."))
		return
	}

	repository, role, ok := h.visibleRepository(c, request.RepositoryUUID, false)
	if !ok {
		return
	}
	if !role.CanContribute() {
		c.JSON(http.StatusForbidden, gin.H{"detail": detailForbidden})
		return
	}

	example, err := h.examples.AddExample(
		c.Request.Context(),
		repository.UUID,
		repository.Language,
		request.Language,
		request.Text,
		request.Intent,
		spansFromPayload(request.Entities),
	)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, examplePayload(example))
}

func (h *httpHandler) handleGetExample(c *gin.Context) {
	example, _, ok := h.visibleExample(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, examplePayload(example))
}

func (h *httpHandler) handleDeleteExample(c *gin.Context) {
	example, role, ok := h.visibleExample(c)
	if !ok {
		return
	}
	if !role.CanContribute() {
		c.JSON(http.StatusForbidden, gin.H{"detail": detailForbidden})
		return
	}

	if err := h.examples.DeleteExample(c.Request.Context(), example); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListExamples(c *gin.Context) {
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
	filter := examples.ListFilter{
		Language: strings.ToLower(strings.TrimSpace(c.Query("language"))),
		Intent:   c.Query("intent"),
		Search:   c.Query("search"),
		Limit:    params.Limit,
		Offset:   params.Offset,
	}
	if raw := c.Query("has_translation"); raw != "" {
		if value, err := strconv.ParseBool(strings.ToLower(raw)); err == nil {
			filter.HasTranslation = &value
		}
	}

	results, total, err := h.examples.List(c.Request.Context(), repository.UUID, filter)
	if err != nil {
		h.renderError(c, err)
		return
	}

	payloads := make([]gin.H, 0, len(results))
	for index := range results {
		payloads = append(payloads, examplePayload(&results[index]))
	}
	paginated(c, params, total, payloads)
}

type translateExamplePayload struct {
	OriginalExample uint                `json:"original_example"`
	Language        string              `json:"language"`
	Text            string              `json:"text"`
	Entities        []entitySpanPayload `json:"entities"`
}

func (h *httpHandler) handleTranslateExample(c *gin.Context) {
	var request translateExamplePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errs.NewNonFieldError("Invalid request body."))
		return
	}
	if request.OriginalExample == 0 {
		c.JSON(http.StatusBadRequest, errs.NewFieldError("original_example", "This field is required."))
		return
	}

	example, err := h.examples.ExampleByID(c.Request.Context(), request.OriginalExample)
	if err != nil {
		h.renderError(c, err)
		return
	}

	_, role, ok := h.visibleRepository(c, examples.RepositoryUUIDOfExample(example), true)
	if !ok {
		return
	}
	if !role.CanContribute() {
		c.JSON(http.StatusForbidden, gin.H{"detail": detailForbidden})
		return
	}

	translation, err := h.examples.Translate(
		c.Request.Context(),
		example,
		request.Language,
		request.Text,
		spansFromPayload(request.Entities),
	)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, translationPayload(translation))
}

func (h *httpHandler) handleGetTranslation(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	translation, err := h.examples.TranslationByID(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}

	repositoryUUID, err := h.examples.RepositoryUUIDOfTranslation(c.Request.Context(), translation)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if _, _, ok := h.visibleRepository(c, repositoryUUID, true); !ok {
		return
	}
	c.JSON(http.StatusOK, translationPayload(translation))
}

// visibleExample fetches the example behind the :id param and enforces the
// owning repository's visibility rule, returning the caller's role.
func (h *httpHandler) visibleExample(c *gin.Context) (*examples.Example, authorization.Role, bool) {
	id, ok := parseIDParam(c)
	if !ok {
		return nil, authorization.RoleNone, false
	}
	example, err := h.examples.ExampleByID(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return nil, authorization.RoleNone, false
	}
	_, role, ok := h.visibleRepository(c, examples.RepositoryUUIDOfExample(example), true)
	if !ok {
		return nil, authorization.RoleNone, false
	}
	return example, role, true
}

func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
		return 0, false
	}
	return uint(id), true
}

func examplePayload(example *examples.Example) gin.H {
	entities := make([]gin.H, 0, len(example.Entities))
	for _, entity := range example.Entities {
		entities = append(entities, gin.H{
			"start":  entity.Start,
			"end":    entity.End,
			"entity": entity.Label,
			"value":  entity.Value,
		})
	}
	translations := make([]string, 0, len(example.Translations))
	for _, translation := range example.Translations {
		translations = append(translations, translation.Language)
	}
	payload := gin.H{
		"id":              example.ID,
		"repository_uuid": example.Update.RepositoryUUID,
		"text":            example.Text,
		"intent":          example.Intent,
		"language":        example.Update.Language,
		"entities":        entities,
		"translations":    translations,
		"deleted_in":      example.DeletedInID,
		"created_at":      example.CreatedAt,
	}
	return payload
}

func translationPayload(translation *examples.TranslatedExample) gin.H {
	entities := make([]gin.H, 0, len(translation.Entities))
	for _, entity := range translation.Entities {
		entities = append(entities, gin.H{
			"start":  entity.Start,
			"end":    entity.End,
			"entity": entity.Label,
			"value":  entity.Value,
		})
	}
	return gin.H{
		"id":               translation.ID,
		"original_example": translation.ExampleID,
		"language":         translation.Language,
		"text":             translation.Text,
		"entities":         entities,
		"created_at":       translation.CreatedAt,
	}
}
