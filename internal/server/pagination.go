package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

type pageParams struct {
	Limit  int
	Offset int
}

func (h *httpHandler) parsePageParams(c *gin.Context) pageParams {
	params := pageParams{Limit: h.pageSize}
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			if limit > maxPageSize {
				limit = maxPageSize
			}
			params.Limit = limit
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil && offset > 0 {
			params.Offset = offset
		}
	}
	return params
}

// paginated renders the {count, next, previous, results} envelope with
// limit/offset links rewritten against the request URL.
func paginated(c *gin.Context, params pageParams, count int64, results interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"count":    count,
		"next":     pageLink(c, params.Limit, params.Offset+params.Limit, int(count) > params.Offset+params.Limit),
		"previous": pageLink(c, params.Limit, params.Offset-params.Limit, params.Offset > 0),
		"results":  results,
	})
}

func pageLink(c *gin.Context, limit, offset int, present bool) interface{} {
	if !present {
		return nil
	}
	if offset < 0 {
		offset = 0
	}
	link := *c.Request.URL
	query := link.Query()
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	link.RawQuery = query.Encode()
	if c.Request.Host != "" && link.Host == "" {
		link.Host = c.Request.Host
		link.Scheme = "http"
		if c.Request.TLS != nil {
			link.Scheme = "https"
		}
	}
	return link.String()
}
