package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tiny-errors/internal/analytics"
	"tiny-errors/internal/auth"
	"tiny-errors/internal/httpx"
	"tiny-errors/internal/model"
	"tiny-errors/internal/store"
)

// similarLimit bounds the occurrences returned alongside a detail view.
const similarLimit = 5

// QueryHandler serves the read-only endpoints.
type QueryHandler struct {
	store  *store.Store
	authz  Authorizer
	trends *analytics.TrendAnalyzer
	rage   *analytics.RageClickAggregator
	log    zerolog.Logger
}

// NewQueryHandler builds a QueryHandler.
func NewQueryHandler(st *store.Store, authz Authorizer, trends *analytics.TrendAnalyzer, rage *analytics.RageClickAggregator, log zerolog.Logger) *QueryHandler {
	return &QueryHandler{store: st, authz: authz, trends: trends, rage: rage, log: log}
}

// Register mounts the query routes.
func (h *QueryHandler) Register(r gin.IRouter) {
	r.GET("/api/projects/me", h.me)
	r.GET("/api/projects/:projectId/errors", h.listErrors)
	r.GET("/api/errors/:errorId", h.errorDetail)
	r.GET("/api/projects/:projectId/error-groups", h.listGroups)
	r.GET("/api/projects/:projectId/error-groups/:fingerprint", h.groupDetail)
	r.GET("/api/projects/:projectId/trends", h.getTrends)
	r.GET("/api/projects/:projectId/rage-clicks", h.getRageClicks)
}

// authorize checks the caller's key against projectID and writes the error
// response when it fails.
func (h *QueryHandler) authorize(c *gin.Context, projectID string) bool {
	apiKey := c.GetHeader(httpx.APIKeyHeader)
	if apiKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing API key"})
		return false
	}
	ok, err := h.authz.VerifyProjectAccess(c.Request.Context(), apiKey, projectID)
	if err != nil {
		h.log.Error().Err(err).Str("project_id", projectID).Msg("verify project access")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify access"})
		return false
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return false
	}
	return true
}

func (h *QueryHandler) fail(c *gin.Context, err error, msg string) {
	h.log.Error().Err(err).
		Str("path", c.FullPath()).
		Str("project_id", c.Param("projectId")).
		Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func (h *QueryHandler) me(c *gin.Context) {
	apiKey := c.GetHeader(httpx.APIKeyHeader)
	if apiKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing API key"})
		return
	}
	ctx := c.Request.Context()
	creds, err := h.authz.Resolve(ctx, apiKey)
	if errors.Is(err, auth.ErrProjectNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if err != nil {
		h.fail(c, err, "Failed to fetch project")
		return
	}
	project, err := h.store.Projects.FindByID(ctx, creds.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if err != nil {
		h.fail(c, err, "Failed to fetch project")
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *QueryHandler) listErrors(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.authorize(c, projectID) {
		return
	}
	limit, offset := httpx.Paging(c)
	ctx := c.Request.Context()
	data, err := h.store.Occurrences.ListByProject(ctx, projectID, limit, offset)
	if err != nil {
		h.fail(c, err, "Failed to fetch errors")
		return
	}
	total, err := h.store.Occurrences.CountByProject(ctx, projectID)
	if err != nil {
		h.fail(c, err, "Failed to fetch errors")
		return
	}
	c.JSON(http.StatusOK, model.Page[model.ErrorData]{Data: nonNil(data), Total: total, Limit: limit, Offset: offset})
}

// errorDetail answers 404 both for unknown ids and for occurrences owned by
// another project, so a key learns nothing about ids outside its project.
func (h *QueryHandler) errorDetail(c *gin.Context) {
	apiKey := c.GetHeader(httpx.APIKeyHeader)
	if apiKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing API key"})
		return
	}
	ctx := c.Request.Context()
	creds, err := h.authz.Resolve(ctx, apiKey)
	if errors.Is(err, auth.ErrProjectNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if err != nil {
		h.fail(c, err, "Failed to fetch error")
		return
	}
	occ, err := h.store.Occurrences.FindByID(ctx, c.Param("errorId"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && occ.ProjectID != creds.ProjectID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Error not found"})
		return
	}
	if err != nil {
		h.fail(c, err, "Failed to fetch error")
		return
	}
	detail, err := h.detail(c, occ.ProjectID, occ.Fingerprint)
	if err != nil {
		h.fail(c, err, "Failed to fetch error")
		return
	}
	detail.Error = occ
	c.JSON(http.StatusOK, detail)
}

func (h *QueryHandler) groupDetail(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.authorize(c, projectID) {
		return
	}
	detail, err := h.detail(c, projectID, c.Param("fingerprint"))
	if err != nil {
		h.fail(c, err, "Failed to fetch error group detail")
		return
	}
	if len(detail.Similar) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Error group not found"})
		return
	}
	first := detail.Similar[0]
	detail.Error = &first
	detail.Similar = detail.Similar[1:]
	c.JSON(http.StatusOK, detail)
}

// detail loads the most recent occurrences of a group and the group itself.
// A missing group is reported as a nil Group.
func (h *QueryHandler) detail(c *gin.Context, projectID, fp string) (model.ErrorDetail, error) {
	ctx := c.Request.Context()
	recent, err := h.store.Occurrences.FindByFingerprint(ctx, projectID, fp, similarLimit)
	if err != nil {
		return model.ErrorDetail{}, err
	}
	group, err := h.store.Groups.Find(ctx, projectID, fp)
	if errors.Is(err, store.ErrNotFound) {
		group, err = nil, nil
	}
	if err != nil {
		return model.ErrorDetail{}, err
	}
	return model.ErrorDetail{Similar: nonNil(recent), Group: group}, nil
}

func (h *QueryHandler) listGroups(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.authorize(c, projectID) {
		return
	}
	limit, offset := httpx.Paging(c)
	ctx := c.Request.Context()
	data, err := h.store.Groups.ListByProject(ctx, projectID, limit, offset)
	if err != nil {
		h.fail(c, err, "Failed to fetch error groups")
		return
	}
	total, err := h.store.Groups.CountByProject(ctx, projectID)
	if err != nil {
		h.fail(c, err, "Failed to fetch error groups")
		return
	}
	c.JSON(http.StatusOK, model.Page[model.ErrorGroup]{Data: nonNil(data), Total: total, Limit: limit, Offset: offset})
}

func (h *QueryHandler) getTrends(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.authorize(c, projectID) {
		return
	}
	trends, err := h.trends.Analyze(c.Request.Context(), projectID)
	if err != nil {
		h.fail(c, err, "Failed to fetch trends")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": nonNil(trends)})
}

func (h *QueryHandler) getRageClicks(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.authorize(c, projectID) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.rage.Top(c.Request.Context(), projectID)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
