package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/services"
)

// TaxonomyHandler handles taxonomy tree requests
type TaxonomyHandler struct {
	taxonomy services.TaxonomyServiceInterface
	logger   *observability.Logger
}

// NewTaxonomyHandler creates a new TaxonomyHandler
func NewTaxonomyHandler(taxonomy services.TaxonomyServiceInterface, logger *observability.Logger) *TaxonomyHandler {
	return &TaxonomyHandler{taxonomy: taxonomy, logger: logger}
}

type createNodeRequest struct {
	Name     string `json:"name" binding:"required"`
	ParentID string `json:"parent_id"`
}

// CreateTheme creates a new theme
func (h *TaxonomyHandler) CreateTheme(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "create_theme")
	defer observability.FinishSpan(span, nil)

	var req createNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleValidationError(c, "body", "", err.Error())
		return
	}

	theme, err := h.taxonomy.CreateTheme(ctx, req.Name)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, theme)
}

// CreateSubtheme creates a subtheme under a theme
func (h *TaxonomyHandler) CreateSubtheme(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "create_subtheme")
	defer observability.FinishSpan(span, nil)

	var req createNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleValidationError(c, "body", "", err.Error())
		return
	}
	if req.ParentID == "" {
		HandleValidationError(c, "parent_id", "", "theme id is required")
		return
	}

	subtheme, err := h.taxonomy.CreateSubtheme(ctx, req.ParentID, req.Name)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, subtheme)
}

// CreateGroup creates a question group under a subtheme
func (h *TaxonomyHandler) CreateGroup(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "create_group")
	defer observability.FinishSpan(span, nil)

	var req createNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleValidationError(c, "body", "", err.Error())
		return
	}
	if req.ParentID == "" {
		HandleValidationError(c, "parent_id", "", "subtheme id is required")
		return
	}

	group, err := h.taxonomy.CreateGroup(ctx, req.ParentID, req.Name)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

// ListThemes returns all themes
func (h *TaxonomyHandler) ListThemes(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "list_themes")
	defer observability.FinishSpan(span, nil)

	themes, err := h.taxonomy.GetThemes(ctx)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"themes": themes})
}

// ListSubthemes returns the subthemes of a theme
func (h *TaxonomyHandler) ListSubthemes(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "list_subthemes")
	defer observability.FinishSpan(span, nil)

	subthemes, err := h.taxonomy.GetSubthemesByTheme(ctx, c.Param("id"))
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subthemes": subthemes})
}

// ListGroups returns the groups of a subtheme
func (h *TaxonomyHandler) ListGroups(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "list_groups")
	defer observability.FinishSpan(span, nil)

	groups, err := h.taxonomy.GetGroupsBySubtheme(ctx, c.Param("id"))
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}
