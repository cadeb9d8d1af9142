package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/config"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/query"
)

// QuizHandler serves count and sample requests over the aggregate index
type QuizHandler struct {
	engine *query.Engine
	cfg    *config.Config
	logger *observability.Logger
}

// NewQuizHandler creates a new QuizHandler
func NewQuizHandler(engine *query.Engine, cfg *config.Config, logger *observability.Logger) *QuizHandler {
	return &QuizHandler{engine: engine, cfg: cfg, logger: logger}
}

// CountQuery binds the query parameters of GET /v1/quiz/count.
// Taxonomy id lists are comma separated.
type CountQuery struct {
	Themes    string `form:"themes"`
	Subthemes string `form:"subthemes"`
	Groups    string `form:"groups"`
	Mode      string `form:"mode"`
	UserID    string `form:"user_id"`
}

// SampleRequest is the body of POST /v1/quiz/sample.
type SampleRequest struct {
	Themes    []string `json:"themes"`
	Subthemes []string `json:"subthemes"`
	Groups    []string `json:"groups"`
	Mode      string   `json:"mode"`
	UserID    string   `json:"user_id"`
	Size      int      `json:"size" binding:"required,min=1"`
}

// Count returns the number of questions matching a scope and filter mode
func (h *QuizHandler) Count(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "count")
	defer observability.FinishSpan(span, nil)

	var req CountQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		HandleValidationError(c, "query", c.Request.URL.RawQuery, err.Error())
		return
	}

	mode := models.FilterMode(req.Mode)
	if req.Mode == "" {
		mode = models.FilterAll
	}
	if !mode.Valid() {
		HandleValidationError(c, "mode", req.Mode, "must be one of all, unanswered, incorrect, bookmarked")
		return
	}
	span.SetAttributes(
		observability.AttributeFilterMode(string(mode)),
		observability.AttributeUserID(req.UserID),
	)

	sel := models.ScopeSelection{
		ThemeIDs:    splitIDs(req.Themes),
		SubthemeIDs: splitIDs(req.Subthemes),
		GroupIDs:    splitIDs(req.Groups),
	}

	count, err := h.engine.Count(ctx, sel, mode, req.UserID)
	if err != nil {
		h.logger.Error(ctx, "Count failed", err, map[string]interface{}{"mode": string(mode)})
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count, "mode": string(mode)})
}

// Sample returns up to size distinct question ids from a scope
func (h *QuizHandler) Sample(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "sample")
	defer observability.FinishSpan(span, nil)

	var req SampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleValidationError(c, "body", "", err.Error())
		return
	}

	mode := models.FilterMode(req.Mode)
	if req.Mode == "" {
		mode = models.FilterAll
	}
	if !mode.Valid() {
		HandleValidationError(c, "mode", req.Mode, "must be one of all, unanswered, incorrect, bookmarked")
		return
	}

	if max := h.cfg.Server.MaxSampleSize; max > 0 && req.Size > max {
		HandleValidationError(c, "size", req.Size, "exceeds the configured maximum")
		return
	}
	span.SetAttributes(
		observability.AttributeFilterMode(string(mode)),
		observability.AttributeSampleSize(req.Size),
	)

	sel := models.ScopeSelection{
		ThemeIDs:    req.Themes,
		SubthemeIDs: req.Subthemes,
		GroupIDs:    req.Groups,
	}

	ids, err := h.engine.Sample(ctx, sel, mode, req.UserID, req.Size)
	if err != nil {
		h.logger.Error(ctx, "Sample failed", err, map[string]interface{}{"mode": string(mode), "size": req.Size})
		HandleAppError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	// Fewer ids than requested is a normal outcome for small pools.
	c.JSON(http.StatusOK, gin.H{
		"question_ids": ids,
		"requested":    req.Size,
		"returned":     len(ids),
	})
}

func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
