package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/config"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/version"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Quiz     *QuizHandler
	Question *QuestionHandler
	Taxonomy *TaxonomyHandler
	Repair   *RepairHandler
}

// NewRouter assembles the gin engine with observability middleware and all
// API routes.
func NewRouter(cfg *config.Config, logger *observability.Logger, h *Handlers) *gin.Engine {
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.GinMiddlewareWithErrorHandling(cfg.OpenTelemetry.ServiceName))
	router.Use(requestLogger(logger))
	if len(cfg.Server.CORSOrigins) > 0 {
		router.Use(corsMiddleware(cfg.Server.CORSOrigins))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    version.Version,
			"commit":     version.Commit,
			"build_time": version.BuildTime,
		})
	})

	v1 := router.Group("/v1")
	{
		quiz := v1.Group("/quiz")
		{
			quiz.GET("/count", h.Quiz.Count)
			quiz.POST("/sample", h.Quiz.Sample)
		}

		questions := v1.Group("/questions")
		{
			questions.POST("", h.Question.Create)
			questions.GET("/:id", h.Question.Get)
			questions.DELETE("/:id", h.Question.Delete)
			questions.POST("/:id/answer", h.Question.Answer)
			questions.POST("/:id/bookmark", h.Question.Bookmark)
		}

		taxonomy := v1.Group("/taxonomy")
		{
			taxonomy.GET("/themes", h.Taxonomy.ListThemes)
			taxonomy.POST("/themes", h.Taxonomy.CreateTheme)
			taxonomy.GET("/themes/:id/subthemes", h.Taxonomy.ListSubthemes)
			taxonomy.POST("/subthemes", h.Taxonomy.CreateSubtheme)
			taxonomy.GET("/subthemes/:id/groups", h.Taxonomy.ListGroups)
			taxonomy.POST("/groups", h.Taxonomy.CreateGroup)
		}

		admin := v1.Group("/admin")
		{
			admin.POST("/repair", h.Repair.Start)
			admin.GET("/repair/:id", h.Repair.Status)
			admin.POST("/repair/:id/resume", h.Repair.Resume)
		}
	}

	return router
}

// requestLogger logs each request with latency and status.
func requestLogger(logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn(c.Request.Context(), "Request failed", fields)
			return
		}
		logger.Debug(c.Request.Context(), "Request handled", fields)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
