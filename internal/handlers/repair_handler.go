package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/repair"
)

// RepairHandler exposes the consistency repair workflow to operators
type RepairHandler struct {
	workflow *repair.Workflow
	logger   *observability.Logger
}

// NewRepairHandler creates a new RepairHandler
func NewRepairHandler(workflow *repair.Workflow, logger *observability.Logger) *RepairHandler {
	return &RepairHandler{workflow: workflow, logger: logger}
}

// Start kicks off a background repair run
func (h *RepairHandler) Start(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "start_repair")
	defer observability.FinishSpan(span, nil)

	runID, err := h.workflow.Start(ctx)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	span.SetAttributes(observability.AttributeRepairRun(runID))
	h.logger.Info(ctx, "Repair run started", map[string]interface{}{"run_id": runID})
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

// Status returns the persisted progress of a repair run
func (h *RepairHandler) Status(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "repair_status",
		observability.AttributeRepairRun(c.Param("id")))
	defer observability.FinishSpan(span, nil)

	st, err := h.workflow.GetStatus(ctx, c.Param("id"))
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Resume continues an interrupted repair run from its last checkpoint
func (h *RepairHandler) Resume(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "resume_repair",
		observability.AttributeRepairRun(c.Param("id")))
	defer observability.FinishSpan(span, nil)

	if err := h.workflow.Resume(ctx, c.Param("id")); err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": c.Param("id")})
}
