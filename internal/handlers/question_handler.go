package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/services"
)

// QuestionHandler handles question CRUD and per-user fact requests
type QuestionHandler struct {
	questions services.QuestionServiceInterface
	facts     services.UserFactServiceInterface
	logger    *observability.Logger
}

// NewQuestionHandler creates a new QuestionHandler
func NewQuestionHandler(questions services.QuestionServiceInterface, facts services.UserFactServiceInterface, logger *observability.Logger) *QuestionHandler {
	return &QuestionHandler{questions: questions, facts: facts, logger: logger}
}

// CreateQuestionRequest is the body of POST /v1/questions.
type CreateQuestionRequest struct {
	ThemeID    string `json:"theme_id" binding:"required"`
	SubthemeID string `json:"subtheme_id"`
	GroupID    string `json:"group_id"`
	Statement  string `json:"statement" binding:"required"`
}

// AnswerRequest is the body of POST /v1/questions/:id/answer.
type AnswerRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Correct *bool  `json:"correct" binding:"required"`
}

// BookmarkRequest is the body of POST /v1/questions/:id/bookmark.
type BookmarkRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Create persists a new question
func (h *QuestionHandler) Create(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "create_question")
	defer observability.FinishSpan(span, nil)

	var req CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleValidationError(c, "body", "", err.Error())
		return
	}

	saved, err := h.questions.SaveQuestion(ctx, &models.Question{
		ThemeID:    req.ThemeID,
		SubthemeID: req.SubthemeID,
		GroupID:    req.GroupID,
		Statement:  req.Statement,
	})
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

// Get returns one question by id
func (h *QuestionHandler) Get(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "get_question",
		observability.AttributeQuestionID(c.Param("id")))
	defer observability.FinishSpan(span, nil)

	q, err := h.questions.GetQuestionByID(ctx, c.Param("id"))
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// Delete removes a question and all of its index entries
func (h *QuestionHandler) Delete(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "delete_question",
		observability.AttributeQuestionID(c.Param("id")))
	defer observability.FinishSpan(span, nil)

	if err := h.questions.DeleteQuestion(ctx, c.Param("id")); err != nil {
		HandleAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Answer records an answer outcome for a user
func (h *QuestionHandler) Answer(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "answer_question",
		observability.AttributeQuestionID(c.Param("id")))
	defer observability.FinishSpan(span, nil)

	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleValidationError(c, "body", "", err.Error())
		return
	}

	if err := h.facts.MarkAnswered(ctx, req.UserID, c.Param("id"), *req.Correct); err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// Bookmark toggles a user's bookmark on a question
func (h *QuestionHandler) Bookmark(c *gin.Context) {
	ctx, span := observability.TraceHandlerFunction(c.Request.Context(), "bookmark_question",
		observability.AttributeQuestionID(c.Param("id")))
	defer observability.FinishSpan(span, nil)

	var req BookmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleValidationError(c, "body", "", err.Error())
		return
	}

	bookmarked, err := h.facts.ToggleBookmark(ctx, req.UserID, c.Param("id"))
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookmarked": bookmarked})
}
