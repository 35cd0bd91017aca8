package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/codenamespivey12/MojoCode/internal/auth"
	"github.com/codenamespivey12/MojoCode/internal/models"
	"github.com/codenamespivey12/MojoCode/internal/service/conversation"
)

// Handler wires HTTP routes to the conversation service.
type Handler struct {
	conversations *conversation.Service
	log           zerolog.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(svc *conversation.Service, log zerolog.Logger) *Handler {
	return &Handler{conversations: svc, log: log}
}

func (h *Handler) authorizedUserID(c *gin.Context) (string, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", false
	}
	return userID, true
}

// writeError maps service errors onto responses. Store failures are logged
// and reported without detail.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case conversation.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, conversation.ErrConversationNotFound):
		notFound(c)
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": conversation.ErrConversationNotFound.Error()})
}

// bindOptionalJSON accepts an empty body as the zero value.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

func (h *Handler) listConversations(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	limitParam, hasLimit := c.GetQuery("limit")
	cursor, hasCursor := c.GetQuery("cursor")
	if !hasLimit && !hasCursor {
		convs, err := h.conversations.GetUserConversations(c.Request.Context(), userID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": convs})
		return
	}

	limit := 0
	if hasLimit {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	page, err := h.conversations.ListConversations(c.Request.Context(), userID, cursor, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type createConversationRequest struct {
	Title    string          `json:"title"`
	Metadata models.Metadata `json:"metadata"`
}

func (h *Handler) createConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req createConversationRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	conv, err := h.conversations.CreateConversation(c.Request.Context(), userID, req.Title, req.Metadata)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) getConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	conv, found, err := h.conversations.GetConversationWithMessages(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) updateConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}
	conv, found, err := h.conversations.UpdateConversationTitle(c.Request.Context(), c.Param("id"), userID, req.Title)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) deleteConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	deleted, err := h.conversations.DeleteConversation(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !deleted {
		notFound(c)
		return
	}
	c.Status(http.StatusNoContent)
}

type addMessageRequest struct {
	Role     models.Role     `json:"role"`
	Content  string          `json:"content"`
	Metadata models.Metadata `json:"metadata"`
}

func (h *Handler) addMessage(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req addMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	msg, found, err := h.conversations.AppendMessage(c.Request.Context(), c.Param("id"), userID, req.Role, req.Content, req.Metadata)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		notFound(c)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) getStats(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	stats, err := h.conversations.GetUserStats(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
