package controllers

import (
	"errors"
	"net/http"

	"immochat/middleware"
	"immochat/models"
	"immochat/pkg/chat"

	"github.com/gin-gonic/gin"
)

// ListConversations returns the inbox rows ranked by recency, each with its
// last message, display name and unread badge.
func ListConversations(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := svc.Inbox(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// OpenConversation loads one thread and acknowledges its unread messages.
func OpenConversation(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversation_id")
		msgs, err := svc.OpenConversation(c.Request.Context(), conversationID)
		if errors.Is(err, chat.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"msg": "conversation not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to load messages"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"conversation_id": conversationID,
			"messages":        msgs,
		})
	}
}

// ReplyConversation appends an admin reply into an existing conversation.
func ReplyConversation(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversation_id")
		var body struct {
			Content string `json:"content"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request"})
			return
		}

		adminID := middleware.CurrentUserID(c)
		if adminID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "invalid subject in token"})
			return
		}
		if _, err := svc.Row(c.Request.Context(), conversationID); errors.Is(err, chat.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"msg": "conversation not found"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}

		msg, err := svc.Send(c.Request.Context(), conversationID, body.Content, models.RoleAdmin, &adminID)
		switch {
		case errors.Is(err, chat.ErrEmptyContent):
			c.JSON(http.StatusBadRequest, gin.H{"msg": "message is required"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to save message"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": msg})
	}
}
