package controllers

import (
	"errors"
	"net/http"
	"strings"

	"immochat/middleware"
	"immochat/models"
	"immochat/pkg/chat"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// widgetSender resolves who is talking: a logged-in visitor keeps their
// account id, everyone else is a guest tied to the conversation id.
func widgetSender(c *gin.Context, conversationID string) (role string, senderID *uint, guardKey string) {
	if uid := middleware.CurrentUserID(c); uid != 0 {
		return models.RoleUser, &uid, "user-" + strings.TrimSpace(c.GetString(middleware.ContextUserIDKey))
	}
	return models.RoleGuest, nil, "guest-" + conversationID
}

// GetHistory returns the widget thread in chronological order. Opening the
// widget ensures the conversation first so a fresh id starts empty instead
// of erroring.
func GetHistory(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := strings.TrimSpace(c.Query("conversation_id"))
		if _, err := uuid.Parse(conversationID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid conversation_id"})
			return
		}

		_, senderID, _ := widgetSender(c, conversationID)
		if err := svc.Ensure(c.Request.Context(), conversationID, senderID); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"msg": "conversation unavailable"})
			return
		}
		msgs, err := svc.History(c.Request.Context(), conversationID)
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

// PostMessage appends one widget message. The confirmed row comes back in
// the response; subscribers get the same row over the bridge.
func PostMessage(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			ConversationID string `json:"conversation_id"`
			Content        string `json:"content"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request"})
			return
		}
		if _, err := uuid.Parse(strings.TrimSpace(body.ConversationID)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid conversation_id"})
			return
		}

		role, senderID, guardKey := widgetSender(c, body.ConversationID)
		if !middleware.DuplicateGuard(guardKey, body.Content) {
			c.JSON(http.StatusConflict, gin.H{"msg": "duplicate message"})
			return
		}
		release := middleware.AcquireSendSlot(guardKey)
		defer release()

		msg, err := svc.Send(c.Request.Context(), strings.TrimSpace(body.ConversationID), body.Content, role, senderID)
		if err != nil {
			// the send did not land; forget the text so the retry passes
			middleware.ClearDuplicate(guardKey)
		}
		switch {
		case errors.Is(err, chat.ErrEmptyContent):
			c.JSON(http.StatusBadRequest, gin.H{"msg": "message is required"})
			return
		case errors.Is(err, chat.ErrConversationNotReady):
			c.JSON(http.StatusServiceUnavailable, gin.H{"msg": "conversation unavailable"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to save message"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"message": msg})
	}
}
