package inbox

import (
	"immochat/controllers"
	"immochat/middleware"
	chatsvc "immochat/pkg/chat"

	"github.com/gin-gonic/gin"
)

// Register registers the back-office inbox routes (admin only).
func Register(g *gin.RouterGroup, svc *chatsvc.Service) {
	adm := g.Group("/admin")
	adm.Use(middleware.AdminOnly())
	adm.GET("/conversations", controllers.ListConversations(svc))
	adm.GET("/conversations/:conversation_id/messages", controllers.OpenConversation(svc))
	adm.POST("/conversations/:conversation_id/messages", middleware.RateLimit(), controllers.ReplyConversation(svc))
}
