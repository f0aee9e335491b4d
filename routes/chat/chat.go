package chat

import (
	"immochat/controllers"
	"immochat/middleware"
	chatsvc "immochat/pkg/chat"

	"github.com/gin-gonic/gin"
)

// Register registers the public widget routes. OptionalAuth lets logged-in
// visitors bind the conversation to their account; anonymous traffic passes
// through untouched.
func Register(r *gin.Engine, svc *chatsvc.Service) {
	g := r.Group("/chat")
	g.Use(middleware.OptionalAuth())
	g.GET("/history", controllers.GetHistory(svc))
	g.POST("/messages", middleware.RateLimit(), controllers.PostMessage(svc))
}
