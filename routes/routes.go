package routes

import (
	"net/http"

	"immochat/middleware"
	chatsvc "immochat/pkg/chat"
	"immochat/pkg/realtime"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	authRoutes "immochat/routes/auth"
	chatRoutes "immochat/routes/chat"
	inboxRoutes "immochat/routes/inbox"
	websocketRoutes "immochat/routes/websocket"
)

func RegisterRoutes(r *gin.Engine, db *gorm.DB, svc *chatsvc.Service, bridge *realtime.Bridge) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "Go chat backend running"})
	})

	authRoutes.RegisterPublic(r, db)
	chatRoutes.Register(r, svc)
	websocketRoutes.Register(r, svc, bridge)

	protected := r.Group("/")
	protected.Use(middleware.AuthMiddleware())
	authRoutes.RegisterProtected(protected, db)
	inboxRoutes.Register(protected, svc)
}
