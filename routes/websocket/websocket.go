package websocket

import (
	"immochat/controllers"
	"immochat/middleware"
	chatsvc "immochat/pkg/chat"
	"immochat/pkg/realtime"

	"github.com/gin-gonic/gin"
)

func Register(r *gin.Engine, svc *chatsvc.Service, bridge *realtime.Bridge) {
	r.GET("/ws/chat", middleware.WSAuth(false), middleware.RateLimit(), controllers.ChatWS(svc, bridge))
	r.GET("/ws/inbox", middleware.WSAuth(true), controllers.InboxWS(svc, bridge))
}
