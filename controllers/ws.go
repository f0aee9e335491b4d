package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"immochat/middleware"
	"immochat/models"
	"immochat/pkg/chat"
	"immochat/pkg/realtime"
	"immochat/pkg/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS handled at HTTP level; allow WS here
		return true
	},
}

const (
	wsReadDeadline = 60 * time.Second
	wsReadLimit    = 64 << 10
	wsWriteWait    = 10 * time.Second
)

// wsPingPeriod must stay under wsReadDeadline: the sockets are long-lived
// and only the pong replies keep an idle connection's read deadline fresh.
var wsPingPeriod = 45 * time.Second

// startPing pings the peer on a ticker so an idle visitor or a quiet inbox
// does not hit the read deadline. WriteControl is safe alongside other
// writes. The returned stop releases the ticker goroutine.
func startPing(conn *websocket.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(wsPingPeriod)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// wsConn serializes writes: session callbacks and the read loop both push
// frames onto the same socket.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeJSON(v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteJSON(v)
}

type wsClientFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
}

// ChatWS drives one visitor's widget session over a websocket.
// Client protocol (JSON frames):
//
//	-> {type: "send", content: string}
//	<- {type: "history", conversation_id: string, messages: [...]}
//	<- {type: "message", message: {...}}
//	<- {type: "error", error: string}
//
// The conversation id comes from the client's stored identity via
// ?conversation_id=; a logged-in visitor adds ?token= to bind the thread to
// their account.
func ChatWS(svc *chat.Service, bridge *realtime.Bridge) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := strings.TrimSpace(c.Query("conversation_id"))
		if _, err := uuid.Parse(conversationID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid conversation_id"})
			return
		}
		var userID *uint
		if uid := middleware.CurrentUserID(c); uid != 0 {
			userID = &uid
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[ws] upgrade error: %v", err)
			return
		}
		defer conn.Close()
		sock := &wsConn{conn: conn}

		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		})
		defer startPing(conn)()

		sess, err := session.OpenWidget(c.Request.Context(), svc, bridge, conversationID, userID, func(m models.Message) {
			sock.writeJSON(gin.H{"type": "message", "message": m})
		})
		if err != nil {
			sock.writeJSON(gin.H{"type": "error", "error": "conversation unavailable"})
			return
		}
		defer sess.Close()

		sock.writeJSON(gin.H{
			"type":            "history",
			"conversation_id": conversationID,
			"messages":        sess.Messages(),
		})

		guardKey := "guest-" + conversationID
		if userID != nil {
			guardKey = "user-" + c.GetString(middleware.ContextUserIDKey)
		}

		for {
			if err := conn.SetReadDeadline(time.Now().Add(wsReadDeadline)); err != nil {
				return
			}
			mt, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}
			var frame wsClientFrame
			if err := json.Unmarshal(raw, &frame); err != nil || strings.ToLower(frame.Type) != "send" {
				sock.writeJSON(gin.H{"type": "error", "error": "invalid frame"})
				continue
			}
			if !middleware.DuplicateGuard(guardKey, frame.Content) {
				sock.writeJSON(gin.H{"type": "error", "error": "duplicate message"})
				continue
			}
			release := middleware.AcquireSendSlot(guardKey)
			_, err = sess.Send(c.Request.Context(), frame.Content)
			release()
			if err != nil {
				// the send did not land; forget the text so the retry passes
				middleware.ClearDuplicate(guardKey)
			}
			if errors.Is(err, chat.ErrEmptyContent) {
				sock.writeJSON(gin.H{"type": "error", "error": "message is required"})
			} else if err != nil {
				sock.writeJSON(gin.H{"type": "error", "error": "failed to save message"})
			}
		}
	}
}

// InboxWS drives the back-office inbox over a websocket. Requires an admin
// token (gated by middleware.WSAuth).
// Client protocol (JSON frames):
//
//	-> {type: "open", conversation_id: string}
//	-> {type: "send", content: string}
//	<- {type: "inbox", rows: [...]}
//	<- {type: "thread", conversation_id: string, messages: [...]}
//	<- {type: "message", message: {...}}
//	<- {type: "row", row: {...}}
//	<- {type: "notification", message: {...}}
//	<- {type: "error", error: string}
func InboxWS(svc *chat.Service, bridge *realtime.Bridge) gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := middleware.CurrentUserID(c)
		if adminID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "invalid subject in token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[ws] upgrade error: %v", err)
			return
		}
		defer conn.Close()
		sock := &wsConn{conn: conn}

		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		})
		defer startPing(conn)()

		sess, err := session.OpenInbox(c.Request.Context(), svc, bridge, adminID, session.InboxEvents{
			ThreadMessage: func(m models.Message) {
				sock.writeJSON(gin.H{"type": "message", "message": m})
			},
			RowChanged: func(row chat.InboxRow) {
				sock.writeJSON(gin.H{"type": "row", "row": row})
			},
			Notification: func(m models.Message) {
				sock.writeJSON(gin.H{"type": "notification", "message": m})
			},
		})
		if err != nil {
			sock.writeJSON(gin.H{"type": "error", "error": "failed to load inbox"})
			return
		}
		defer sess.Close()

		sock.writeJSON(gin.H{"type": "inbox", "rows": sess.Rows()})

		for {
			if err := conn.SetReadDeadline(time.Now().Add(wsReadDeadline)); err != nil {
				return
			}
			mt, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}
			var frame wsClientFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				sock.writeJSON(gin.H{"type": "error", "error": "invalid frame"})
				continue
			}
			switch strings.ToLower(frame.Type) {
			case "open":
				msgs, err := sess.Open(c.Request.Context(), frame.ConversationID)
				if err != nil {
					sock.writeJSON(gin.H{"type": "error", "error": "failed to load messages"})
					continue
				}
				sock.writeJSON(gin.H{
					"type":            "thread",
					"conversation_id": frame.ConversationID,
					"messages":        msgs,
				})
			case "send":
				_, err := sess.Send(c.Request.Context(), frame.Content)
				if errors.Is(err, chat.ErrEmptyContent) {
					sock.writeJSON(gin.H{"type": "error", "error": "message is required"})
				} else if errors.Is(err, chat.ErrNotFound) {
					sock.writeJSON(gin.H{"type": "error", "error": "no conversation open"})
				} else if err != nil {
					sock.writeJSON(gin.H{"type": "error", "error": "failed to save message"})
				}
			default:
				sock.writeJSON(gin.H{"type": "error", "error": "invalid frame"})
			}
		}
	}
}
