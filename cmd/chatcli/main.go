package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"immochat/models"
	"immochat/pkg/identity"

	"github.com/gorilla/websocket"
)

// chatcli is a terminal rendition of the visitor widget: it resolves the
// stored conversation id (minting one on first run), connects the widget
// websocket and relays stdin lines as messages.
//
//	go run ./cmd/chatcli -server ws://localhost:5000
func main() {
	server := flag.String("server", "ws://localhost:5000", "server base URL (ws:// or wss://)")
	stateDir := flag.String("state-dir", defaultStateDir(), "directory holding the conversation identity")
	token := flag.String("token", "", "optional access token for a logged-in visitor")
	flag.Parse()

	resolver := identity.NewResolver(identity.NewFileStorage(*stateDir))
	conversationID := resolver.ConversationID()

	u, err := url.Parse(*server)
	if err != nil {
		log.Fatalf("invalid server URL: %v", err)
	}
	u.Path = "/ws/chat"
	q := u.Query()
	q.Set("conversation_id", conversationID)
	if *token != "" {
		q.Set("token", *token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer conn.Close()
	fmt.Printf("connected, conversation %s\n", conversationID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame struct {
				Type     string           `json:"type"`
				Error    string           `json:"error"`
				Message  *models.Message  `json:"message"`
				Messages []models.Message `json:"messages"`
			}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			switch frame.Type {
			case "history":
				for _, m := range frame.Messages {
					printMessage(m)
				}
			case "message":
				if frame.Message != nil {
					printMessage(*frame.Message)
				}
			case "error":
				fmt.Printf("! %s\n", frame.Error)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" {
			break
		}
		payload, _ := json.Marshal(map[string]string{"type": "send", "content": text})
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Fatalf("send failed: %v", err)
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	<-done
}

func printMessage(m models.Message) {
	who := m.SenderRole
	if who == models.RoleAdmin {
		who = "agence"
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04"), who, m.Content)
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".immochat"
	}
	return filepath.Join(home, ".immochat")
}
