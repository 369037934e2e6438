package presence

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"annothub/internal/auth"
	"annothub/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // OK for demo; restrict in production
	},
}

// WSHandler upgrades the connection and runs the presence session. The
// client authenticates with a ?token= query parameter (browser websocket
// clients cannot set headers) and must send join_document first.
func WSHandler(hub *Hub, tokens auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := tokens.Parse(strings.TrimSpace(c.Query("token")))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID := claims.UserID

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		documentID, ok := awaitJoin(ws)
		if !ok {
			_ = ws.Close()
			return
		}

		connectionID := hub.Join(documentID, userID, ws)
		log.Printf("[presence] %s joined %s (%s)", userID, documentID, connectionID)

		readLoop(hub, ws, documentID, userID)

		if left := hub.Leave(documentID, ws); left != "" {
			hub.Broadcast(documentID, NewEnvelope(TypeUserLeft, left, nil))
			log.Printf("[presence] %s left %s", left, documentID)
		}
	}
}

// awaitJoin reads frames until a well-formed join_document arrives.
// Malformed frames are dropped, other types rejected with an error
// envelope.
func awaitJoin(ws *websocket.Conn) (string, bool) {
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return "", false
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			log.Printf("[presence] dropping malformed frame: %v", err)
			continue
		}
		if env.Type != TypeJoinDocument {
			_ = ws.WriteJSON(NewEnvelope(TypeError, "", ErrorData{Message: "expected join_document"}))
			continue
		}

		var join JoinDocumentData
		if err := json.Unmarshal(env.Data, &join); err != nil || strings.TrimSpace(join.DocumentID) == "" {
			_ = ws.WriteJSON(NewEnvelope(TypeError, "", ErrorData{Message: "documentId required"}))
			continue
		}
		return join.DocumentID, true
	}
}

func readLoop(hub *Hub, ws *websocket.Conn, documentID, userID string) {
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			log.Printf("[presence] dropping malformed frame from %s: %v", userID, err)
			continue
		}

		// The sender's identity always comes from the authenticated
		// session, never from the frame.
		switch env.Type {
		case TypeAnnotationCreated, TypeAnnotationUpdated, TypeAnnotationDeleted:
			out := NewEnvelope(env.Type, userID, nil)
			out.Data = env.Data
			hub.Broadcast(documentID, out)

		case TypeCursorMove:
			var cursor CursorMoveData
			if err := json.Unmarshal(env.Data, &cursor); err != nil {
				log.Printf("[presence] bad cursor_move from %s: %v", userID, err)
				continue
			}
			hub.UpdateCursor(documentID, ws, models.Cursor{Page: cursor.Page, X: cursor.X, Y: cursor.Y})
			out := NewEnvelope(env.Type, userID, nil)
			out.Data = env.Data
			hub.Broadcast(documentID, out)

		case TypeUserTyping:
			var typing UserTypingData
			if err := json.Unmarshal(env.Data, &typing); err != nil {
				log.Printf("[presence] bad user_typing from %s: %v", userID, err)
				continue
			}
			hub.UpdateTyping(documentID, ws, typing.IsTyping)
			out := NewEnvelope(env.Type, userID, nil)
			out.Data = env.Data
			hub.Broadcast(documentID, out)

		default:
			log.Printf("[presence] ignoring message type %q from %s", env.Type, userID)
		}
	}
}
